package exchange

import (
	"context"
	"errors"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrInsufficientFunds 表示账户余额不足以提交该委托。
	ErrInsufficientFunds = errors.New("exchange: insufficient funds")
	// ErrInvalidOrder 表示委托参数被交易所拒绝。
	ErrInvalidOrder = errors.New("exchange: invalid order")
	// ErrConnectivity 表示网络层故障。
	ErrConnectivity = errors.New("exchange: connectivity failure")
	// ErrGatewayTimeout 表示调用超出了配置的时限。
	ErrGatewayTimeout = errors.New("exchange: gateway timeout")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange: on maintenance")
)

// 机器可读的拒绝原因，写入 TradeResult.Reason。
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonInvalidOrder      = "invalid_order"
	ReasonConnectivity      = "connectivity"
	ReasonGatewayTimeout    = "gateway_timeout"
)

// Reason 将网关错误映射为机器可读原因串。
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrInvalidOrder):
		return ReasonInvalidOrder
	case errors.Is(err, ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonGatewayTimeout
	default:
		return ReasonConnectivity
	}
}

// IsRetryable 判断行情类错误是否可重试。下单错误永不重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
