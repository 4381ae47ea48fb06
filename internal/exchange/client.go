package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"rl-trader/internal/config"
)

// Client 通过 ccxt 实现 Gateway。行情读取带重试，下单只提交一次：
// 对模糊的交易所响应盲目重发会造成重复成交。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binance
	symbol   string

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ Gateway = (*Client)(nil)

// NewClient 构造 Binance 现货客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Symbol == "" {
		return nil, errors.New("exchange: symbol 不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		symbol:   cfg.Symbol,
	}, nil
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// GetBalance 返回指定资产的可用余额。
func (c *Client) GetBalance(ctx context.Context, asset string) (float64, error) {
	var amount float64

	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		if balances.Free != nil {
			if free, ok := balances.Free[asset]; ok && free != nil {
				amount = *free
				return nil
			}
		}
		if balances.Total != nil {
			if total, ok := balances.Total[asset]; ok && total != nil {
				amount = *total
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return amount, nil
}

// PlaceOrder 提交市价单。只尝试一次，失败原样上报。
func (c *Client) PlaceOrder(ctx context.Context, symbol, side, orderType string, size float64) (Fill, error) {
	if orderType != OrderTypeMarket {
		return Fill{}, fmt.Errorf("%w: 不支持的订单类型 %s", ErrInvalidOrder, orderType)
	}
	if size <= 0 {
		return Fill{}, fmt.Errorf("%w: 数量必须大于0", ErrInvalidOrder)
	}
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return Fill{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Fill{}, classifyContextErr(ctxErr)
	}

	start := time.Now()
	order, err := c.exchange.CreateMarketOrder(symbol, side, size)
	latency := time.Since(start)
	if err != nil {
		normalized := c.classifyOrderError(err)
		c.logger.Error("下单失败",
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Float64("size", size),
			zap.Duration("latency", latency),
			zap.Error(normalized),
		)
		return Fill{}, normalized
	}

	fill := Fill{
		OrderID:   derefString(order.Id),
		Size:      derefFloat(order.Filled),
		Price:     derefFloat(order.Average),
		Timestamp: time.Now().UTC(),
	}
	if fill.Size <= 0 {
		fill.Size = size
	}
	if fill.Price <= 0 {
		fill.Price = derefFloat(order.Price)
	}

	c.logger.Info("下单成功",
		zap.String("order_id", fill.OrderID),
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("filled", fill.Size),
		zap.Float64("price", fill.Price),
		zap.Duration("latency", latency),
	)

	return fill, nil
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			c.symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.symbol))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classifyContextErr(ctxErr)
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return classifyContextErr(ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyContextErr(err), false
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
			return fmt.Errorf("%w: %s", ErrConnectivity, ccxtErr.Message), true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrConnectivity, netErr), true
	}

	return err, false
}

// classifyOrderError 将下单失败规整到网关错误族。
func (c *Client) classifyOrderError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return classifyContextErr(err)
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.InsufficientFundsErrType:
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, ccxtErr.Message)
		case ccxt.InvalidOrderErrType, ccxt.BadRequestErrType, ccxt.BadSymbolErrType:
			return fmt.Errorf("%w: %s", ErrInvalidOrder, ccxtErr.Message)
		case ccxt.RequestTimeoutErrType:
			return fmt.Errorf("%w: %s", ErrGatewayTimeout, ccxtErr.Message)
		case ccxt.OnMaintenanceErrType:
			return fmt.Errorf("%w: %s", ErrMaintenance, ccxtErr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrConnectivity, ccxtErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrGatewayTimeout, netErr)
		}
		return fmt.Errorf("%w: %v", ErrConnectivity, netErr)
	}

	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}

func classifyContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGatewayTimeout, err)
	}
	return err
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
