package exchange

import (
	"context"
	"time"
)

const (
	// Timeframe1h 为主决策周期。
	Timeframe1h = "1h"

	// OrderTypeMarket 是当前唯一支持的委托类型。
	OrderTypeMarket = "market"

	SideBuy  = "buy"
	SideSell = "sell"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Fill 描述交易所回报的成交结果，成交价与数量以交易所为准。
type Fill struct {
	OrderID   string
	Size      float64
	Price     float64
	Fee       float64
	Timestamp time.Time
}

// Gateway 抽象交易所能力，回测与单元测试可注入模拟实现。
type Gateway interface {
	GetBalance(ctx context.Context, asset string) (float64, error)
	PlaceOrder(ctx context.Context, symbol, side, orderType string, size float64) (Fill, error)
	FetchCandles(ctx context.Context, timeframe string, limit int64) ([]Candle, error)
}
