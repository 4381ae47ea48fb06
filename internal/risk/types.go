package risk

import (
	"rl-trader/internal/config"
	"rl-trader/internal/ledger"
)

// 机器可读的拒绝原因。拒绝是预期业务结果，以值而非错误表达。
const (
	ReasonTradingHalted        = "trading_halted"
	ReasonBalanceBelowMinimum  = "balance_below_minimum"
	ReasonPositionSizeExceeded = "position_size_exceeded"
	ReasonRiskPerTradeExceeded = "risk_per_trade_exceeded"
	ReasonMaxOpenPositions     = "max_open_positions"
)

// 保护性平仓的触发类型。
const (
	TriggerStopLoss   = "stop_loss"
	TriggerTakeProfit = "take_profit"
)

// Limits 是风控限额配置。会话内不可变，仅能通过 UpdateLimits
// 整体替换，于下一次评估生效。
type Limits struct {
	MaxPositionSize   float64 `json:"max_position_size"`
	MaxRiskPerTrade   float64 `json:"max_risk_per_trade"`
	MaxDailyLoss      float64 `json:"max_daily_loss"`
	StopLossPercent   float64 `json:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent"`
	MinBalance        float64 `json:"min_balance"`
	MaxOpenPositions  int     `json:"max_open_positions"`
}

// LimitsFromConfig 从配置构造限额。
func LimitsFromConfig(cfg config.RiskConfig) Limits {
	return Limits{
		MaxPositionSize:   cfg.MaxPositionSize,
		MaxRiskPerTrade:   cfg.MaxRiskPerTrade,
		MaxDailyLoss:      cfg.MaxDailyLoss,
		StopLossPercent:   cfg.StopLossPercent,
		TakeProfitPercent: cfg.TakeProfitPercent,
		MinBalance:        cfg.MinBalance,
		MaxOpenPositions:  cfg.MaxOpenPositions,
	}
}

// LimitsPatch 表示限额的部分更新，nil 字段保持不变。
type LimitsPatch struct {
	MaxPositionSize   *float64 `json:"max_position_size,omitempty"`
	MaxRiskPerTrade   *float64 `json:"max_risk_per_trade,omitempty"`
	MaxDailyLoss      *float64 `json:"max_daily_loss,omitempty"`
	StopLossPercent   *float64 `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent *float64 `json:"take_profit_percent,omitempty"`
	MinBalance        *float64 `json:"min_balance,omitempty"`
	MaxOpenPositions  *int     `json:"max_open_positions,omitempty"`
}

// Verdict 是单笔交易的风控裁决。
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ClosingIntent 是止损/止盈触发生成的合成平仓意图。
type ClosingIntent struct {
	Symbol  string
	Side    ledger.OrderSide
	Size    float64
	Price   float64
	Trigger string
}

// DailyStatus 表示当日风控状态。
type DailyStatus struct {
	TradingDate           string  `json:"trading_date"`
	DayStartBalance       float64 `json:"day_start_balance"`
	RealizedPnL           float64 `json:"realized_pnl"`
	Trades                int     `json:"trades"`
	Halted                bool    `json:"halted"`
	RemainingLossCapacity float64 `json:"remaining_loss_capacity"`
	LossPercentUsed       float64 `json:"loss_percent_used"`
}

// Stats 是对外暴露的风控全景。
type Stats struct {
	Limits            Limits      `json:"limits"`
	Daily             DailyStatus `json:"daily_stats"`
	ShouldStopTrading bool        `json:"should_stop_trading"`
}
