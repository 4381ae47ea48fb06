package monitor

import (
	"time"

	"rl-trader/internal/execution"
	"rl-trader/internal/policy"
	"rl-trader/internal/risk"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventDecision         EventType = "decision"
	EventTradeExecuted    EventType = "trade_executed"
	EventRiskRejection    EventType = "risk_rejection"
	EventProtectiveStop   EventType = "protective_stop"
	EventBacktestFinished EventType = "backtest_finished"
	EventError            EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecisionPayload 记录策略决策。
type DecisionPayload struct {
	PolicyID string          `json:"policy_id"`
	Symbol   string          `json:"symbol"`
	Decision policy.Decision `json:"decision"`
}

// TradePayload 记录交易执行结果，被拒交易也通过它落库。
type TradePayload struct {
	Result execution.TradeResult `json:"result"`
}

// RiskRejectionPayload 记录风控拒绝。
type RiskRejectionPayload struct {
	Symbol  string       `json:"symbol"`
	Verdict risk.Verdict `json:"verdict"`
}

// BacktestPayload 记录回测完成概要。
type BacktestPayload struct {
	RunID    string `json:"run_id"`
	PolicyID string `json:"policy_id"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	Trades   int    `json:"trades"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
