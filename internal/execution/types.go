package execution

import (
	"fmt"
	"time"

	"rl-trader/internal/ledger"
)

// Mode 表示执行模式。闭集：非法值在配置装载时即被拒绝。
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// ParseMode 解析执行模式字符串。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePaper, ModeLive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("execution: 非法的执行模式 %q，仅支持 paper/live", s)
	}
}

// TradeIntent 描述一次待执行的交易意图。
// Protective 为真表示止损/止盈平仓，跳过开仓方向的风控闸口。
type TradeIntent struct {
	Symbol     string
	Side       ledger.OrderSide
	Size       float64
	Price      float64
	Protective bool
	Trigger    string
	PolicyID   string
}

// TradeResult 是一次交易执行的最终结果。被风控拒绝或网关失败
// 都是预期业务结果，以 Accepted=false 加 Reason 表达。
type TradeResult struct {
	Accepted    bool      `json:"accepted"`
	Reason      string    `json:"reason,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Mode        Mode      `json:"mode"`
	FilledSize  float64   `json:"filled_size"`
	FillPrice   float64   `json:"fill_price"`
	EntryPrice  float64   `json:"entry_price,omitempty"`
	Fee         float64   `json:"fee"`
	RealizedPnL float64   `json:"realized_pnl"`
	Closing     bool      `json:"closing"`
	Protective  bool      `json:"protective"`
	Trigger     string    `json:"trigger,omitempty"`
	PolicyID    string    `json:"policy_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TradeFilter 限定交易历史查询范围，零值字段不参与过滤。
type TradeFilter struct {
	Symbol string
	Since  time.Time
	Until  time.Time
	Limit  int
}
