package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rl-trader/internal/exchange"
)

// 决策动作集合。HOLD 表示本轮不交易。
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// ErrModelUnavailable 表示决策来源暂时不可用（服务宕机、超时等），
// 调用方应跳过本轮决策而不是中止运行。
var ErrModelUnavailable = errors.New("policy: 决策模型不可用")

// PositionView 是提供给策略的持仓视图。
type PositionView struct {
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Observation 是一次决策的完整输入：观察窗口内的K线与当前持仓。
// Bars 按时间升序排列，最后一根为最新的已封闭K线。
type Observation struct {
	Symbol   string            `json:"symbol"`
	Bars     []exchange.Candle `json:"bars"`
	Position *PositionView     `json:"position,omitempty"`
	Balance  float64           `json:"balance"`
}

// Decision 是策略给出的交易指令。
type Decision struct {
	Action         string  `json:"action"`
	Confidence     float64 `json:"confidence"`
	TargetFraction float64 `json:"target_fraction"`
	Reasoning      string  `json:"reasoning,omitempty"`
}

// Validate 校验决策字段合法性。
func (d Decision) Validate() error {
	switch strings.ToUpper(strings.TrimSpace(d.Action)) {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("policy: action 字段取值非法: %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("policy: confidence 必须位于 [0,1]，当前为 %f", d.Confidence)
	}
	if d.TargetFraction < 0 || d.TargetFraction > 1 {
		return fmt.Errorf("policy: target_fraction 必须位于 [0,1]，当前为 %f", d.TargetFraction)
	}
	return nil
}

// Normalize 返回规整后的动作大写形式。
func (d Decision) Normalize() Decision {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	return d
}

// Oracle 抽象决策来源：规则、外部推理服务或大模型。
// 同一观察窗口必须产生同一决策，回测的可复现性依赖这一点。
type Oracle interface {
	ID() string
	Decide(ctx context.Context, obs Observation) (Decision, error)
}
