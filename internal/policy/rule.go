package policy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"rl-trader/internal/indicator"
)

// RulePolicy 是内置的确定性规则策略：均线交叉定方向，RSI 过滤
// 超买超卖。不依赖外部服务，可作为回测基线。
type RulePolicy struct {
	id     string
	logger *zap.Logger
}

// NewRulePolicy 创建规则策略。
func NewRulePolicy(id string, logger *zap.Logger) *RulePolicy {
	if id == "" {
		id = "sma-cross"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RulePolicy{id: id, logger: logger}
}

// ID 返回策略标识。
func (p *RulePolicy) ID() string {
	return p.id
}

// Decide 根据指标快照给出决策。窗口不足时返回 HOLD 而非报错，
// 回测起步阶段窗口天然偏短。
func (p *RulePolicy) Decide(ctx context.Context, obs Observation) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	snap, err := indicator.Compute(obs.Bars)
	if err != nil {
		return Decision{Action: ActionHold, Reasoning: fmt.Sprintf("窗口不足: %v", err)}, nil
	}

	crossUp := snap.PrevSMAFast <= snap.PrevSMASlow && snap.SMAFast > snap.SMASlow
	crossDown := snap.PrevSMAFast >= snap.PrevSMASlow && snap.SMAFast < snap.SMASlow

	holding := obs.Position != nil && obs.Position.Size > 0

	switch {
	case crossUp && snap.RSI < 70:
		return Decision{
			Action:         ActionBuy,
			Confidence:     confidenceFor(snap),
			TargetFraction: 0.2,
			Reasoning:      "快线上穿慢线且RSI未超买",
		}, nil
	case crossDown && holding:
		return Decision{
			Action:     ActionSell,
			Confidence: confidenceFor(snap),
			Reasoning:  "快线下穿慢线，离场",
		}, nil
	case snap.RSI > 80 && holding:
		return Decision{
			Action:     ActionSell,
			Confidence: 0.6,
			Reasoning:  "RSI严重超买，兑现利润",
		}, nil
	default:
		return Decision{Action: ActionHold, Reasoning: "无交叉信号"}, nil
	}
}

// confidenceFor 用快慢线距离粗略估计信号强度。
func confidenceFor(snap indicator.Snapshot) float64 {
	if snap.SMASlow == 0 {
		return 0.5
	}
	spread := (snap.SMAFast - snap.SMASlow) / snap.SMASlow
	if spread < 0 {
		spread = -spread
	}
	c := 0.5 + spread*10
	if c > 0.9 {
		c = 0.9
	}
	return c
}
