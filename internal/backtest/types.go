package backtest

import (
	"fmt"
	"time"

	"rl-trader/internal/config"
	"rl-trader/internal/metrics"
)

// 回测生命周期状态。
const (
	StatusLoading    = "loading"
	StatusStepping   = "stepping"
	StatusFinalizing = "finalizing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Params 定义一次回测的全部输入。
type Params struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	PolicyID       string    `json:"policy_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialBalance float64   `json:"initial_balance"`
	WindowSize     int       `json:"window_size"`
	Fee            float64   `json:"fee"`
	BarsPerYear    float64   `json:"bars_per_year"`
}

// Normalize 用配置默认值补齐缺省参数。
func (p Params) Normalize(defaults config.BacktestConfig) Params {
	if p.InitialBalance <= 0 {
		p.InitialBalance = defaults.InitialBalance
	}
	if p.WindowSize <= 0 {
		p.WindowSize = defaults.WindowSize
	}
	if p.Fee < 0 {
		p.Fee = defaults.Fee
	}
	if p.BarsPerYear <= 0 {
		p.BarsPerYear = defaults.BarsPerYear
	}
	return p
}

// Validate 校验回测参数。
func (p Params) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("backtest: symbol 不能为空")
	}
	if p.InitialBalance <= 0 {
		return fmt.Errorf("backtest: initial_balance 必须大于0，当前为 %f", p.InitialBalance)
	}
	if p.WindowSize <= 1 {
		return fmt.Errorf("backtest: window_size 必须大于1，当前为 %d", p.WindowSize)
	}
	if p.Fee < 0 || p.Fee > 0.05 {
		return fmt.Errorf("backtest: fee 应位于[0,0.05]，当前为 %f", p.Fee)
	}
	if !p.Start.IsZero() && !p.End.IsZero() && !p.End.After(p.Start) {
		return fmt.Errorf("backtest: end 必须晚于 start")
	}
	return nil
}

// Run 是一次回测的完整结果，完成后整体落库。
type Run struct {
	ID          string          `json:"id"`
	Params      Params          `json:"params"`
	Status      string          `json:"status"`
	Summary     metrics.Summary `json:"summary"`
	EquityCurve []float64       `json:"equity_curve"`
	Trades      int             `json:"trades"`
	Skipped     int             `json:"skipped"`
	Bars        int             `json:"bars"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Error       string          `json:"error,omitempty"`
}
