package metrics

import "math"

// Summary 汇总一段已封闭的权益曲线与成交列表的绩效指标。
// 所有函数都是纯计算：空曲线、零交易等预期情形返回零值或哨兵，绝不报错。
type Summary struct {
	TotalReturn       float64 `json:"total_return"`
	TotalReturnPct    float64 `json:"total_return_pct"`
	SharpeRatio       float64 `json:"sharpe_ratio"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	WinRate           float64 `json:"win_rate"`
	ProfitFactor      float64 `json:"profit_factor"`
	TotalTrades       int     `json:"total_trades"`
	WinningTrades     int     `json:"winning_trades"`
	AvgReturnPerTrade float64 `json:"avg_return_per_trade"`
	FinalBalance      float64 `json:"final_balance"`
}

// Calculate 计算全部绩效指标。pnls 为每笔平仓交易的已实现盈亏，
// barsPerYear 为年化因子（按K线周期折算的每年步数）。
func Calculate(initialBalance float64, equity []float64, pnls []float64, barsPerYear float64) Summary {
	s := Summary{FinalBalance: initialBalance}
	if len(equity) == 0 {
		s.ProfitFactor = ProfitFactor(pnls)
		s.WinRate = WinRate(pnls)
		return s
	}

	final := equity[len(equity)-1]
	s.FinalBalance = final
	s.TotalReturn = final - initialBalance
	if initialBalance > 0 {
		s.TotalReturnPct = s.TotalReturn / initialBalance * 100
	}

	s.SharpeRatio = SharpeRatio(StepReturns(equity), barsPerYear)
	s.MaxDrawdown = MaxDrawdown(equity)
	s.WinRate = WinRate(pnls)
	s.ProfitFactor = ProfitFactor(pnls)
	s.TotalTrades = len(pnls)
	for _, pnl := range pnls {
		if pnl > 0 {
			s.WinningTrades++
		}
	}
	if s.TotalTrades > 0 {
		var total float64
		for _, pnl := range pnls {
			total += pnl
		}
		s.AvgReturnPerTrade = total / float64(s.TotalTrades)
	}

	return s
}

// StepReturns 返回逐步收益率序列 equity[i]/equity[i-1] - 1。
func StepReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, equity[i]/equity[i-1]-1)
	}
	return returns
}

// SharpeRatio 计算年化夏普比率，波动为零（平坦权益）时定义为0。
func SharpeRatio(returns []float64, barsPerYear float64) float64 {
	if len(returns) < 2 || barsPerYear <= 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	return (mean / std) * math.Sqrt(barsPerYear)
}

// MaxDrawdown 返回峰值回撤百分比，恒为非正值，无回撤时为0。
func MaxDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak * 100
		if dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// WinRate 返回盈利交易占比（百分数），无交易时为0。
func WinRate(pnls []float64) float64 {
	if len(pnls) == 0 {
		return 0
	}
	wins := 0
	for _, pnl := range pnls {
		if pnl > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(pnls)) * 100
}

// ProfitFactor 返回毛利与毛损之比。无亏损但有盈利时为 +Inf，
// 无交易（毛利毛损均为零）时为0。
func ProfitFactor(pnls []float64) float64 {
	var grossProfit, grossLoss float64
	for _, pnl := range pnls {
		if pnl > 0 {
			grossProfit += pnl
		} else {
			grossLoss += -pnl
		}
	}

	if grossLoss == 0 {
		if grossProfit > 0 {
			return math.Inf(1)
		}
		return 0
	}

	return grossProfit / grossLoss
}
