package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/ledger"
)

// Manager 是交易前的唯一风控闸口。所有裁决在调用者持有账户互斥锁
// 的前提下进行，裁决与后续下单之间不会有其他交易插入。
type Manager struct {
	mu      sync.RWMutex
	limits  Limits
	tracker *DailyTracker
	book    *ledger.Book
	logger  *zap.Logger
}

// NewManager 创建风控管理器。
func NewManager(limits Limits, tracker *DailyTracker, book *ledger.Book, logger *zap.Logger) (*Manager, error) {
	if tracker == nil {
		return nil, errors.New("risk: tracker 不能为空")
	}
	if book == nil {
		return nil, errors.New("risk: 持仓账本不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		limits:  limits,
		tracker: tracker,
		book:    book,
		logger:  logger,
	}, nil
}

// CheckTradeAllowed 对一笔候选交易做全量风控检查。
// 拒绝以 Verdict 值返回，error 仅用于存储等基础设施故障。
func (m *Manager) CheckTradeAllowed(ctx context.Context, ts time.Time, balance float64, symbol string, side ledger.OrderSide, size, price float64) (Verdict, error) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	daily, err := m.tracker.Status(ctx, ts, balance, limits.MaxDailyLoss)
	if err != nil {
		return Verdict{}, err
	}

	// 熔断后当日拒绝一切交易，直到交易日翻转。
	if daily.Halted {
		return m.reject(ReasonTradingHalted, symbol), nil
	}

	if limits.MinBalance > 0 && balance < limits.MinBalance {
		return m.reject(ReasonBalanceBelowMinimum, symbol), nil
	}

	// 敞口与单笔风险检查只针对扩大敞口的订单，减仓方向放行。
	if m.isIncreasing(symbol, side) {
		projected := m.projectedExposure(symbol, side, size, price)
		if projected > limits.MaxPositionSize {
			return m.reject(ReasonPositionSizeExceeded, symbol), nil
		}

		// 单笔风险按名义价值计：size × price 不得超过余额 × MaxRiskPerTrade。
		if size*price > balance*limits.MaxRiskPerTrade {
			return m.reject(ReasonRiskPerTradeExceeded, symbol), nil
		}
	}

	if limits.MaxOpenPositions > 0 {
		if _, held := m.book.Get(symbol); !held && m.book.Count() >= limits.MaxOpenPositions {
			return m.reject(ReasonMaxOpenPositions, symbol), nil
		}
	}

	return Verdict{Allowed: true}, nil
}

func (m *Manager) reject(reason, symbol string) Verdict {
	m.logger.Info("风控拒绝交易",
		zap.String("symbol", symbol),
		zap.String("reason", reason),
	)
	return Verdict{Allowed: false, Reason: reason}
}

// isIncreasing 判断该方向的订单是否会扩大标的敞口。
func (m *Manager) isIncreasing(symbol string, side ledger.OrderSide) bool {
	pos, held := m.book.Get(symbol)
	if !held {
		return true
	}
	if pos.Side == ledger.SideLong {
		return side == ledger.OrderSideBuy
	}
	return side == ledger.OrderSideSell
}

// projectedExposure 估算成交后该标的的名义敞口。
func (m *Manager) projectedExposure(symbol string, side ledger.OrderSide, size, price float64) float64 {
	existing := m.book.Notional(symbol, price)
	delta := size * price
	if m.isIncreasing(symbol, side) {
		return existing + delta
	}
	projected := existing - delta
	if projected < 0 {
		projected = 0
	}
	return projected
}

// RecordFill 将已确认成交计入日度统计。closing 为真时 realized
// 计入当日已实现盈亏，并可能触发熔断。
func (m *Manager) RecordFill(ctx context.Context, ts time.Time, realized float64, closing bool, balance float64) (DailyStatus, error) {
	m.mu.RLock()
	maxDailyLoss := m.limits.MaxDailyLoss
	m.mu.RUnlock()

	return m.tracker.AddFill(ctx, ts, realized, closing, balance, maxDailyLoss)
}

// EvaluateStopTake 按最新价格检查指定标的是否触发止损或止盈，
// 触发时返回对应的平仓意图。仓位平掉后从账本移除，天然幂等。
func (m *Manager) EvaluateStopTake(symbol string, price float64) (ClosingIntent, bool) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	pos, held := m.book.Get(symbol)
	if !held || price <= 0 {
		return ClosingIntent{}, false
	}

	var trigger string
	switch pos.Side {
	case ledger.SideLong:
		if limits.StopLossPercent > 0 && price <= pos.EntryPrice*(1-limits.StopLossPercent) {
			trigger = TriggerStopLoss
		} else if limits.TakeProfitPercent > 0 && price >= pos.EntryPrice*(1+limits.TakeProfitPercent) {
			trigger = TriggerTakeProfit
		}
	case ledger.SideShort:
		if limits.StopLossPercent > 0 && price >= pos.EntryPrice*(1+limits.StopLossPercent) {
			trigger = TriggerStopLoss
		} else if limits.TakeProfitPercent > 0 && price <= pos.EntryPrice*(1-limits.TakeProfitPercent) {
			trigger = TriggerTakeProfit
		}
	}

	if trigger == "" {
		return ClosingIntent{}, false
	}

	side := ledger.OrderSideSell
	if pos.Side == ledger.SideShort {
		side = ledger.OrderSideBuy
	}

	m.logger.Warn("触发保护性平仓",
		zap.String("symbol", symbol),
		zap.String("trigger", trigger),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Float64("price", price),
	)

	return ClosingIntent{
		Symbol:  symbol,
		Side:    side,
		Size:    pos.Size,
		Price:   price,
		Trigger: trigger,
	}, true
}

// PositionSize 按固定比例风险法计算建仓数量：
// size = balance × max_risk_per_trade / (price × stop_loss_percent)，
// 并以 max_position_size / price 为上限。
func (m *Manager) PositionSize(balance, price float64) (float64, error) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	if price <= 0 {
		return 0, fmt.Errorf("risk: 价格必须大于0，当前为 %f", price)
	}
	if limits.StopLossPercent <= 0 {
		return 0, errors.New("risk: stop_loss_percent 必须大于0，无法计算仓位")
	}
	if balance <= 0 {
		return 0, nil
	}

	size := balance * limits.MaxRiskPerTrade / (price * limits.StopLossPercent)
	if maxSize := limits.MaxPositionSize / price; size > maxSize {
		size = maxSize
	}
	return size, nil
}

// StopLossPrice 返回给定入场价与方向的止损触发价。
func (m *Manager) StopLossPrice(side ledger.Side, entry float64) float64 {
	m.mu.RLock()
	slp := m.limits.StopLossPercent
	m.mu.RUnlock()

	if side == ledger.SideLong {
		return entry * (1 - slp)
	}
	return entry * (1 + slp)
}

// TakeProfitPrice 返回给定入场价与方向的止盈触发价。
func (m *Manager) TakeProfitPrice(side ledger.Side, entry float64) float64 {
	m.mu.RLock()
	tpp := m.limits.TakeProfitPercent
	m.mu.RUnlock()

	if side == ledger.SideLong {
		return entry * (1 + tpp)
	}
	return entry * (1 - tpp)
}

// UpdateLimits 原子地应用部分限额更新并返回更新后的限额。
// 更新只影响后续裁决，不回溯已通过的交易。
func (m *Manager) UpdateLimits(patch LimitsPatch) Limits {
	m.mu.Lock()
	defer m.mu.Unlock()

	if patch.MaxPositionSize != nil {
		m.limits.MaxPositionSize = *patch.MaxPositionSize
	}
	if patch.MaxRiskPerTrade != nil {
		m.limits.MaxRiskPerTrade = *patch.MaxRiskPerTrade
	}
	if patch.MaxDailyLoss != nil {
		m.limits.MaxDailyLoss = *patch.MaxDailyLoss
	}
	if patch.StopLossPercent != nil {
		m.limits.StopLossPercent = *patch.StopLossPercent
	}
	if patch.TakeProfitPercent != nil {
		m.limits.TakeProfitPercent = *patch.TakeProfitPercent
	}
	if patch.MinBalance != nil {
		m.limits.MinBalance = *patch.MinBalance
	}
	if patch.MaxOpenPositions != nil {
		m.limits.MaxOpenPositions = *patch.MaxOpenPositions
	}

	m.logger.Info("风控限额已更新",
		zap.Float64("max_position_size", m.limits.MaxPositionSize),
		zap.Float64("max_risk_per_trade", m.limits.MaxRiskPerTrade),
		zap.Float64("max_daily_loss", m.limits.MaxDailyLoss),
	)

	return m.limits
}

// Limits 返回当前限额快照。
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// Stats 返回风控全景：限额、当日状态与是否应停止交易。
func (m *Manager) Stats(ctx context.Context, ts time.Time, balance float64) (Stats, error) {
	m.mu.RLock()
	limits := m.limits
	m.mu.RUnlock()

	daily, err := m.tracker.Status(ctx, ts, balance, limits.MaxDailyLoss)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Limits:            limits,
		Daily:             daily,
		ShouldStopTrading: daily.Halted,
	}, nil
}
