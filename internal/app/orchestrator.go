package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/config"
	"rl-trader/internal/exchange"
	"rl-trader/internal/execution"
	"rl-trader/internal/ledger"
	"rl-trader/internal/policy"
	"rl-trader/internal/tracker"
)

// orchestrator 驱动实时交易的两个节拍：决策与止损巡检。
type orchestrator struct {
	app              *App
	decisionInterval time.Duration
	stopInterval     time.Duration
}

func newOrchestrator(a *App, cfg config.SchedulerConfig) *orchestrator {
	decisionInterval := cfg.DecisionInterval
	if decisionInterval <= 0 {
		decisionInterval = time.Hour
	}
	stopInterval := cfg.StopCheckInterval
	if stopInterval <= 0 {
		stopInterval = time.Minute
	}
	return &orchestrator{
		app:              a,
		decisionInterval: decisionInterval,
		stopInterval:     stopInterval,
	}
}

// runDecisionLoop 周期性拉取行情并执行策略决策。
// 单次失败只告警，循环继续。
func (o *orchestrator) runDecisionLoop(ctx context.Context) error {
	if err := o.decideOnce(ctx); err != nil {
		o.app.logger.Error("首次决策失败", zap.Error(err))
	}

	ticker := time.NewTicker(o.decisionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.decideOnce(ctx); err != nil {
				o.app.logger.Error("执行决策失败", zap.Error(err))
			}
		}
	}
}

func (o *orchestrator) decideOnce(ctx context.Context) error {
	a := o.app
	symbol := a.cfg.Exchange.Symbol

	windowSize := a.cfg.Policy.WindowSize
	if windowSize <= 0 {
		windowSize = 64
	}

	candles, err := a.gateway.FetchCandles(ctx, exchange.Timeframe1h, int64(windowSize))
	if err != nil {
		a.monitor.RecordError(ctx, "拉取行情失败", err, map[string]interface{}{"symbol": symbol})
		return err
	}
	if len(candles) == 0 {
		return errors.New("app: 行情为空")
	}
	price := candles[len(candles)-1].Close

	balance, err := a.executor.Balance(ctx)
	if err != nil {
		a.monitor.RecordError(ctx, "查询余额失败", err, nil)
		return err
	}

	obs := policy.Observation{
		Symbol:   symbol,
		Bars:     candles,
		Position: o.positionView(symbol, price),
		Balance:  balance,
	}

	decision, err := a.oracle.Decide(ctx, obs)
	if err != nil {
		if errors.Is(err, policy.ErrModelUnavailable) {
			// 模型暂时不可用时跳过本轮，不算系统故障。
			a.logger.Warn("决策模型不可用，跳过本轮", zap.Error(err))
			return nil
		}
		a.monitor.RecordError(ctx, "策略决策失败", err, map[string]interface{}{"symbol": symbol})
		return err
	}
	decision = decision.Normalize()

	if err := a.perf.RecordPrediction(ctx, tracker.Prediction{
		PolicyID:       a.oracle.ID(),
		Symbol:         symbol,
		Action:         decision.Action,
		Confidence:     decision.Confidence,
		PredictedPrice: price,
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		a.logger.Warn("记录预测失败", zap.Error(err))
	}
	a.monitor.RecordDecision(ctx, a.oracle.ID(), symbol, decision)

	intent, ok := o.buildIntent(ctx, symbol, decision, balance, price)
	if !ok {
		return nil
	}

	result, err := a.executor.ExecuteTrade(ctx, intent)
	if err != nil {
		a.monitor.RecordError(ctx, "执行交易失败", err, map[string]interface{}{"symbol": symbol})
		return err
	}
	o.recordTradeOutcome(ctx, result)
	return nil
}

// buildIntent 将决策转换为可执行的交易意图，HOLD 与无效决策返回 false。
func (o *orchestrator) buildIntent(ctx context.Context, symbol string, decision policy.Decision, balance, price float64) (execution.TradeIntent, bool) {
	a := o.app

	switch decision.Action {
	case policy.ActionBuy:
		if _, held := o.currentPosition(symbol); held {
			a.logger.Debug("已有持仓，忽略加仓信号", zap.String("symbol", symbol))
			return execution.TradeIntent{}, false
		}
		size, err := a.riskMgr.PositionSize(balance, price)
		if err != nil {
			a.logger.Warn("计算仓位失败", zap.Error(err))
			return execution.TradeIntent{}, false
		}
		// 策略给出目标比例时取更保守的那个。
		if decision.TargetFraction > 0 {
			if alt := balance * decision.TargetFraction / price; alt < size {
				size = alt
			}
		}
		// 名义价值钳入单笔风险预算，保证意图能通过风控闸口。
		if budget := balance * a.riskMgr.Limits().MaxRiskPerTrade / price; size > budget {
			size = budget
		}
		if size <= 0 {
			return execution.TradeIntent{}, false
		}
		return execution.TradeIntent{
			Symbol:   symbol,
			Side:     ledger.OrderSideBuy,
			Size:     size,
			Price:    price,
			PolicyID: a.oracle.ID(),
		}, true

	case policy.ActionSell:
		pos, held := o.currentPosition(symbol)
		if !held {
			a.logger.Debug("无持仓，忽略卖出信号", zap.String("symbol", symbol))
			return execution.TradeIntent{}, false
		}
		side := ledger.OrderSideSell
		if pos.Side == ledger.SideShort {
			side = ledger.OrderSideBuy
		}
		return execution.TradeIntent{
			Symbol:   symbol,
			Side:     side,
			Size:     pos.Size,
			Price:    price,
			PolicyID: a.oracle.ID(),
		}, true

	default:
		return execution.TradeIntent{}, false
	}
}

func (o *orchestrator) currentPosition(symbol string) (ledger.Position, bool) {
	for _, pos := range o.app.executor.Positions() {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return ledger.Position{}, false
}

func (o *orchestrator) positionView(symbol string, price float64) *policy.PositionView {
	pos, held := o.currentPosition(symbol)
	if !held {
		return nil
	}
	view := &policy.PositionView{
		Side:       string(pos.Side),
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
	}
	if pos.Side == ledger.SideLong {
		view.UnrealizedPnL = (price - pos.EntryPrice) * pos.Size
	} else {
		view.UnrealizedPnL = (pos.EntryPrice - price) * pos.Size
	}
	return view
}

func (o *orchestrator) recordTradeOutcome(ctx context.Context, result execution.TradeResult) {
	a := o.app
	a.monitor.RecordTrade(ctx, result)
	if result.Accepted && result.Closing && result.PolicyID != "" {
		if err := a.perf.RecordTrade(ctx, tracker.TradeRecord{
			PolicyID:   result.PolicyID,
			Symbol:     result.Symbol,
			Side:       result.Side,
			EntryPrice: result.EntryPrice,
			ExitPrice:  result.FillPrice,
			PnL:        result.RealizedPnL - result.Fee,
			Timestamp:  result.Timestamp,
		}); err != nil {
			a.logger.Warn("记录平仓绩效失败", zap.Error(err))
		}
	}
}

// runStopCheckLoop 周期性按最新价格巡检止损止盈。
func (o *orchestrator) runStopCheckLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.stopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.checkStopsOnce(ctx); err != nil {
				o.app.logger.Warn("止损巡检失败", zap.Error(err))
			}
		}
	}
}

func (o *orchestrator) checkStopsOnce(ctx context.Context) error {
	a := o.app

	positions := a.executor.Positions()
	if len(positions) == 0 {
		return nil
	}

	candles, err := a.gateway.FetchCandles(ctx, exchange.Timeframe1h, 1)
	if err != nil || len(candles) == 0 {
		if err == nil {
			err = errors.New("app: 行情为空")
		}
		return err
	}
	price := candles[len(candles)-1].Close

	prices := make(map[string]float64, len(positions))
	for _, pos := range positions {
		prices[pos.Symbol] = price
	}

	results, err := a.executor.CheckProtectiveStops(ctx, prices)
	if err != nil {
		return err
	}
	for _, result := range results {
		o.recordTradeOutcome(ctx, result)
	}
	return nil
}
