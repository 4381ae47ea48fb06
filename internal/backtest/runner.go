package backtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rl-trader/internal/dataset"
	"rl-trader/internal/exchange"
	"rl-trader/internal/ledger"
	"rl-trader/internal/metrics"
	"rl-trader/internal/policy"
)

// Runner 驱动策略在历史数据上的确定性推演。
// 决策只能看到严格早于当前步的K线，成交价取当前步的开盘价，
// 权益按当前步的收盘价盯市。
type Runner struct {
	source dataset.Source
	store  *RunStore
	logger *zap.Logger
	now    func() time.Time
}

// NewRunner 创建回测执行器。store 为空时结果不落库。
func NewRunner(source dataset.Source, store *RunStore, logger *zap.Logger) (*Runner, error) {
	if source == nil {
		return nil, errors.New("backtest: 数据源不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source: source,
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run 执行一次完整回测。取消或失败时不持久化任何结果。
func (r *Runner) Run(ctx context.Context, params Params, oracle policy.Oracle) (Run, error) {
	if oracle == nil {
		return Run{}, errors.New("backtest: 策略不能为空")
	}
	if err := params.Validate(); err != nil {
		return Run{}, err
	}
	if params.ID == "" {
		params.ID = newRunID()
	}
	if params.PolicyID == "" {
		params.PolicyID = oracle.ID()
	}

	run := Run{
		ID:        params.ID,
		Params:    params,
		Status:    StatusLoading,
		StartedAt: r.now(),
	}

	r.logger.Info("回测开始",
		zap.String("run_id", run.ID),
		zap.String("symbol", params.Symbol),
		zap.String("policy_id", params.PolicyID),
	)

	bars, err := r.source.GetBars(ctx, params.Symbol, params.Start, params.End)
	if err != nil {
		return r.fail(run, fmt.Errorf("backtest: 加载历史数据失败: %w", err))
	}
	if len(bars) <= params.WindowSize {
		return r.fail(run, fmt.Errorf("backtest: 历史数据不足，需要大于 %d 根K线，当前 %d 根", params.WindowSize, len(bars)))
	}
	run.Bars = len(bars)

	run.Status = StatusStepping
	sim := newSimulator(params.InitialBalance, params.Fee)

	for n := params.WindowSize; n < len(bars); n++ {
		if err := ctx.Err(); err != nil {
			return Run{}, err
		}

		// 观察窗口严格早于当前步，杜绝未来函数。
		window := bars[n-params.WindowSize : n]

		decision, err := oracle.Decide(ctx, policy.Observation{
			Symbol:   params.Symbol,
			Bars:     window,
			Position: sim.positionView(),
			Balance:  sim.cash,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Run{}, err
			}
			return r.fail(run, fmt.Errorf("backtest: 第 %d 步决策失败: %w", n, err))
		}

		sim.step(decision.Normalize(), bars[n])
	}

	run.Status = StatusFinalizing
	run.Summary = metrics.Calculate(params.InitialBalance, sim.equityCurve, sim.pnls, params.BarsPerYear)
	run.EquityCurve = sim.equityCurve
	run.Trades = sim.trades
	run.Skipped = sim.skipped
	run.Status = StatusCompleted
	run.FinishedAt = r.now()

	if r.store != nil {
		if err := r.store.Save(ctx, run); err != nil {
			return Run{}, err
		}
	}

	r.logger.Info("回测完成",
		zap.String("run_id", run.ID),
		zap.Int("trades", run.Trades),
		zap.Float64("final_balance", run.Summary.FinalBalance),
		zap.Float64("max_drawdown", run.Summary.MaxDrawdown),
	)

	return run, nil
}

func (r *Runner) fail(run Run, err error) (Run, error) {
	run.Status = StatusFailed
	run.Error = err.Error()
	run.FinishedAt = r.now()
	r.logger.Warn("回测失败", zap.String("run_id", run.ID), zap.Error(err))
	return run, err
}

// simulator 维持回测内部的现金与持仓状态，只做多。
type simulator struct {
	cash    float64
	fee     float64
	book    *ledger.Book
	symbol  string
	trades  int
	skipped int

	equityCurve []float64
	pnls        []float64
}

func newSimulator(initialBalance, fee float64) *simulator {
	return &simulator{
		cash: initialBalance,
		fee:  fee,
		book: ledger.NewBook(),
	}
}

// step 对单根K线执行决策：开盘价成交，收盘价盯市。
func (s *simulator) step(decision policy.Decision, bar exchange.Candle) {
	open := bar.Open

	switch decision.Action {
	case policy.ActionBuy:
		if _, held := s.book.Get(s.symbolKey()); held {
			s.skipped++
			break
		}
		fraction := decision.TargetFraction
		if fraction <= 0 {
			fraction = 0.2
		}
		notional := s.cash * fraction
		size := notional / open
		if size <= 0 {
			s.skipped++
			break
		}
		feePaid := notional * s.fee
		if _, err := s.book.Apply(ledger.Fill{
			Symbol: s.symbolKey(), Side: ledger.OrderSideBuy,
			Size: size, Price: open, Timestamp: bar.Timestamp,
		}); err != nil {
			s.skipped++
			break
		}
		s.cash -= notional + feePaid
		s.trades++

	case policy.ActionSell:
		pos, held := s.book.Get(s.symbolKey())
		if !held {
			s.skipped++
			break
		}
		notional := pos.Size * open
		feePaid := notional * s.fee
		realized, err := s.book.Apply(ledger.Fill{
			Symbol: s.symbolKey(), Side: ledger.OrderSideSell,
			Size: pos.Size, Price: open, Timestamp: bar.Timestamp,
		})
		if err != nil {
			s.skipped++
			break
		}
		s.cash += notional - feePaid
		s.pnls = append(s.pnls, realized-feePaid)
		s.trades++

	default:
		s.skipped++
	}

	s.equityCurve = append(s.equityCurve, s.cash+s.book.Notional(s.symbolKey(), bar.Close))
}

func (s *simulator) positionView() *policy.PositionView {
	pos, held := s.book.Get(s.symbolKey())
	if !held {
		return nil
	}
	return &policy.PositionView{
		Side:       string(pos.Side),
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
	}
}

// symbolKey 是模拟账本里唯一标的的固定键。
func (s *simulator) symbolKey() string {
	if s.symbol == "" {
		s.symbol = "_sim"
	}
	return s.symbol
}

func newRunID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("bt-%d", time.Now().UnixNano())
	}
	return "bt-" + hex.EncodeToString(buf)
}
