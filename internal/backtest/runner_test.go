package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"rl-trader/internal/dataset"
	"rl-trader/internal/exchange"
	"rl-trader/internal/policy"
	"rl-trader/internal/store"
)

// sliceSource 以固定K线序列充当历史数据源。
type sliceSource struct {
	bars []exchange.Candle
	err  error
}

func (s *sliceSource) GetBars(ctx context.Context, symbol string, start, end time.Time) ([]exchange.Candle, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.bars, nil
}

// scriptedOracle 按步数轮流给出动作，并记录每次观察窗口。
type scriptedOracle struct {
	actions []string
	calls   int
	windows [][]exchange.Candle
}

func (o *scriptedOracle) ID() string { return "scripted" }

func (o *scriptedOracle) Decide(ctx context.Context, obs policy.Observation) (policy.Decision, error) {
	o.windows = append(o.windows, obs.Bars)
	action := policy.ActionHold
	if o.calls < len(o.actions) {
		action = o.actions[o.calls]
	}
	o.calls++
	return policy.Decision{Action: action, TargetFraction: 0.5}, nil
}

func makeBars(n int, startPrice, step float64) []exchange.Candle {
	bars := make([]exchange.Candle, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	price := startPrice
	for i := range bars {
		bars[i] = exchange.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + step,
			Volume:    1000,
		}
		price += step
	}
	return bars
}

func testParams() Params {
	return Params{
		Symbol:         "BTC/USDT",
		PolicyID:       "scripted",
		InitialBalance: 10000,
		WindowSize:     5,
		Fee:            0.001,
		BarsPerYear:    8760,
	}
}

func TestRun_Deterministic(t *testing.T) {
	bars := makeBars(30, 100, 1)

	runOnce := func() Run {
		runner, err := NewRunner(&sliceSource{bars: bars}, nil, nil)
		if err != nil {
			t.Fatalf("NewRunner: %v", err)
		}
		oracle := &scriptedOracle{actions: []string{"BUY", "HOLD", "HOLD", "SELL", "BUY"}}
		params := testParams()
		params.ID = "fixed-id"
		run, err := runner.Run(context.Background(), params, oracle)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return run
	}

	first := runOnce()
	second := runOnce()

	if !reflect.DeepEqual(first.EquityCurve, second.EquityCurve) {
		t.Fatal("equity curves must be identical across runs")
	}
	if first.Trades != second.Trades || first.Summary != second.Summary {
		t.Fatalf("runs differ: %+v vs %+v", first.Summary, second.Summary)
	}
}

func TestRun_NoLookahead(t *testing.T) {
	bars := makeBars(20, 100, 1)
	runner, _ := NewRunner(&sliceSource{bars: bars}, nil, nil)
	oracle := &scriptedOracle{}

	params := testParams()
	if _, err := runner.Run(context.Background(), params, oracle); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 第 k 次决策的窗口必须是 bars[k : k+window]，末根早于成交K线。
	for k, window := range oracle.windows {
		if len(window) != params.WindowSize {
			t.Fatalf("window %d size = %d, want %d", k, len(window), params.WindowSize)
		}
		fillBar := bars[params.WindowSize+k]
		last := window[len(window)-1]
		if !last.Timestamp.Before(fillBar.Timestamp) {
			t.Fatalf("window %d leaks future data: %v >= %v", k, last.Timestamp, fillBar.Timestamp)
		}
	}
}

func TestRun_FillAtOpenMarkAtClose(t *testing.T) {
	bars := makeBars(8, 100, 2)
	runner, _ := NewRunner(&sliceSource{bars: bars}, nil, nil)
	oracle := &scriptedOracle{actions: []string{"BUY"}}

	params := testParams()
	run, err := runner.Run(context.Background(), params, oracle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 首步：开盘价 110 买入 50% 现金，收盘价 112 盯市。
	open := bars[5].Open
	closePrice := bars[5].Close
	notional := 10000 * 0.5
	size := notional / open
	fee := notional * 0.001
	wantEquity := (10000 - notional - fee) + size*closePrice
	if math.Abs(run.EquityCurve[0]-wantEquity) > 1e-9 {
		t.Fatalf("equity[0] = %f, want %f", run.EquityCurve[0], wantEquity)
	}
	if run.Trades != 1 {
		t.Fatalf("Trades = %d, want 1", run.Trades)
	}
	if len(run.EquityCurve) != 3 {
		t.Fatalf("curve length = %d, want 3", len(run.EquityCurve))
	}
}

func TestRun_CancelPersistsNothing(t *testing.T) {
	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	runStore, err := NewRunStore(st.DB())
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}

	bars := makeBars(50, 100, 1)
	runner, _ := NewRunner(&sliceSource{bars: bars}, runStore, nil)

	ctx, cancel := context.WithCancel(context.Background())
	canceller := policyFunc(func(ctx context.Context, obs policy.Observation) (policy.Decision, error) {
		cancel()
		return policy.Decision{Action: policy.ActionHold}, nil
	})

	if _, err := runner.Run(ctx, testParams(), canceller); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	runs, err := runStore.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("cancelled run must not persist, got %d rows", len(runs))
	}
}

type policyFunc func(ctx context.Context, obs policy.Observation) (policy.Decision, error)

func (f policyFunc) ID() string { return "func" }
func (f policyFunc) Decide(ctx context.Context, obs policy.Observation) (policy.Decision, error) {
	return f(ctx, obs)
}

func TestRun_InsufficientBarsFails(t *testing.T) {
	runner, _ := NewRunner(&sliceSource{bars: makeBars(5, 100, 1)}, nil, nil)

	run, err := runner.Run(context.Background(), testParams(), &scriptedOracle{})
	if err == nil {
		t.Fatal("expected error for insufficient bars")
	}
	if run.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", run.Status, StatusFailed)
	}
}

func TestRun_DatasetMissingFails(t *testing.T) {
	runner, _ := NewRunner(&sliceSource{err: dataset.ErrDatasetNotFound}, nil, nil)

	_, err := runner.Run(context.Background(), testParams(), &scriptedOracle{})
	if !errors.Is(err, dataset.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestRunStore_Roundtrip(t *testing.T) {
	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	runStore, err := NewRunStore(st.DB())
	if err != nil {
		t.Fatalf("NewRunStore: %v", err)
	}

	bars := makeBars(30, 100, 1)
	runner, _ := NewRunner(&sliceSource{bars: bars}, runStore, nil)
	oracle := &scriptedOracle{actions: []string{"BUY", "SELL"}}

	saved, err := runner.Run(context.Background(), testParams(), oracle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if saved.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", saved.Status, StatusCompleted)
	}

	got, err := runStore.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != saved.ID || got.Trades != saved.Trades {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, saved)
	}
	if !reflect.DeepEqual(got.EquityCurve, saved.EquityCurve) {
		t.Fatal("equity curve mismatch after roundtrip")
	}

	runs, err := runStore.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}

	if _, err := runStore.Get(context.Background(), "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
