package tracker

import (
	"context"
	"math"
	"testing"
	"time"

	"rl-trader/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tr, err := New(st.DB(), 8760, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func recordTrade(t *testing.T, tr *Tracker, policyID string, pnl float64, ts time.Time) {
	t.Helper()
	err := tr.RecordTrade(context.Background(), TradeRecord{
		PolicyID:  policyID,
		Symbol:    "BTC/USDT",
		Side:      "sell",
		PnL:       pnl,
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}
}

func TestPerformance_Empty(t *testing.T) {
	tr := newTestTracker(t)

	perf, err := tr.Performance(context.Background(), "ppo")
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if perf.Trades != 0 || perf.WinRate != 0 || perf.ProfitFactor != 0 {
		t.Fatalf("expected zero performance, got %+v", perf)
	}
}

func TestPerformance_Aggregates(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	for i, pnl := range []float64{100, -50, 30, -20} {
		recordTrade(t, tr, "ppo", pnl, ts.Add(time.Duration(i)*time.Hour))
	}
	err := tr.RecordPrediction(ctx, Prediction{
		PolicyID: "ppo", Symbol: "BTC/USDT", Action: "BUY",
		Confidence: 0.8, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("RecordPrediction: %v", err)
	}

	perf, err := tr.Performance(ctx, "ppo")
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if perf.Trades != 4 || perf.Predictions != 1 {
		t.Fatalf("counts: %+v", perf)
	}
	if math.Abs(perf.WinRate-50) > 1e-9 {
		t.Fatalf("WinRate = %f, want 50", perf.WinRate)
	}
	if math.Abs(perf.ProfitFactor-130.0/70.0) > 1e-9 {
		t.Fatalf("ProfitFactor = %f", perf.ProfitFactor)
	}
	if math.Abs(perf.TotalPnL-60) > 1e-9 {
		t.Fatalf("TotalPnL = %f, want 60", perf.TotalPnL)
	}
	if math.Abs(perf.AvgPnLPerTrade-15) > 1e-9 {
		t.Fatalf("AvgPnLPerTrade = %f, want 15", perf.AvgPnLPerTrade)
	}
}

func TestPerformance_Accuracy(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// 命中：误差 0.5%；未命中：误差 5%；缺价：不参与统计。
	preds := []Prediction{
		{PolicyID: "ppo", Symbol: "BTC/USDT", Action: "BUY", PredictedPrice: 100, ActualPrice: 100.5, Timestamp: ts},
		{PolicyID: "ppo", Symbol: "BTC/USDT", Action: "SELL", PredictedPrice: 100, ActualPrice: 105, Timestamp: ts},
		{PolicyID: "ppo", Symbol: "BTC/USDT", Action: "HOLD", Timestamp: ts},
	}
	for _, p := range preds {
		if err := tr.RecordPrediction(ctx, p); err != nil {
			t.Fatalf("RecordPrediction: %v", err)
		}
	}

	perf, err := tr.Performance(ctx, "ppo")
	if err != nil {
		t.Fatalf("Performance: %v", err)
	}
	if perf.Predictions != 3 {
		t.Fatalf("Predictions = %d, want 3", perf.Predictions)
	}
	if math.Abs(perf.Accuracy-100.0/3.0) > 1e-9 {
		t.Fatalf("Accuracy = %f, want %f", perf.Accuracy, 100.0/3.0)
	}
}

func TestCompare_PicksBestAndBreaksTies(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	// ppo: 2胜0负。dqn: 同为100%胜率但成交更多，平局时胜出。
	for i, pnl := range []float64{10, 20} {
		recordTrade(t, tr, "ppo", pnl, ts.Add(time.Duration(i)*time.Hour))
	}
	for i, pnl := range []float64{10, 20, 30} {
		recordTrade(t, tr, "dqn", pnl, ts.Add(time.Duration(i)*time.Hour))
	}
	// rule: 有亏损，胜率更低。
	for i, pnl := range []float64{10, -20} {
		recordTrade(t, tr, "rule", pnl, ts.Add(time.Duration(i)*time.Hour))
	}

	cmp, err := tr.Compare(ctx)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(cmp.Policies) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(cmp.Policies))
	}
	if cmp.BestWinRate != "dqn" {
		t.Fatalf("BestWinRate = %s, want dqn", cmp.BestWinRate)
	}
	if cmp.BestSharpe == "" {
		t.Fatal("BestSharpe must be set")
	}
}

func TestCompare_Empty(t *testing.T) {
	tr := newTestTracker(t)

	cmp, err := tr.Compare(context.Background())
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if len(cmp.Policies) != 0 || cmp.BestWinRate != "" || cmp.BestSharpe != "" {
		t.Fatalf("expected empty comparison, got %+v", cmp)
	}
}

func TestRecord_RequiresPolicyID(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	if err := tr.RecordTrade(ctx, TradeRecord{PnL: 10, Timestamp: time.Now()}); err == nil {
		t.Fatal("expected error for empty policy id")
	}
	if err := tr.RecordPrediction(ctx, Prediction{Symbol: "BTC/USDT", Action: "BUY", Timestamp: time.Now()}); err == nil {
		t.Fatal("expected error for empty policy id")
	}
}
