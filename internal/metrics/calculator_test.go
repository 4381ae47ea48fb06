package metrics

import (
	"math"
	"testing"
)

func TestMaxDrawdown_KnownCurve(t *testing.T) {
	equity := []float64{10000, 11000, 9000, 12000}

	got := MaxDrawdown(equity)
	want := (9000.0 - 11000.0) / 11000.0 * 100 // ≈ -18.18%

	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("MaxDrawdown = %f, want %f", got, want)
	}
	if got > 0 {
		t.Fatalf("drawdown must be non-positive, got %f", got)
	}
}

func TestMaxDrawdown_MonotonicCurveIsZero(t *testing.T) {
	if dd := MaxDrawdown([]float64{100, 110, 120, 130}); dd != 0 {
		t.Fatalf("expected zero drawdown, got %f", dd)
	}
}

func TestSharpeRatio_FlatEquityIsZero(t *testing.T) {
	returns := StepReturns([]float64{10000, 10000, 10000, 10000})
	if sharpe := SharpeRatio(returns, 8760); sharpe != 0 {
		t.Fatalf("expected zero sharpe on flat equity, got %f", sharpe)
	}
}

func TestSharpeRatio_ScalesWithAnnualization(t *testing.T) {
	returns := []float64{0.01, -0.005, 0.02, 0.003, -0.001}

	hourly := SharpeRatio(returns, 24*365)
	daily := SharpeRatio(returns, 365)
	if hourly == 0 || daily == 0 {
		t.Fatalf("expected non-zero sharpe, got hourly=%f daily=%f", hourly, daily)
	}

	ratio := hourly / daily
	want := math.Sqrt(24.0)
	if math.Abs(ratio-want) > 1e-9 {
		t.Fatalf("annualization ratio = %f, want %f", ratio, want)
	}
}

func TestProfitFactor_Sentinels(t *testing.T) {
	if pf := ProfitFactor(nil); pf != 0 {
		t.Fatalf("no trades: expected 0, got %f", pf)
	}
	if pf := ProfitFactor([]float64{10, 5}); !math.IsInf(pf, 1) {
		t.Fatalf("no losses: expected +Inf, got %f", pf)
	}
	if pf := ProfitFactor([]float64{30, -10}); math.Abs(pf-3) > 1e-9 {
		t.Fatalf("expected 3, got %f", pf)
	}
	if pf := ProfitFactor([]float64{-10, -5}); pf != 0 {
		t.Fatalf("only losses: expected 0, got %f", pf)
	}
}

func TestWinRate(t *testing.T) {
	if wr := WinRate(nil); wr != 0 {
		t.Fatalf("no trades: expected 0, got %f", wr)
	}
	if wr := WinRate([]float64{10, -5, 3, -1}); math.Abs(wr-50) > 1e-9 {
		t.Fatalf("expected 50, got %f", wr)
	}
}

func TestCalculate_FullSummary(t *testing.T) {
	equity := []float64{10000, 10500, 10200, 11000}
	pnls := []float64{500, -300, 800}

	s := Calculate(10000, equity, pnls, 8760)

	if math.Abs(s.TotalReturn-1000) > 1e-9 {
		t.Errorf("TotalReturn = %f, want 1000", s.TotalReturn)
	}
	if math.Abs(s.TotalReturnPct-10) > 1e-9 {
		t.Errorf("TotalReturnPct = %f, want 10", s.TotalReturnPct)
	}
	if s.TotalTrades != 3 || s.WinningTrades != 2 {
		t.Errorf("trade counts = %d/%d, want 3/2", s.TotalTrades, s.WinningTrades)
	}
	if math.Abs(s.WinRate-200.0/3.0) > 1e-9 {
		t.Errorf("WinRate = %f", s.WinRate)
	}
	if math.Abs(s.ProfitFactor-1300.0/300.0) > 1e-9 {
		t.Errorf("ProfitFactor = %f", s.ProfitFactor)
	}
	if s.FinalBalance != 11000 {
		t.Errorf("FinalBalance = %f, want 11000", s.FinalBalance)
	}
	if s.MaxDrawdown >= 0 {
		t.Errorf("expected negative drawdown, got %f", s.MaxDrawdown)
	}
}

func TestCalculate_EmptyCurveNoPanic(t *testing.T) {
	s := Calculate(10000, nil, nil, 8760)
	if s.FinalBalance != 10000 || s.TotalTrades != 0 || s.ProfitFactor != 0 {
		t.Fatalf("unexpected summary for empty inputs: %+v", s)
	}
}
