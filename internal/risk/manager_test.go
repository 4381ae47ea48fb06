package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"rl-trader/internal/ledger"
	"rl-trader/internal/store"
)

func testLimits() Limits {
	return Limits{
		MaxPositionSize:   1000,
		MaxRiskPerTrade:   0.02,
		MaxDailyLoss:      0.05,
		StopLossPercent:   0.05,
		TakeProfitPercent: 0.10,
		MinBalance:        100,
		MaxOpenPositions:  3,
	}
}

func newTestManager(t *testing.T, limits Limits) (*Manager, *ledger.Book) {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tracker, err := NewDailyTracker(st.DB(), 0, nil)
	if err != nil {
		t.Fatalf("NewDailyTracker: %v", err)
	}

	book := ledger.NewBook()
	mgr, err := NewManager(limits, tracker, book, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, book
}

func TestCheckTradeAllowed_Pass(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// 名义价值 0.003×50000 = 150 ≤ 10000×0.02 = 200。
	v, err := mgr.CheckTradeAllowed(context.Background(), ts, 10000, "BTC/USDT", ledger.OrderSideBuy, 0.003, 50000)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if !v.Allowed || v.Reason != "" {
		t.Fatalf("expected allowed, got %+v", v)
	}
}

func TestCheckTradeAllowed_PositionSizeExceeded(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionSize = 400
	mgr, _ := newTestManager(t, limits)
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// 名义价值 500 > 400，且先于风险占比检查被拒。
	v, err := mgr.CheckTradeAllowed(context.Background(), ts, 10000, "BTC/USDT", ledger.OrderSideBuy, 5, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonPositionSizeExceeded {
		t.Fatalf("expected %s, got %+v", ReasonPositionSizeExceeded, v)
	}
}

func TestCheckTradeAllowed_RiskPerTradeExceeded(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// 名义价值 0.3×100 = 30 > 1000×0.02 = 20。
	v, err := mgr.CheckTradeAllowed(ctx, ts, 1000, "BTC/USDT", ledger.OrderSideBuy, 0.3, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonRiskPerTradeExceeded {
		t.Fatalf("expected %s, got %+v", ReasonRiskPerTradeExceeded, v)
	}

	// 刚好越过上限即拒：21 > 20。
	v, err = mgr.CheckTradeAllowed(ctx, ts, 1000, "BTC/USDT", ledger.OrderSideBuy, 0.21, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonRiskPerTradeExceeded {
		t.Fatalf("expected %s just above the cap, got %+v", ReasonRiskPerTradeExceeded, v)
	}

	// 上限以内放行：19 ≤ 20。
	v, err = mgr.CheckTradeAllowed(ctx, ts, 1000, "BTC/USDT", ledger.OrderSideBuy, 0.19, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected allowed within the cap, got %+v", v)
	}
}

func TestCheckTradeAllowed_BalanceBelowMinimum(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	v, err := mgr.CheckTradeAllowed(context.Background(), ts, 50, "BTC/USDT", ledger.OrderSideBuy, 0.001, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonBalanceBelowMinimum {
		t.Fatalf("expected %s, got %+v", ReasonBalanceBelowMinimum, v)
	}
}

func TestCheckTradeAllowed_MaxOpenPositions(t *testing.T) {
	limits := testLimits()
	limits.MaxOpenPositions = 1
	mgr, book := newTestManager(t, limits)
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := book.Apply(ledger.Fill{Symbol: "ETH/USDT", Side: ledger.OrderSideBuy, Size: 1, Price: 100, Timestamp: ts}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// 新标的开仓被拒。
	v, err := mgr.CheckTradeAllowed(context.Background(), ts, 10000, "BTC/USDT", ledger.OrderSideBuy, 0.001, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonMaxOpenPositions {
		t.Fatalf("expected %s, got %+v", ReasonMaxOpenPositions, v)
	}

	// 已持仓标的不受影响。
	v, err = mgr.CheckTradeAllowed(context.Background(), ts, 10000, "ETH/USDT", ledger.OrderSideSell, 1, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected allowed for held symbol, got %+v", v)
	}
}

func TestDailyHalt_StickyUntilRollover(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// 建立日初余额 10000，日亏损上限 500。
	if _, err := mgr.Stats(ctx, ts, 10000); err != nil {
		t.Fatalf("Stats: %v", err)
	}

	daily, err := mgr.RecordFill(ctx, ts, -600, true, 9400)
	if err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if !daily.Halted {
		t.Fatalf("expected halt after -600 loss, got %+v", daily)
	}

	// 熔断后一切交易被拒。
	v, err := mgr.CheckTradeAllowed(ctx, ts.Add(time.Hour), 9400, "BTC/USDT", ledger.OrderSideBuy, 0.001, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonTradingHalted {
		t.Fatalf("expected %s, got %+v", ReasonTradingHalted, v)
	}

	// 盈利回补也不解除当日熔断。
	daily, err = mgr.RecordFill(ctx, ts.Add(2*time.Hour), 1000, true, 10400)
	if err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if !daily.Halted {
		t.Fatalf("halt must stay sticky within the day, got %+v", daily)
	}

	// 交易日翻转后惰性重置，恢复交易。
	next := ts.Add(24 * time.Hour)
	v, err = mgr.CheckTradeAllowed(ctx, next, 10400, "BTC/USDT", ledger.OrderSideBuy, 0.001, 100)
	if err != nil {
		t.Fatalf("CheckTradeAllowed: %v", err)
	}
	if !v.Allowed {
		t.Fatalf("expected allowed after rollover, got %+v", v)
	}
}

func TestDailyHalt_UnrealizedLossDoesNotCount(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := mgr.Stats(ctx, ts, 10000); err != nil {
		t.Fatalf("Stats: %v", err)
	}

	// 开仓成交 closing=false，不计入当日盈亏与成交笔数。
	daily, err := mgr.RecordFill(ctx, ts, -600, false, 10000)
	if err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if daily.Halted {
		t.Fatalf("opening fill must not trigger halt, got %+v", daily)
	}
	if daily.RealizedPnL != 0 {
		t.Fatalf("RealizedPnL = %f, want 0", daily.RealizedPnL)
	}
	if daily.Trades != 0 {
		t.Fatalf("Trades = %d, want 0", daily.Trades)
	}

	// 平仓成交才计入笔数与盈亏。
	daily, err = mgr.RecordFill(ctx, ts.Add(time.Hour), -100, true, 9900)
	if err != nil {
		t.Fatalf("RecordFill: %v", err)
	}
	if daily.Trades != 1 {
		t.Fatalf("Trades = %d, want 1", daily.Trades)
	}
	if daily.RealizedPnL != -100 {
		t.Fatalf("RealizedPnL = %f, want -100", daily.RealizedPnL)
	}
}

func TestEvaluateStopTake_Long(t *testing.T) {
	mgr, book := newTestManager(t, testLimits())
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := book.Apply(ledger.Fill{Symbol: "BTC/USDT", Side: ledger.OrderSideBuy, Size: 2, Price: 100, Timestamp: ts}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, ok := mgr.EvaluateStopTake("BTC/USDT", 96); ok {
		t.Fatal("price 96 must not trigger with slp 0.05")
	}

	intent, ok := mgr.EvaluateStopTake("BTC/USDT", 94)
	if !ok {
		t.Fatal("expected stop loss at 94")
	}
	if intent.Trigger != TriggerStopLoss || intent.Side != ledger.OrderSideSell || intent.Size != 2 {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	intent, ok = mgr.EvaluateStopTake("BTC/USDT", 111)
	if !ok || intent.Trigger != TriggerTakeProfit {
		t.Fatalf("expected take profit at 111, got ok=%v intent=%+v", ok, intent)
	}
}

func TestEvaluateStopTake_Short(t *testing.T) {
	mgr, book := newTestManager(t, testLimits())
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	if _, err := book.Apply(ledger.Fill{Symbol: "BTC/USDT", Side: ledger.OrderSideSell, Size: 1, Price: 100, Timestamp: ts}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	intent, ok := mgr.EvaluateStopTake("BTC/USDT", 106)
	if !ok || intent.Trigger != TriggerStopLoss || intent.Side != ledger.OrderSideBuy {
		t.Fatalf("expected short stop at 106, got ok=%v intent=%+v", ok, intent)
	}

	intent, ok = mgr.EvaluateStopTake("BTC/USDT", 89)
	if !ok || intent.Trigger != TriggerTakeProfit {
		t.Fatalf("expected short take profit at 89, got ok=%v intent=%+v", ok, intent)
	}
}

func TestEvaluateStopTake_NoPosition(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())
	if _, ok := mgr.EvaluateStopTake("BTC/USDT", 50); ok {
		t.Fatal("no position must not trigger")
	}
}

func TestPositionSize(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())

	// 10000×0.02/(100×0.05) = 40，受 1000/100 = 10 封顶。
	size, err := mgr.PositionSize(10000, 100)
	if err != nil {
		t.Fatalf("PositionSize: %v", err)
	}
	if math.Abs(size-10) > 1e-9 {
		t.Fatalf("size = %f, want 10", size)
	}

	// 小余额不触发封顶：500×0.02/(100×0.05) = 2。
	size, err = mgr.PositionSize(500, 100)
	if err != nil {
		t.Fatalf("PositionSize: %v", err)
	}
	if math.Abs(size-2) > 1e-9 {
		t.Fatalf("size = %f, want 2", size)
	}

	if _, err := mgr.PositionSize(10000, 0); err == nil {
		t.Fatal("expected error for zero price")
	}

	limits := testLimits()
	limits.StopLossPercent = 0
	mgrBad, _ := newTestManager(t, limits)
	if _, err := mgrBad.PositionSize(10000, 100); err == nil {
		t.Fatal("expected error for zero stop loss percent")
	}
}

func TestUpdateLimits_Partial(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())

	newMax := 2000.0
	got := mgr.UpdateLimits(LimitsPatch{MaxPositionSize: &newMax})
	if got.MaxPositionSize != 2000 {
		t.Fatalf("MaxPositionSize = %f, want 2000", got.MaxPositionSize)
	}
	if got.MaxRiskPerTrade != 0.02 {
		t.Fatalf("untouched field changed: %f", got.MaxRiskPerTrade)
	}
	if mgr.Limits().MaxPositionSize != 2000 {
		t.Fatal("Limits() must reflect update")
	}
}

func TestStopTakePriceHelpers(t *testing.T) {
	mgr, _ := newTestManager(t, testLimits())

	if p := mgr.StopLossPrice(ledger.SideLong, 100); math.Abs(p-95) > 1e-9 {
		t.Fatalf("long stop price = %f, want 95", p)
	}
	if p := mgr.TakeProfitPrice(ledger.SideLong, 100); math.Abs(p-110) > 1e-9 {
		t.Fatalf("long take price = %f, want 110", p)
	}
	if p := mgr.StopLossPrice(ledger.SideShort, 100); math.Abs(p-105) > 1e-9 {
		t.Fatalf("short stop price = %f, want 105", p)
	}
	if p := mgr.TakeProfitPrice(ledger.SideShort, 100); math.Abs(p-90) > 1e-9 {
		t.Fatalf("short take price = %f, want 90", p)
	}
}

func TestTradingDay_ResetHour(t *testing.T) {
	// 08:00 重置：07:59 属于前一交易日。
	before := time.Date(2025, 3, 10, 7, 59, 0, 0, time.UTC)
	after := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	if d := tradingDay(before, 8); d != "2025-03-09" {
		t.Fatalf("tradingDay(07:59, 8) = %s, want 2025-03-09", d)
	}
	if d := tradingDay(after, 8); d != "2025-03-10" {
		t.Fatalf("tradingDay(08:00, 8) = %s, want 2025-03-10", d)
	}
	if d := tradingDay(after, 0); d != "2025-03-10" {
		t.Fatalf("tradingDay(08:00, 0) = %s, want 2025-03-10", d)
	}
}
