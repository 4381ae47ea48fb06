package ledger

import (
	"math"
	"testing"
	"time"
)

func TestBookApply_OpenAddReduceClose(t *testing.T) {
	b := NewBook()
	now := time.Now().UTC()

	if _, err := b.Apply(Fill{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 1, Price: 100, Timestamp: now}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	pos, ok := b.Get("BTC/USDT")
	if !ok || pos.Side != SideLong || pos.Size != 1 || pos.EntryPrice != 100 {
		t.Fatalf("unexpected position after open: %+v", pos)
	}

	// 加仓摊平均价：1@100 + 1@110 => 2@105
	if _, err := b.Apply(Fill{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 1, Price: 110, Timestamp: now}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	pos, _ = b.Get("BTC/USDT")
	if math.Abs(pos.EntryPrice-105) > 1e-9 || pos.Size != 2 {
		t.Fatalf("unexpected position after add: %+v", pos)
	}

	realized, err := b.Apply(Fill{Symbol: "BTC/USDT", Side: OrderSideSell, Size: 1, Price: 120, Timestamp: now})
	if err != nil {
		t.Fatalf("reduce failed: %v", err)
	}
	if math.Abs(realized-15) > 1e-9 {
		t.Fatalf("expected realized 15, got %f", realized)
	}
	pos, _ = b.Get("BTC/USDT")
	if pos.Size != 1 {
		t.Fatalf("expected remaining size 1, got %f", pos.Size)
	}

	realized, err = b.Apply(Fill{Symbol: "BTC/USDT", Side: OrderSideSell, Size: 1, Price: 100, Timestamp: now})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if math.Abs(realized-(-5)) > 1e-9 {
		t.Fatalf("expected realized -5, got %f", realized)
	}
	if _, ok := b.Get("BTC/USDT"); ok {
		t.Fatalf("expected position removed after close")
	}
	if b.Count() != 0 {
		t.Fatalf("expected empty book, got %d", b.Count())
	}
}

func TestBookApply_FlipOpensOppositePosition(t *testing.T) {
	b := NewBook()
	now := time.Now().UTC()

	mustApply(t, b, Fill{Symbol: "ETH/USDT", Side: OrderSideBuy, Size: 2, Price: 100, Timestamp: now})

	realized, err := b.Apply(Fill{Symbol: "ETH/USDT", Side: OrderSideSell, Size: 5, Price: 90, Timestamp: now})
	if err != nil {
		t.Fatalf("flip failed: %v", err)
	}
	if math.Abs(realized-(-20)) > 1e-9 {
		t.Fatalf("expected realized -20 on flip, got %f", realized)
	}

	pos, ok := b.Get("ETH/USDT")
	if !ok {
		t.Fatalf("expected flipped position")
	}
	if pos.Side != SideShort || pos.Size != 3 || pos.EntryPrice != 90 {
		t.Fatalf("unexpected flipped position: %+v", pos)
	}
}

func TestBookApply_ShortRealizedPnL(t *testing.T) {
	b := NewBook()
	now := time.Now().UTC()

	mustApply(t, b, Fill{Symbol: "BTC/USDT", Side: OrderSideSell, Size: 1, Price: 100, Timestamp: now})

	realized, err := b.Apply(Fill{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 1, Price: 80, Timestamp: now})
	if err != nil {
		t.Fatalf("cover failed: %v", err)
	}
	if math.Abs(realized-20) > 1e-9 {
		t.Fatalf("expected realized 20 on short cover, got %f", realized)
	}
}

func TestBookApply_RejectsInvalidFills(t *testing.T) {
	b := NewBook()

	cases := []Fill{
		{Symbol: "", Side: OrderSideBuy, Size: 1, Price: 1},
		{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 0, Price: 1},
		{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 1, Price: 0},
		{Symbol: "BTC/USDT", Side: OrderSide("hold"), Size: 1, Price: 1},
	}
	for i, f := range cases {
		if _, err := b.Apply(f); err == nil {
			t.Errorf("case %d: expected error for fill %+v", i, f)
		}
	}
	if b.Count() != 0 {
		t.Fatalf("invalid fills must not mutate the book")
	}
}

func TestBookApply_SizeNeverNegativeAndSingleEntry(t *testing.T) {
	b := NewBook()
	now := time.Now().UTC()

	fills := []Fill{
		{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 1, Price: 100, Timestamp: now},
		{Symbol: "BTC/USDT", Side: OrderSideSell, Size: 0.4, Price: 105, Timestamp: now},
		{Symbol: "BTC/USDT", Side: OrderSideSell, Size: 0.9, Price: 95, Timestamp: now},
		{Symbol: "BTC/USDT", Side: OrderSideBuy, Size: 0.5, Price: 90, Timestamp: now},
	}
	for _, f := range fills {
		if _, err := b.Apply(f); err != nil {
			t.Fatalf("apply %+v failed: %v", f, err)
		}
		if pos, ok := b.Get("BTC/USDT"); ok && pos.Size <= 0 {
			t.Fatalf("position size must stay positive, got %f", pos.Size)
		}
		if b.Count() > 1 {
			t.Fatalf("expected at most one position per symbol, got %d", b.Count())
		}
	}
}

func mustApply(t *testing.T, b *Book, f Fill) {
	t.Helper()
	if _, err := b.Apply(f); err != nil {
		t.Fatalf("apply %+v failed: %v", f, err)
	}
}
