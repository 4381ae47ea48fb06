package metrics

import (
	"encoding/json"
	"math"
	"testing"
)

func TestSummaryJSON_InfProfitFactorRoundtrip(t *testing.T) {
	s := Summary{ProfitFactor: math.Inf(1), WinRate: 100, TotalTrades: 2}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Summary
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !math.IsInf(got.ProfitFactor, 1) {
		t.Fatalf("ProfitFactor = %f, want +Inf", got.ProfitFactor)
	}
	if got.WinRate != 100 || got.TotalTrades != 2 {
		t.Fatalf("unexpected summary: %+v", got)
	}
}

func TestSummaryJSON_FiniteProfitFactor(t *testing.T) {
	s := Summary{ProfitFactor: 2.5}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Summary
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ProfitFactor != 2.5 {
		t.Fatalf("ProfitFactor = %f, want 2.5", got.ProfitFactor)
	}
}
