package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDataset(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

const sampleCSV = `timestamp,open,high,low,close,volume
2025-01-01T00:00:00Z,100,101,99,100.5,1000
2025-01-01T01:00:00Z,100.5,102,100,101.5,1100
2025-01-01T02:00:00Z,101.5,103,101,102.5,900
2025-01-01T03:00:00Z,102.5,104,102,103.5,1200
`

func TestGetBars_FullRange(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "BTCUSDT.csv", sampleCSV)

	src, err := NewCSVSource(dir, nil)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}

	bars, err := src.GetBars(context.Background(), "BTC/USDT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("expected 4 bars, got %d", len(bars))
	}
	if bars[0].Close != 100.5 || bars[3].Close != 103.5 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			t.Fatal("bars must be ascending")
		}
	}
}

func TestGetBars_RangeFilter(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "BTCUSDT.csv", sampleCSV)

	src, _ := NewCSVSource(dir, nil)
	start := time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)

	bars, err := src.GetBars(context.Background(), "BTC/USDT", start, end)
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if !bars[0].Timestamp.Equal(start) || !bars[1].Timestamp.Equal(end) {
		t.Fatalf("unexpected range: %+v", bars)
	}
}

func TestGetBars_NotFound(t *testing.T) {
	src, _ := NewCSVSource(t.TempDir(), nil)

	_, err := src.GetBars(context.Background(), "ETH/USDT", time.Time{}, time.Time{})
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestGetBars_OutOfOrderFails(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "BTCUSDT.csv", `timestamp,open,high,low,close,volume
2025-01-01T02:00:00Z,100,101,99,100.5,1000
2025-01-01T01:00:00Z,100.5,102,100,101.5,1100
`)

	src, _ := NewCSVSource(dir, nil)
	if _, err := src.GetBars(context.Background(), "BTC/USDT", time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error for out-of-order timestamps")
	}
}

func TestGetBars_UnixTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "BTCUSDT.csv", `timestamp,open,high,low,close,volume
1735689600,100,101,99,100.5,1000
1735693200,100.5,102,100,101.5,1100
`)

	src, _ := NewCSVSource(dir, nil)
	bars, err := src.GetBars(context.Background(), "BTC/USDT", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetBars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Timestamp.Year() != 2025 {
		t.Fatalf("unexpected timestamp: %v", bars[0].Timestamp)
	}
}

func TestGetBars_BadPriceFails(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "BTCUSDT.csv", `timestamp,open,high,low,close,volume
2025-01-01T00:00:00Z,0,101,99,100.5,1000
`)

	src, _ := NewCSVSource(dir, nil)
	if _, err := src.GetBars(context.Background(), "BTC/USDT", time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error for non-positive price")
	}
}
