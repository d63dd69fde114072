package data_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/regimeflow/regimeflow/internal/data"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func makeBar(symbolID uint32, ts time.Time, o, h, l, c, v int64) types.Bar {
	return types.Bar{
		Timestamp: ts,
		SymbolID:  strconv.FormatUint(uint64(symbolID), 10),
		Open:      decimal.NewFromInt(o),
		High:      decimal.NewFromInt(h),
		Low:       decimal.NewFromInt(l),
		Close:     decimal.NewFromInt(c),
		Volume:    decimal.NewFromInt(v),
	}
}

func TestStoreSaveAndLoadBars(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := time.Now()
	bars := []types.Bar{
		makeBar(1, now.Add(-3*time.Hour), 100, 110, 95, 105, 1000),
		makeBar(1, now.Add(-2*time.Hour), 105, 115, 100, 110, 1500),
		makeBar(1, now.Add(-1*time.Hour), 110, 120, 108, 118, 2000),
	}

	if err := store.SaveBars("TEST-USDT", bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	symbols := store.AvailableSymbols()
	if len(symbols) != 1 || symbols[0] != "TEST-USDT" {
		t.Fatalf("AvailableSymbols = %v, want [TEST-USDT]", symbols)
	}

	loaded, err := store.LoadBars("TEST-USDT", bars[0].Timestamp.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) != len(bars) {
		t.Fatalf("loaded %d bars, want %d", len(loaded), len(bars))
	}
	for i, bar := range loaded {
		if !bar.Close.Equal(bars[i].Close) {
			t.Errorf("bar %d close = %s, want %s", i, bar.Close, bars[i].Close)
		}
	}
}

func TestStoreTimeRangeFiltering(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	base := time.Now().Add(-10 * time.Hour)
	bars := make([]types.Bar, 10)
	for i := 0; i < 10; i++ {
		bars[i] = makeBar(1, base.Add(time.Duration(i)*time.Hour), int64(100+i), int64(105+i), int64(95+i), int64(102+i), int64(1000*(i+1)))
	}

	if err := store.SaveBars("RANGE-USDT", bars); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	start := base.Add(3 * time.Hour)
	end := base.Add(7 * time.Hour)
	loaded, err := store.LoadBars("RANGE-USDT", start, end)
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("loaded %d bars in range, want 5", len(loaded))
	}
	if !loaded[0].Timestamp.Equal(start) {
		t.Errorf("first bar timestamp = %v, want %v", loaded[0].Timestamp, start)
	}
}

func TestStoreEmptyRange(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	loaded, err := store.LoadBars("NONEXISTENT-USDT", time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d bars for unknown symbol, want 0", len(loaded))
	}
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	logger := zap.NewNop()
	dir := t.TempDir()
	now := time.Now()
	bar := makeBar(1, now, 123, 130, 120, 125, 5000)

	store1, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store1.SaveBars("PERSIST-USDT", []types.Bar{bar}); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	store2, err := data.NewStore(logger, dir)
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	loaded, err := store2.LoadBars("PERSIST-USDT", now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadBars: %v", err)
	}
	if len(loaded) == 0 {
		t.Fatal("no data persisted across store instances")
	}
	if !loaded[0].Close.Equal(bar.Close) {
		t.Errorf("persisted close = %s, want %s", loaded[0].Close, bar.Close)
	}

	start, end, err := store2.DataRange("PERSIST-USDT")
	if err != nil {
		t.Fatalf("DataRange: %v", err)
	}
	if !start.Equal(bar.Timestamp) || !end.Equal(bar.Timestamp) {
		t.Errorf("DataRange = [%v, %v], want [%v, %v]", start, end, bar.Timestamp, bar.Timestamp)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	logger := zap.NewNop()
	store, err := data.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	now := time.Now()
	if err := store.SaveBars("CONCURRENT-USDT", []types.Bar{makeBar(1, now, 100, 110, 90, 105, 1000)}); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}

	done := make(chan bool)
	for i := 0; i < 5; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				store.LoadBars("CONCURRENT-USDT", now.Add(-time.Hour), now.Add(time.Hour))
			}
			done <- true
		}()
	}
	for i := 0; i < 3; i++ {
		go func(id int) {
			for j := 0; j < 50; j++ {
				bar := makeBar(1, now.Add(time.Duration(id*50+j)*time.Minute), int64(100+j), int64(110+j), int64(90+j), int64(105+j), int64(1000+j))
				store.SaveBars("CONCURRENT-USDT", []types.Bar{bar})
			}
			done <- true
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
