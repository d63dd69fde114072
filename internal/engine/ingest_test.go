package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/regimeflow/regimeflow/internal/engine"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func newTestPipeline(t *testing.T) *engine.Pipeline {
	t.Helper()
	logger := zap.NewNop()
	detector, err := regime.New(logger, regime.Config{Kind: "constant", Constant: types.RegimeBull})
	if err != nil {
		t.Fatalf("regime.New: %v", err)
	}
	tracker := regime.NewTracker(detector, 10)
	portfolio := engine.NewPortfolio(decimal.NewFromInt(100000))
	return engine.NewPipeline(engine.PipelineConfig{
		Logger:    logger,
		Tracker:   tracker,
		Portfolio: portfolio,
	})
}

func makeTestBar(symbol string, ts time.Time, price int64) types.Bar {
	p := decimal.NewFromInt(price)
	return types.Bar{
		Timestamp: ts, SymbolID: symbol,
		Open: p, High: p, Low: p, Close: p,
		Volume: decimal.NewFromInt(100),
	}
}

// snapshotRecorder is an engine.MetricsSink that forwards each snapshot's
// timestamp to a channel, so a test can observe the order bars drained in.
type snapshotRecorder struct{ ts chan time.Time }

func (r snapshotRecorder) OnSnapshot(s types.PortfolioSnapshot) { r.ts <- s.Timestamp }
func (snapshotRecorder) OnFill(types.Fill, decimal.Decimal)     {}
func (snapshotRecorder) OnTransition(types.RegimeTransition)    {}
func (snapshotRecorder) OnOrderRejected(*types.Order, error)    {}
func (snapshotRecorder) OnRegimeState(types.RegimeState)        {}

func TestLiveQueueProcessesBarsInOrder(t *testing.T) {
	pipeline := newTestPipeline(t)
	rec := snapshotRecorder{ts: make(chan time.Time, 5)}
	pipeline.Metrics = rec
	q := engine.NewLiveQueue(zap.NewNop(), pipeline, engine.DefaultLiveQueueConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Stop()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(0); i < 5; i++ {
		bar := makeTestBar("TEST", base.Add(time.Duration(i)*time.Minute), 100+i)
		if !q.Submit(bar) {
			t.Fatalf("Submit dropped bar %d", i)
		}
	}

	deadline := time.After(time.Second)
	for i := int64(0); i < 5; i++ {
		select {
		case ts := <-rec.ts:
			if want := base.Add(time.Duration(i) * time.Minute); !ts.Equal(want) {
				t.Errorf("bar %d processed with timestamp %v, want %v", i, ts, want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for bar %d to drain", i)
		}
	}
	if snap := pipeline.Portfolio.Snapshot(base); !snap.Equity.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("equity = %s, want 100000", snap.Equity)
	}

	if q.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", q.Dropped())
	}
}

func TestLiveQueueDropsWhenFull(t *testing.T) {
	pipeline := newTestPipeline(t)
	// No consumer running: every Submit beyond the queue's capacity of 1
	// must be dropped rather than block the caller.
	q := engine.NewLiveQueue(zap.NewNop(), pipeline, engine.LiveQueueConfig{QueueSize: 1}, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !q.Submit(makeTestBar("TEST", base, 100)) {
		t.Fatal("first Submit into an empty queue should succeed")
	}
	if q.Submit(makeTestBar("TEST", base.Add(time.Minute), 101)) {
		t.Fatal("second Submit into a full, undrained queue should be dropped")
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
}

func TestLiveQueueStartTwiceFails(t *testing.T) {
	pipeline := newTestPipeline(t)
	q := engine.NewLiveQueue(zap.NewNop(), pipeline, engine.DefaultLiveQueueConfig(), nil)

	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer q.Stop()

	if err := q.Start(ctx); err == nil {
		t.Error("second Start should fail while already running")
	}
}
