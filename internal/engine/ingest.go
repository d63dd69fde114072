package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// LiveQueueConfig configures a LiveQueue.
type LiveQueueConfig struct {
	QueueSize int // buffered channel capacity; defaults to 1024
}

// DefaultLiveQueueConfig returns sane defaults for a live-mode ingestion
// queue feeding a single pipeline.
func DefaultLiveQueueConfig() LiveQueueConfig {
	return LiveQueueConfig{QueueSize: 1024}
}

// LiveQueue is the one concurrency-admitted area (§5) between an
// asynchronous bar feed (a WebSocket client, a poller, anything that
// can't hand bars to the pipeline in the caller's own goroutine) and the
// single-threaded Pipeline, which must see events strictly in timestamp
// order and must never be called concurrently from two goroutines.
//
// It mirrors the teacher's internal/workers.Pool single-queue shape, but
// trimmed to exactly one consumer goroutine -- Pipeline.OnBar is not
// safe for concurrent use, so a worker pool of more than one would
// reorder or race bars. Submitters may be any number of goroutines; only
// the queue itself is shared, guarded by the channel.
type LiveQueue struct {
	logger   *zap.Logger
	pipeline *Pipeline

	queue  chan types.Bar
	done   chan struct{}
	cancel context.CancelFunc

	running atomic.Bool
	wg      sync.WaitGroup

	onError func(types.Bar, error)

	dropped atomic.Int64
}

// NewLiveQueue builds a LiveQueue that drains into pipeline.OnBar.
// onError, if non-nil, is invoked from the consumer goroutine whenever
// OnBar returns an error; it must not block or re-enter the queue.
func NewLiveQueue(logger *zap.Logger, pipeline *Pipeline, cfg LiveQueueConfig, onError func(types.Bar, error)) *LiveQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &LiveQueue{
		logger:   logger.Named("ingest"),
		pipeline: pipeline,
		queue:    make(chan types.Bar, cfg.QueueSize),
		onError:  onError,
	}
}

// Start launches the single consumer goroutine. It returns InvalidState
// if the queue is already running.
func (q *LiveQueue) Start(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return errs.New(errs.InvalidState, "LiveQueue.Start", "already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	q.wg.Add(1)
	go q.run(ctx)

	return nil
}

func (q *LiveQueue) run(ctx context.Context) {
	defer q.wg.Done()
	defer close(q.done)

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-q.queue:
			if !ok {
				return
			}
			if err := q.pipeline.OnBar(bar); err != nil {
				q.logger.Warn("bar processing failed", zap.String("symbol", bar.SymbolID), zap.Error(err))
				if q.onError != nil {
					q.onError(bar, err)
				}
			}
		}
	}
}

// Submit enqueues a bar for processing, returning false if the queue is
// full -- Submit never blocks, matching the teacher's SubmitFunc
// non-blocking variant rather than its blocking Submit, since a live
// feed must never stall waiting for the pipeline.
func (q *LiveQueue) Submit(bar types.Bar) bool {
	select {
	case q.queue <- bar:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("live queue full, dropping bar", zap.String("symbol", bar.SymbolID))
		return false
	}
}

// Dropped returns the number of bars dropped because the queue was
// full.
func (q *LiveQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Stop signals the consumer goroutine to exit and waits for it to
// drain in-flight work.
func (q *LiveQueue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}
	q.cancel()
	q.wg.Wait()
}
