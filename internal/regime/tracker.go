package regime

import (
	"github.com/regimeflow/regimeflow/pkg/types"
)

// TransitionObserver is notified synchronously, in registration order,
// whenever the tracked detector's regime changes (§4.5, §5).
type TransitionObserver func(types.RegimeTransition)

// Tracker wraps one Detector and turns its output stream into
// RegimeTransition events, keeping a bounded ring-buffer history (§4.5).
type Tracker struct {
	detector Detector

	hasState bool
	current  types.RegimeState

	history   *RingBuffer[types.RegimeState]
	observers []TransitionObserver
}

// DefaultHistoryCapacity is the tracker's default ring-buffer depth.
const DefaultHistoryCapacity = 256

// NewTracker wraps detector with a history ring buffer of the given
// capacity (<=0 defaults to DefaultHistoryCapacity).
func NewTracker(detector Detector, historyCapacity int) *Tracker {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &Tracker{
		detector: detector,
		history:  NewRingBuffer[types.RegimeState](historyCapacity),
	}
}

// Subscribe registers an observer, appended after any already registered.
func (t *Tracker) Subscribe(obs TransitionObserver) {
	t.observers = append(t.observers, obs)
}

// Current returns the most recently observed RegimeState, ok=false before
// the first event.
func (t *Tracker) Current() (types.RegimeState, bool) {
	return t.current, t.hasState
}

// History returns the ring-buffer contents, oldest first.
func (t *Tracker) History() []types.RegimeState {
	return t.history.Values()
}

// OnBar feeds a bar through the detector and updates tracker state.
func (t *Tracker) OnBar(bar types.Bar) types.RegimeState {
	return t.apply(t.detector.OnBar(bar))
}

// OnTick feeds a tick through the detector and updates tracker state.
func (t *Tracker) OnTick(tick types.Tick) types.RegimeState {
	return t.apply(t.detector.OnTick(tick))
}

// OnBook feeds a book snapshot through the detector and updates tracker
// state.
func (t *Tracker) OnBook(book types.OrderBook) types.RegimeState {
	return t.apply(t.detector.OnBook(book))
}

func (t *Tracker) apply(next types.RegimeState) types.RegimeState {
	if !t.hasState {
		t.current = next
		t.hasState = true
		t.history.Push(next)
		return next
	}

	if next.Regime != t.current.Regime {
		transition := types.RegimeTransition{
			From:                  t.current.Regime,
			To:                    next.Regime,
			Timestamp:             next.Timestamp,
			Confidence:            next.Confidence,
			DurationInFromSeconds: next.Timestamp.Sub(t.current.Timestamp).Seconds(),
		}
		t.current = next
		t.history.Push(next)
		for _, obs := range t.observers {
			obs(transition)
		}
		return next
	}

	t.current = next
	t.history.Push(next)
	return next
}
