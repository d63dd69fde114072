package attribution

import (
	"sync"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// regimeSegment is the portion of the equity curve observed while a
// given RegimeType was current, used by RegimeSummaries to segment
// performance by regime (§4.9, original_source's calculate_by_regime).
type regimeSegment struct {
	regime types.RegimeType
	curve  []types.PortfolioSnapshot
	fills  []types.Fill
}

// Tracker accumulates every event the pipeline emits -- equity snapshots,
// fills, regime transitions and states, rejected orders -- and derives
// performance/attribution reports on demand. It implements
// engine.MetricsSink (matched structurally; attribution does not import
// engine to avoid a cycle with internal/engine depending on attribution
// report types in the future).
type Tracker struct {
	mu sync.Mutex

	curve       []types.PortfolioSnapshot
	fills       []types.Fill
	costs       []decimal.Decimal
	transitions []types.RegimeTransition
	rejected    int

	currentRegime types.RegimeType
	hasRegime     bool
	segments      []regimeSegment
}

// NewTracker builds an empty metrics Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// OnSnapshot appends an equity-curve point.
func (t *Tracker) OnSnapshot(snap types.PortfolioSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curve = append(t.curve, snap)
	if t.hasRegime && len(t.segments) > 0 {
		last := &t.segments[len(t.segments)-1]
		last.curve = append(last.curve, snap)
	}
}

// OnFill appends a fill and its associated transaction cost.
func (t *Tracker) OnFill(fill types.Fill, cost decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fills = append(t.fills, fill)
	t.costs = append(t.costs, cost)
	if t.hasRegime && len(t.segments) > 0 {
		last := &t.segments[len(t.segments)-1]
		last.fills = append(last.fills, fill)
	}
}

// OnTransition appends a regime transition.
func (t *Tracker) OnTransition(tr types.RegimeTransition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitions = append(t.transitions, tr)
}

// OnOrderRejected counts a risk-rejected or unpriceable order.
func (t *Tracker) OnOrderRejected(_ *types.Order, _ error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejected++
}

// OnRegimeState records the latest inferred regime, opening a new
// per-regime segment whenever the regime changes.
func (t *Tracker) OnRegimeState(state types.RegimeState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasRegime || state.Regime != t.currentRegime {
		t.currentRegime = state.Regime
		t.hasRegime = true
		t.segments = append(t.segments, regimeSegment{regime: state.Regime})
	}
}

// EquityCurve returns a copy of the accumulated equity curve.
func (t *Tracker) EquityCurve() []types.PortfolioSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.PortfolioSnapshot(nil), t.curve...)
}

// Fills returns a copy of the accumulated fill stream.
func (t *Tracker) Fills() []types.Fill {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.Fill(nil), t.fills...)
}

// Transitions returns a copy of every regime transition observed.
func (t *Tracker) Transitions() []types.RegimeTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.RegimeTransition(nil), t.transitions...)
}

// RejectedOrders returns the count of orders the risk gate or pricing
// stage rejected.
func (t *Tracker) RejectedOrders() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rejected
}

// TotalCost returns the cumulative transaction cost debited across all
// fills (separate from commission, which is already folded into fill
// PnL via BuildTradesFromFills).
func (t *Tracker) TotalCost() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := decimal.Zero
	for _, c := range t.costs {
		total = total.Add(c)
	}
	return total
}

// Performance computes the overall performance summary from everything
// accumulated so far (§4.8).
func (t *Tracker) Performance(riskFreeRate float64) Summary {
	t.mu.Lock()
	curve := append([]types.PortfolioSnapshot(nil), t.curve...)
	fills := append([]types.Fill(nil), t.fills...)
	t.mu.Unlock()
	return Calculate(curve, fills, riskFreeRate, nil)
}

// RegimeSummary pairs a regime label with its segment's performance and
// the fraction of total time spent in it.
type RegimeSummary struct {
	Regime        types.RegimeType
	TimePct       float64
	TradeCount    int
	Summary       Summary
}

// RegimeSummaries computes one Summary per regime segment observed,
// per original_source's calculate_by_regime (§4.9).
func (t *Tracker) RegimeSummaries(riskFreeRate float64) []RegimeSummary {
	t.mu.Lock()
	segments := append([]regimeSegment(nil), t.segments...)
	totalPoints := len(t.curve)
	t.mu.Unlock()

	byRegime := make(map[types.RegimeType][]regimeSegment)
	for _, seg := range segments {
		byRegime[seg.regime] = append(byRegime[seg.regime], seg)
	}

	out := make([]RegimeSummary, 0, len(byRegime))
	for regimeType, segs := range byRegime {
		var curve []types.PortfolioSnapshot
		var fills []types.Fill
		for _, seg := range segs {
			curve = append(curve, seg.curve...)
			fills = append(fills, seg.fills...)
		}
		timePct := 0.0
		if totalPoints > 0 {
			timePct = float64(len(curve)) / float64(totalPoints)
		}
		out = append(out, RegimeSummary{
			Regime:     regimeType,
			TimePct:    timePct,
			TradeCount: len(BuildTradesFromFills(fills)),
			Summary:    Calculate(curve, fills, riskFreeRate, nil),
		})
	}
	return out
}

// TransitionSummary aggregates occurrences of one From->To regime pair
// (§4.9, original_source's TransitionMetricsSummary).
type TransitionSummary struct {
	From        types.RegimeType
	To          types.RegimeType
	Occurrences int
	AvgDurationInFromSeconds float64
	AvgConfidence float64
}

// TransitionSummaries groups accumulated transitions by (from, to) pair.
func (t *Tracker) TransitionSummaries() []TransitionSummary {
	t.mu.Lock()
	transitions := append([]types.RegimeTransition(nil), t.transitions...)
	t.mu.Unlock()

	type key struct {
		from, to types.RegimeType
	}
	agg := make(map[key]*TransitionSummary)
	order := make([]key, 0)
	for _, tr := range transitions {
		k := key{tr.From, tr.To}
		s, ok := agg[k]
		if !ok {
			s = &TransitionSummary{From: tr.From, To: tr.To}
			agg[k] = s
			order = append(order, k)
		}
		s.Occurrences++
		s.AvgDurationInFromSeconds += tr.DurationInFromSeconds
		s.AvgConfidence += tr.Confidence
	}
	out := make([]TransitionSummary, 0, len(order))
	for _, k := range order {
		s := agg[k]
		if s.Occurrences > 0 {
			s.AvgDurationInFromSeconds /= float64(s.Occurrences)
			s.AvgConfidence /= float64(s.Occurrences)
		}
		out = append(out, *s)
	}
	return out
}
