package regime

import (
	"math"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
)

// VotingMethod selects how an EnsembleDetector combines child RegimeStates
// (§4.4, §6 "ensemble.voting_method").
type VotingMethod string

const (
	VotingWeightedAverage   VotingMethod = "weighted_average"
	VotingMajority          VotingMethod = "majority"
	VotingConfidenceWeighted VotingMethod = "confidence_weighted"
	VotingBayesian          VotingMethod = "bayesian"
)

// ChildConfig pairs a child detector config with its ensemble weight.
type ChildConfig struct {
	Config Config
	Weight float64
}

// EnsembleConfig configures an EnsembleDetector.
type EnsembleConfig struct {
	Method   VotingMethod
	Children []ChildConfig
}

// EnsembleDetector dispatches every event to N child detectors and combines
// their RegimeStates under one voting discipline (§4.4).
type EnsembleDetector struct {
	method   VotingMethod
	children []Detector
	weights  []float64
}

// NewEnsembleDetector builds an ensemble from cfg's child configs.
func NewEnsembleDetector(cfg EnsembleConfig) (*EnsembleDetector, error) {
	if len(cfg.Children) == 0 {
		return nil, errs.New(errs.InvalidArgument, "NewEnsembleDetector", "ensemble requires at least one child")
	}
	method := cfg.Method
	if method == "" {
		method = VotingWeightedAverage
	}
	e := &EnsembleDetector{method: method}
	for _, c := range cfg.Children {
		d, err := New(nil, c.Config)
		if err != nil {
			return nil, err
		}
		e.children = append(e.children, d)
		e.weights = append(e.weights, c.Weight)
	}
	return e, nil
}

// AddChild registers an already-constructed child detector with weight w.
// Used by callers (e.g. tests) that build children directly rather than
// through Config.
func (e *EnsembleDetector) AddChild(d Detector, weight float64) {
	e.children = append(e.children, d)
	e.weights = append(e.weights, weight)
	if e.method == "" {
		e.method = VotingWeightedAverage
	}
}

// NumStates delegates to the first child (§4.4).
func (e *EnsembleDetector) NumStates() int {
	if len(e.children) == 0 {
		return 0
	}
	return e.children[0].NumStates()
}

// StateNames delegates to the first child (§4.4).
func (e *EnsembleDetector) StateNames() []string {
	if len(e.children) == 0 {
		return nil
	}
	return e.children[0].StateNames()
}

func (e *EnsembleDetector) OnBar(bar types.Bar) types.RegimeState {
	states := make([]types.RegimeState, len(e.children))
	for i, c := range e.children {
		states[i] = c.OnBar(bar)
	}
	return e.combine(states)
}

func (e *EnsembleDetector) OnTick(tick types.Tick) types.RegimeState {
	states := make([]types.RegimeState, len(e.children))
	for i, c := range e.children {
		states[i] = c.OnTick(tick)
	}
	return e.combine(states)
}

func (e *EnsembleDetector) OnBook(book types.OrderBook) types.RegimeState {
	states := make([]types.RegimeState, len(e.children))
	for i, c := range e.children {
		states[i] = c.OnBook(book)
	}
	return e.combine(states)
}

func (e *EnsembleDetector) combine(states []types.RegimeState) types.RegimeState {
	length := 0
	for _, s := range states {
		if length == 0 || len(s.ProbabilitiesAll) < length {
			length = len(s.ProbabilitiesAll)
		}
	}
	if length == 0 {
		length = 1
	}

	var posterior []float64
	switch e.method {
	case VotingMajority:
		posterior = e.combineMajority(states, length)
	case VotingConfidenceWeighted:
		posterior = e.combineConfidenceWeighted(states, length)
	case VotingBayesian:
		posterior = e.combineBayesian(states, length)
	default:
		posterior = e.combineWeightedAverage(states, length)
	}

	timestamp := states[0].Timestamp
	return types.NewRegimeState(timestamp, posterior)
}

func (e *EnsembleDetector) combineWeightedAverage(states []types.RegimeState, length int) []float64 {
	out := make([]float64, length)
	totalWeight := 0.0
	for i, s := range states {
		w := e.weightOf(i)
		totalWeight += w
		for d := 0; d < length; d++ {
			out[d] += w * s.ProbabilitiesAll[d]
		}
	}
	if totalWeight <= 0 {
		return uniform(length)
	}
	for d := range out {
		out[d] /= totalWeight
	}
	return out
}

func (e *EnsembleDetector) combineMajority(states []types.RegimeState, length int) []float64 {
	counts := make([]float64, length)
	for _, s := range states {
		argmax, maxP := 0, -1.0
		for d := 0; d < length && d < len(s.ProbabilitiesAll); d++ {
			if s.ProbabilitiesAll[d] > maxP {
				maxP = s.ProbabilitiesAll[d]
				argmax = d
			}
		}
		counts[argmax]++
	}
	return normalizeOrUniform(counts)
}

func (e *EnsembleDetector) combineConfidenceWeighted(states []types.RegimeState, length int) []float64 {
	out := make([]float64, length)
	total := 0.0
	for i, s := range states {
		w := e.weightOf(i) * s.Confidence
		total += w
		for d := 0; d < length; d++ {
			out[d] += w * s.ProbabilitiesAll[d]
		}
	}
	if total <= 0 {
		return uniform(length)
	}
	for d := range out {
		out[d] /= total
	}
	return out
}

func (e *EnsembleDetector) combineBayesian(states []types.RegimeState, length int) []float64 {
	logp := make([]float64, length)
	for i, s := range states {
		w := e.weightOf(i)
		for d := 0; d < length; d++ {
			logp[d] += w * math.Log(math.Max(s.ProbabilitiesAll[d], 1e-12))
		}
	}
	return softmax(logp)
}

func (e *EnsembleDetector) weightOf(i int) float64 {
	if i < len(e.weights) {
		return e.weights[i]
	}
	return 1
}
