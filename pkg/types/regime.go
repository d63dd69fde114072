package types

import "time"

// RegimeType is the tagged 4-way market state plus an extension slot used by
// ensembles with more than four hidden states. Any index beyond Crisis
// clamps to Crisis on external interfaces (§3 Data Model).
type RegimeType int

const (
	RegimeBull RegimeType = iota
	RegimeNeutral
	RegimeBear
	RegimeCrisis
)

// ClampRegime clamps an arbitrary state index onto the 4-way external enum.
func ClampRegime(index int) RegimeType {
	if index < 0 {
		return RegimeBull
	}
	if index > int(RegimeCrisis) {
		return RegimeCrisis
	}
	return RegimeType(index)
}

// String returns the lowercase label used on every external interface (§6).
func (r RegimeType) String() string {
	switch r {
	case RegimeBull:
		return "bull"
	case RegimeNeutral:
		return "neutral"
	case RegimeBear:
		return "bear"
	case RegimeCrisis:
		return "crisis"
	default:
		return "custom"
	}
}

// RegimeState is the immutable output of a single detector evaluation.
type RegimeState struct {
	Timestamp        time.Time  `json:"timestamp"`
	Regime           RegimeType `json:"regime"`
	Confidence       float64    `json:"confidence"`
	Probabilities    [4]float64 `json:"probabilities"`
	ProbabilitiesAll []float64  `json:"probabilitiesAll"`
	StateCount       int        `json:"stateCount"`
}

// NewRegimeState builds a RegimeState from a full posterior vector,
// deriving regime/confidence/probabilities per the §3 invariants.
func NewRegimeState(ts time.Time, posterior []float64) RegimeState {
	posterior = normalizeOrUniform(posterior)
	argmax, maxP := 0, -1.0
	for i, p := range posterior {
		if p > maxP {
			maxP = p
			argmax = i
		}
	}
	state := RegimeState{
		Timestamp:        ts,
		Regime:           ClampRegime(argmax),
		Confidence:       maxP,
		ProbabilitiesAll: posterior,
		StateCount:       len(posterior),
	}
	for i := 0; i < 4 && i < len(posterior); i++ {
		state.Probabilities[i] = posterior[i]
	}
	return state
}

// normalizeOrUniform returns p re-normalized to sum to 1, or a uniform
// vector when the input is empty or degenerates to all-zero (§7).
func normalizeOrUniform(p []float64) []float64 {
	if len(p) == 0 {
		return []float64{1}
	}
	sum := 0.0
	for _, v := range p {
		if v > 0 {
			sum += v
		}
	}
	out := make([]float64, len(p))
	if sum <= 0 {
		u := 1.0 / float64(len(p))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i, v := range p {
		if v < 0 {
			v = 0
		}
		out[i] = v / sum
	}
	return out
}

// RegimeTransition is emitted by the tracker iff the inferred regime changes.
type RegimeTransition struct {
	From                   RegimeType    `json:"from"`
	To                     RegimeType    `json:"to"`
	Timestamp              time.Time     `json:"timestamp"`
	Confidence             float64       `json:"confidence"`
	DurationInFromSeconds  float64       `json:"durationInFromSeconds"`
}

// FeatureVector is an ordered sequence of real numbers, one per configured
// feature type (§3).
type FeatureVector []float64
