package regime

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

const logFloor = -27.631021115928547 // math.Log(1e-12)

// GaussianParams is one state's diagonal-covariance Gaussian emission.
type GaussianParams struct {
	Mean     []float64
	Variance []float64
}

// HMMConfig configures an HMMDetector (§4.3, §6 hmm.* config keys).
type HMMConfig struct {
	States                   int
	Window                   int
	Features                 []FeatureType
	Normalization            NormalizationMode
	KalmanEnabled            bool
	KalmanProcessNoise       float64
	KalmanMeasurementNoise   float64
	// SeedMeans/SeedVars optionally seed emissions per state (hmm.state{i}.*
	// config keys), indexed [state][dim]. Nil entries fall back to the
	// default zero-mean, unit-variance initialization.
	SeedMeans [][]float64
	SeedVars  [][]float64
}

// DefaultHMMConfig mirrors the engine's wire-level defaults: 4 states, a
// 20-bar window over return/volatility/range.
func DefaultHMMConfig() HMMConfig {
	return HMMConfig{
		States:                 4,
		Window:                 20,
		Features:               []FeatureType{FeatureReturn, FeatureVolatility, FeatureRange},
		Normalization:          NormalizationNone,
		KalmanProcessNoise:     1e-4,
		KalmanMeasurementNoise: 1e-2,
	}
}

// HMMDetector is an online Gaussian HMM regime detector with offline
// Baum-Welch training (§4.3).
type HMMDetector struct {
	logger *zap.Logger

	mu sync.Mutex

	states int
	dim    int

	extractor *FeatureExtractor

	initial    []float64
	transition [][]float64
	emissions  []GaussianParams

	posterior []float64
	kalman    []*Kalman1D
	hasState  bool
	last      types.RegimeState

	cfg HMMConfig
}

// NewHMMDetector builds a detector from cfg, defaulting States to 4 and
// Window to 20, and applying any per-state seeding supplied in cfg.
func NewHMMDetector(logger *zap.Logger, cfg HMMConfig) *HMMDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.States <= 0 {
		cfg.States = 4
	}
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if len(cfg.Features) == 0 {
		cfg.Features = []FeatureType{FeatureReturn, FeatureVolatility, FeatureRange}
	}

	fe := NewFeatureExtractor(FeatureConfig{
		Window:        cfg.Window,
		Features:      cfg.Features,
		Normalization: cfg.Normalization,
	})

	h := &HMMDetector{
		logger:    logger,
		states:    cfg.States,
		dim:       len(cfg.Features),
		extractor: fe,
		cfg:       cfg,
	}
	h.initializeDefault()

	if cfg.KalmanEnabled {
		h.kalman = make([]*Kalman1D, h.states)
		q, r := cfg.KalmanProcessNoise, cfg.KalmanMeasurementNoise
		if q <= 0 {
			q = 1e-4
		}
		if r <= 0 {
			r = 1e-2
		}
		for i := range h.kalman {
			h.kalman[i] = NewKalman1D(q, r)
		}
	}

	for i, m := range cfg.SeedMeans {
		if i < h.states && len(m) == h.dim {
			copy(h.emissions[i].Mean, m)
		}
	}
	for i, v := range cfg.SeedVars {
		if i < h.states && len(v) == h.dim {
			for d, val := range v {
				h.emissions[i].Variance[d] = math.Max(val, 1e-6)
			}
		}
	}

	return h
}

func (h *HMMDetector) initializeDefault() {
	k, d := h.states, h.dim
	h.initial = uniform(k)
	h.transition = make([][]float64, k)
	for i := 0; i < k; i++ {
		h.transition[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			if i == j {
				h.transition[i][j] = 0.9
			} else if k > 1 {
				h.transition[i][j] = 0.1 / float64(k-1)
			} else {
				h.transition[i][j] = 1
			}
		}
	}
	h.emissions = make([]GaussianParams, k)
	for i := range h.emissions {
		h.emissions[i] = GaussianParams{
			Mean:     make([]float64, d),
			Variance: onesFloat(d),
		}
	}
	h.posterior = uniform(k)
}

// normalizeOrUniform returns p re-normalized to sum to 1 (negative entries
// clamped to 0), or a uniform vector when no positive mass remains.
func normalizeOrUniform(p []float64) []float64 {
	sum := 0.0
	for _, v := range p {
		sum += math.Max(v, 0)
	}
	if sum <= 0 {
		return uniform(len(p))
	}
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = math.Max(v, 0) / sum
	}
	return out
}

func uniform(k int) []float64 {
	out := make([]float64, k)
	if k == 0 {
		return out
	}
	u := 1.0 / float64(k)
	for i := range out {
		out[i] = u
	}
	return out
}

func onesFloat(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// NumStates returns the configured state count.
func (h *HMMDetector) NumStates() int { return h.states }

// StateNames returns the lowercase regime labels for the first four states
// and "custom" beyond, matching the external 4-way enum (§6).
func (h *HMMDetector) StateNames() []string {
	names := make([]string, h.states)
	for i := range names {
		names[i] = types.ClampRegime(i).String()
		if i > int(types.RegimeCrisis) {
			names[i] = "custom"
		}
	}
	return names
}

// OnBar folds a bar into the feature extractor and runs one online
// inference step.
func (h *HMMDetector) OnBar(bar types.Bar) types.RegimeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	x := h.extractor.OnBar(bar)
	return h.infer(bar.Timestamp, x)
}

// OnTick folds a tick into the feature extractor and runs one online
// inference step.
func (h *HMMDetector) OnTick(tick types.Tick) types.RegimeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	x := h.extractor.OnTick(tick)
	return h.infer(tick.Timestamp, x)
}

// OnBook folds a book snapshot into the feature extractor and runs one
// online inference step.
func (h *HMMDetector) OnBook(book types.OrderBook) types.RegimeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	x := h.extractor.OnBook(book)
	return h.infer(book.Timestamp, x)
}

func (h *HMMDetector) infer(ts time.Time, x types.FeatureVector) types.RegimeState {
	k := h.states
	logPi := make([]float64, k)
	for i := 0; i < k; i++ {
		prior := 0.0
		for j := 0; j < k; j++ {
			prior += h.posterior[j] * h.transition[j][i]
		}
		logPi[i] = floorLog(prior) + gaussianLogPDF(x, h.emissions[i])
	}
	newPosterior := softmax(logPi)

	if h.kalman != nil {
		for i := range newPosterior {
			newPosterior[i] = math.Max(h.kalman[i].Update(newPosterior[i]), 0)
		}
		newPosterior = normalizeOrUniform(newPosterior)
	}

	h.posterior = newPosterior
	h.hasState = true

	h.last = types.NewRegimeState(ts, append([]float64(nil), newPosterior...))
	return h.last
}

// floorLog returns log(max(p, 1e-12)), the numeric floor used throughout
// the HMM's log-domain computations (§9).
func floorLog(p float64) float64 {
	if p <= 1e-12 {
		return logFloor
	}
	return math.Log(p)
}

func gaussianLogPDF(x []float64, g GaussianParams) float64 {
	sum := 0.0
	for d := range x {
		variance := 1.0
		mean := 0.0
		if d < len(g.Variance) {
			variance = math.Max(g.Variance[d], 1e-6)
		}
		if d < len(g.Mean) {
			mean = g.Mean[d]
		}
		diff := x[d] - mean
		sum += -0.5*math.Log(2*math.Pi*variance) - (diff*diff)/(2*variance)
	}
	return sum
}

func logsumexp(xs []float64) float64 {
	if len(xs) == 0 {
		return logFloor
	}
	max := xs[0]
	for _, v := range xs {
		if v > max {
			max = v
		}
	}
	if math.IsInf(max, -1) {
		return logFloor
	}
	sum := 0.0
	for _, v := range xs {
		sum += math.Exp(v - max)
	}
	return max + math.Log(sum)
}

func softmax(logs []float64) []float64 {
	lse := logsumexp(logs)
	out := make([]float64, len(logs))
	for i, v := range logs {
		out[i] = math.Exp(v - lse)
	}
	return normalizeOrUniform(out)
}

// BaumWelchResult reports the outcome of an offline training run.
type BaumWelchResult struct {
	LogLikelihood float64
	Iterations    int
}

// Train runs Baum-Welch EM over a sequence of feature vectors (§4.3). All
// vectors must share h.dim dimensions.
func (h *HMMDetector) Train(data []types.FeatureVector, maxIter int, tol float64) (BaumWelchResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(data) == 0 {
		return BaumWelchResult{}, errs.New(errs.InvalidArgument, "HMMDetector.Train", "empty training data")
	}
	for _, x := range data {
		if len(x) != h.dim {
			return BaumWelchResult{}, errs.New(errs.InvalidArgument, "HMMDetector.Train", "feature vector dimension mismatch")
		}
	}
	if maxIter <= 0 {
		maxIter = 50
	}
	if tol <= 0 {
		tol = 1e-4
	}

	k, d := h.states, h.dim
	T := len(data)

	mean, variance := globalMeanVariance(data, d)
	for i := 0; i < k; i++ {
		h.emissions[i].Mean = append([]float64(nil), mean...)
		h.emissions[i].Variance = make([]float64, d)
		for dd := 0; dd < d; dd++ {
			h.emissions[i].Variance[dd] = math.Max(variance[dd], 1e-6)
		}
	}
	h.initial = uniform(k)
	for i := 0; i < k; i++ {
		h.transition[i] = uniform(k)
	}

	prevLogL := math.Inf(-1)
	result := BaumWelchResult{}

	for iter := 0; iter < maxIter; iter++ {
		alpha := h.forwardLog(data)
		beta := h.backwardLog(data)

		gamma := make([][]float64, T)
		for t := 0; t < T; t++ {
			row := make([]float64, k)
			for i := 0; i < k; i++ {
				row[i] = alpha[t][i] + beta[t][i]
			}
			gamma[t] = softmax(row)
		}

		xi := make([][][]float64, maxInt(T-1, 0))
		for t := 0; t < T-1; t++ {
			flat := make([]float64, k*k)
			idx := 0
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					flat[idx] = alpha[t][i] + floorLog(h.transition[i][j]) + gaussianLogPDF(data[t+1], h.emissions[j]) + beta[t+1][j]
					idx++
				}
			}
			normFlat := softmax(flat)
			mat := make([][]float64, k)
			idx = 0
			for i := 0; i < k; i++ {
				mat[i] = make([]float64, k)
				for j := 0; j < k; j++ {
					mat[i][j] = normFlat[idx]
					idx++
				}
			}
			xi[t] = mat
		}

		newInitial := make([]float64, k)
		copy(newInitial, gamma[0])

		newTransition := make([][]float64, k)
		for i := 0; i < k; i++ {
			denom := 0.0
			for t := 0; t < T-1; t++ {
				denom += gamma[t][i]
			}
			row := make([]float64, k)
			for j := 0; j < k; j++ {
				numer := 0.0
				for t := 0; t < T-1; t++ {
					numer += xi[t][i][j]
				}
				if denom > 0 {
					row[j] = math.Max(numer/denom, 1e-6)
				} else {
					row[j] = 1e-6
				}
			}
			row = renormalizeRow(row)
			newTransition[i] = row
		}

		newEmissions := make([]GaussianParams, k)
		for i := 0; i < k; i++ {
			denom := 0.0
			for t := 0; t < T; t++ {
				denom += gamma[t][i]
			}
			mu := make([]float64, d)
			if denom > 0 {
				for t := 0; t < T; t++ {
					for dd := 0; dd < d; dd++ {
						mu[dd] += gamma[t][i] * data[t][dd]
					}
				}
				for dd := 0; dd < d; dd++ {
					mu[dd] /= denom
				}
			}
			sigma2 := make([]float64, d)
			if denom > 0 {
				for t := 0; t < T; t++ {
					for dd := 0; dd < d; dd++ {
						diff := data[t][dd] - mu[dd]
						sigma2[dd] += gamma[t][i] * diff * diff
					}
				}
				for dd := 0; dd < d; dd++ {
					sigma2[dd] = math.Max(sigma2[dd]/denom, 1e-6)
				}
			} else {
				for dd := range sigma2 {
					sigma2[dd] = 1e-6
				}
			}
			newEmissions[i] = GaussianParams{Mean: mu, Variance: sigma2}
		}

		h.initial = newInitial
		h.transition = newTransition
		h.emissions = newEmissions

		logL := logsumexp(alpha[T-1])
		result.LogLikelihood = logL
		result.Iterations = iter + 1

		if math.Abs(logL-prevLogL) < tol {
			break
		}
		prevLogL = logL
	}

	h.posterior = append([]float64(nil), h.initial...)
	h.logger.Debug("baum-welch training complete",
		zap.Float64("log_likelihood", result.LogLikelihood),
		zap.Int("iterations", result.Iterations),
	)
	return result, nil
}

func (h *HMMDetector) forwardLog(data []types.FeatureVector) [][]float64 {
	T, k := len(data), h.states
	alpha := make([][]float64, T)
	alpha[0] = make([]float64, k)
	for i := 0; i < k; i++ {
		alpha[0][i] = floorLog(h.initial[i]) + gaussianLogPDF(data[0], h.emissions[i])
	}
	for t := 1; t < T; t++ {
		alpha[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			terms := make([]float64, k)
			for i := 0; i < k; i++ {
				terms[i] = alpha[t-1][i] + floorLog(h.transition[i][j])
			}
			alpha[t][j] = logsumexp(terms) + gaussianLogPDF(data[t], h.emissions[j])
		}
	}
	return alpha
}

func (h *HMMDetector) backwardLog(data []types.FeatureVector) [][]float64 {
	T, k := len(data), h.states
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, k)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			terms := make([]float64, k)
			for j := 0; j < k; j++ {
				terms[j] = floorLog(h.transition[i][j]) + gaussianLogPDF(data[t+1], h.emissions[j]) + beta[t+1][j]
			}
			beta[t][i] = logsumexp(terms)
		}
	}
	return beta
}

func renormalizeRow(row []float64) []float64 {
	sum := 0.0
	for _, v := range row {
		sum += v
	}
	if sum <= 0 {
		return uniform(len(row))
	}
	out := make([]float64, len(row))
	for i, v := range row {
		out[i] = v / sum
	}
	return out
}

func globalMeanVariance(data []types.FeatureVector, d int) ([]float64, []float64) {
	mean := make([]float64, d)
	n := float64(len(data))
	for _, x := range data {
		for dd := 0; dd < d; dd++ {
			mean[dd] += x[dd]
		}
	}
	for dd := range mean {
		mean[dd] /= n
	}
	variance := make([]float64, d)
	for _, x := range data {
		for dd := 0; dd < d; dd++ {
			diff := x[dd] - mean[dd]
			variance[dd] += diff * diff
		}
	}
	for dd := range variance {
		variance[dd] /= n
	}
	return mean, variance
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// normalizationCode/decode round-trip the persisted format's integer tag.
func normalizationCode(m NormalizationMode) int {
	switch m {
	case NormalizationZScore:
		return 1
	case NormalizationMinMax:
		return 2
	case NormalizationRobust:
		return 3
	default:
		return 0
	}
}

func normalizationFromCode(c int) NormalizationMode {
	switch c {
	case 1:
		return NormalizationZScore
	case 2:
		return NormalizationMinMax
	case 3:
		return NormalizationRobust
	default:
		return NormalizationNone
	}
}

// Save writes the persisted model text format (§6). I/O errors propagate to
// the caller; the detector's in-memory state is left untouched either way.
func (h *HMMDetector) Save(w io.Writer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "states %d\n", h.states)
	fmt.Fprintf(bw, "window %d\n", h.cfg.Window)
	fmt.Fprintf(bw, "normalization %d\n", normalizationCode(h.cfg.Normalization))
	fmt.Fprintf(bw, "features %d\n", len(h.cfg.Features))
	names := make([]string, len(h.cfg.Features))
	for i, f := range h.cfg.Features {
		names[i] = string(f)
	}
	fmt.Fprintln(bw, strings.Join(names, " "))
	fmt.Fprintf(bw, "initial %s\n", joinFloats(h.initial))
	fmt.Fprintln(bw, "transition")
	for i := 0; i < h.states; i++ {
		fmt.Fprintln(bw, joinFloats(h.transition[i]))
	}
	fmt.Fprintf(bw, "emissions %d\n", h.states)
	for i := 0; i < h.states; i++ {
		fmt.Fprintf(bw, "mean %s\n", joinFloats(h.emissions[i].Mean))
		fmt.Fprintf(bw, "variance %s\n", joinFloats(h.emissions[i].Variance))
	}
	return bw.Flush()
}

// Load reads the persisted model text format, round-tripping state count,
// window, feature configuration, normalization, initial, transition and
// emission parameters (§6). On a format error the detector keeps its prior
// state: it is replaced only once the full token stream parses successfully.
func (h *HMMDetector) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	next := func() ([]string, bool) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			return strings.Fields(line), true
		}
		return nil, false
	}

	tok, ok := next()
	if !ok || len(tok) < 2 || tok[0] != "states" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing states header")
	}
	states, err := strconv.Atoi(tok[1])
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "HMMDetector.Load", "bad states value", err)
	}

	tok, ok = next()
	if !ok || len(tok) < 2 || tok[0] != "window" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing window header")
	}
	window, _ := strconv.Atoi(tok[1])

	tok, ok = next()
	if !ok || len(tok) < 2 || tok[0] != "normalization" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing normalization header")
	}
	normCode, _ := strconv.Atoi(tok[1])

	tok, ok = next()
	if !ok || len(tok) < 2 || tok[0] != "features" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing features header")
	}
	numFeatures, _ := strconv.Atoi(tok[1])

	tok, ok = next()
	if !ok || len(tok) != numFeatures {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "feature name row length mismatch")
	}
	features := make([]FeatureType, numFeatures)
	for i, name := range tok {
		features[i] = FeatureType(name)
	}

	tok, ok = next()
	if !ok || len(tok) < 1+states || tok[0] != "initial" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "bad initial row")
	}
	initial, err := parseFloats(tok[1 : 1+states])
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "HMMDetector.Load", "bad initial values", err)
	}

	tok, ok = next()
	if !ok || tok[0] != "transition" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing transition header")
	}
	transition := make([][]float64, states)
	for i := 0; i < states; i++ {
		tok, ok = next()
		if !ok || len(tok) < states {
			return errs.New(errs.InvalidArgument, "HMMDetector.Load", "bad transition row")
		}
		row, err := parseFloats(tok[:states])
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "HMMDetector.Load", "bad transition values", err)
		}
		transition[i] = row
	}

	tok, ok = next()
	if !ok || len(tok) < 2 || tok[0] != "emissions" {
		return errs.New(errs.InvalidArgument, "HMMDetector.Load", "missing emissions header")
	}
	dim := numFeatures
	emissions := make([]GaussianParams, states)
	for i := 0; i < states; i++ {
		meanTok, ok := next()
		if !ok || len(meanTok) < 1+dim || meanTok[0] != "mean" {
			return errs.New(errs.InvalidArgument, "HMMDetector.Load", "bad mean row")
		}
		meanVals, err := parseFloats(meanTok[1 : 1+dim])
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "HMMDetector.Load", "bad mean values", err)
		}
		varTok, ok := next()
		if !ok || len(varTok) < 1+dim || varTok[0] != "variance" {
			return errs.New(errs.InvalidArgument, "HMMDetector.Load", "bad variance row")
		}
		varVals, err := parseFloats(varTok[1 : 1+dim])
		if err != nil {
			return errs.Wrap(errs.InvalidArgument, "HMMDetector.Load", "bad variance values", err)
		}
		emissions[i] = GaussianParams{Mean: meanVals, Variance: varVals}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = states
	h.dim = dim
	h.cfg.Window = window
	h.cfg.Normalization = normalizationFromCode(normCode)
	h.cfg.Features = features
	h.initial = initial
	h.transition = transition
	h.emissions = emissions
	h.posterior = append([]float64(nil), initial...)
	return nil
}

func joinFloats(xs []float64) string {
	parts := make([]string, len(xs))
	for i, v := range xs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parseFloats(tok []string) ([]float64, error) {
	out := make([]float64, len(tok))
	for i, t := range tok {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
