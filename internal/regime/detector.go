// Package regime implements the regime detection core: a rolling feature
// extractor, a Gaussian HMM with online inference and offline Baum-Welch
// training, an ensemble of child detectors, and the tracker that turns a
// detector's output stream into timestamped regime transitions.
package regime

import (
	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"go.uber.org/zap"
)

// Detector is the closed polymorphic surface every regime model implements
// (§9 "tagged variant when the set of implementations is closed"). Builtin
// detector types are hmm, ensemble and constant; user-supplied detectors
// arrive through the plugin registry instead of this interface directly.
type Detector interface {
	OnBar(types.Bar) types.RegimeState
	OnTick(types.Tick) types.RegimeState
	OnBook(types.OrderBook) types.RegimeState
	NumStates() int
	StateNames() []string
}

// Config selects and parameterizes one of the builtin detector types
// (§6 "detector" / "type" config key).
type Config struct {
	Kind     string // "constant", "hmm", "ensemble"
	HMM      HMMConfig
	Constant types.RegimeType
	Ensemble EnsembleConfig
}

// New builds a Detector from cfg. Unknown kinds return InvalidArgument;
// callers needing a plugin-backed detector should go through the plugin
// registry instead.
func New(logger *zap.Logger, cfg Config) (Detector, error) {
	switch cfg.Kind {
	case "", "hmm":
		return NewHMMDetector(logger, cfg.HMM), nil
	case "constant":
		return NewConstantDetector(cfg.Constant), nil
	case "ensemble":
		return NewEnsembleDetector(cfg.Ensemble)
	default:
		return nil, errs.New(errs.InvalidArgument, "regime.New", "unknown detector kind: "+cfg.Kind)
	}
}
