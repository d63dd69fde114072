package config

import (
	"strconv"

	"github.com/regimeflow/regimeflow/internal/execution"
	"github.com/regimeflow/regimeflow/internal/regime"
	"github.com/regimeflow/regimeflow/internal/risk"
	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BuildDetectorConfig translates the dotted-path detector/hmm/ensemble
// keys into internal/regime's own Config shape, so callers construct a
// Detector with regime.New(logger, BuildDetectorConfig(cfg)).
func BuildDetectorConfig(cfg *Config) regime.Config {
	return regime.Config{
		Kind: cfg.Detector.Type,
		HMM:  buildHMMConfig(cfg.HMM),
		Ensemble: regime.EnsembleConfig{
			Method:   regime.VotingMethod(cfg.Ensemble.VotingMethod),
			Children: buildEnsembleChildren(cfg.Ensemble.Detectors),
		},
	}
}

func buildHMMConfig(h HMMConfig) regime.HMMConfig {
	features := make([]regime.FeatureType, 0, len(h.Features))
	for _, f := range h.Features {
		features = append(features, regime.FeatureType(f))
	}

	out := regime.HMMConfig{
		States:                 h.States,
		Window:                 h.Window,
		Features:               features,
		Normalization:          regime.NormalizationMode(h.Normalization),
		KalmanEnabled:          h.KalmanEnabled,
		KalmanProcessNoise:     h.KalmanProcessNoise,
		KalmanMeasurementNoise: h.KalmanMeasurementNoise,
	}
	if len(h.SeedStates) == 0 {
		return out
	}

	out.SeedMeans = make([][]float64, h.States)
	out.SeedVars = make([][]float64, h.States)
	dim := len(features)
	for i := 0; i < h.States; i++ {
		seed, ok := h.SeedStates[stateKey(i)]
		if !ok {
			continue
		}
		mean := make([]float64, dim)
		variance := make([]float64, dim)
		for d := 0; d < dim; d++ {
			switch features[d] {
			case regime.FeatureVolatility, regime.FeatureVolatilityRatio, regime.FeatureRangeZScore:
				mean[d] = seed.MeanVol
				variance[d] = seed.VarVol
			default:
				mean[d] = seed.MeanReturn
				variance[d] = seed.VarReturn
			}
		}
		out.SeedMeans[i] = mean
		out.SeedVars[i] = variance
	}
	return out
}

func stateKey(i int) string {
	return "state" + strconv.Itoa(i)
}

func buildEnsembleChildren(children []EnsembleChildConfig) []regime.ChildConfig {
	out := make([]regime.ChildConfig, 0, len(children))
	for _, c := range children {
		out = append(out, regime.ChildConfig{
			Config: regime.Config{
				Kind: c.Detector.Type,
				HMM:  buildHMMConfig(c.HMM),
			},
			Weight: c.Weight,
		})
	}
	return out
}

// BuildRiskManager constructs a risk.Manager with base limits plus
// per-regime overlays described by cfg's limits/limits_by_regime keys
// (section 4.6).
func BuildRiskManager(logger *zap.Logger, cfg *Config) (*risk.Manager, error) {
	m := risk.NewManager(logger)
	base, err := buildLimits(cfg.Limits)
	if err != nil {
		return nil, err
	}
	for _, l := range base {
		m.AddLimit(l)
	}
	for regimeName, entry := range cfg.LimitsByRegime {
		limits, err := buildLimits(entry.Limits)
		if err != nil {
			return nil, err
		}
		for _, l := range limits {
			m.AddRegimeLimit(regimeName, l)
		}
	}
	return m, nil
}

func buildLimits(c LimitsConfig) ([]risk.Limit, error) {
	var out []risk.Limit
	if c.MaxNotional > 0 {
		out = append(out, risk.NewMaxNotionalLimit(decimal.NewFromFloat(c.MaxNotional)))
	}
	if c.MaxPosition > 0 {
		out = append(out, risk.NewMaxPositionLimit(decimal.NewFromFloat(c.MaxPosition)))
	}
	if c.MaxPositionPct > 0 {
		out = append(out, risk.NewMaxPositionPctLimit(c.MaxPositionPct))
	}
	if c.MaxDrawdown > 0 {
		out = append(out, risk.NewMaxDrawdownLimit(c.MaxDrawdown))
	}
	if c.MaxGrossExposure > 0 {
		out = append(out, risk.NewMaxGrossExposureLimit(decimal.NewFromFloat(c.MaxGrossExposure)))
	}
	if c.MaxNetExposure > 0 {
		out = append(out, risk.NewMaxNetExposureLimit(decimal.NewFromFloat(c.MaxNetExposure)))
	}
	if c.MaxLeverage > 0 {
		out = append(out, risk.NewMaxLeverageLimit(c.MaxLeverage))
	}
	if len(c.MaxSectorExposure) > 0 {
		out = append(out, risk.NewMaxSectorExposureLimit(c.MaxSectorExposure, nil))
	}
	if len(c.MaxIndustryExposure) > 0 {
		out = append(out, risk.NewMaxIndustryExposureLimit(c.MaxIndustryExposure, nil))
	}
	if c.Correlation.Enabled {
		out = append(out, risk.NewMaxCorrelationExposureLimit(
			c.Correlation.Window, c.Correlation.MaxCorrelation, c.Correlation.MaxPairExposurePct))
	}
	return out, nil
}

// BuildSlippageModel constructs the section-4.7 slippage model named by
// "slippage.type".
func BuildSlippageModel(cfg *Config) (execution.SlippageModel, error) {
	switch cfg.Slippage.Type {
	case "", "zero":
		return execution.ZeroSlippage{}, nil
	case "fixed_bps":
		return execution.NewFixedBpsSlippage(decimal.NewFromFloat(cfg.Slippage.Bps)), nil
	case "regime_bps":
		byRegime := make(map[string]decimal.Decimal, len(cfg.Slippage.ByRegime))
		for k, v := range cfg.Slippage.ByRegime {
			byRegime[k] = decimal.NewFromFloat(v)
		}
		return execution.NewRegimeBpsSlippage(decimal.NewFromFloat(cfg.Slippage.Bps), byRegime), nil
	case "book_depth":
		return execution.NewBookDepthSlippage(execution.NewBookStore(), decimal.NewFromFloat(cfg.Slippage.Bps)), nil
	default:
		return nil, errs.New(errs.InvalidArgument, "BuildSlippageModel", "unknown slippage.type: "+cfg.Slippage.Type)
	}
}

// BuildCommissionModel constructs the commission model named by
// "commission.type".
func BuildCommissionModel(cfg *Config) (execution.CommissionModel, error) {
	switch cfg.Commission.Type {
	case "", "zero":
		return execution.ZeroCommission{}, nil
	case "fixed":
		return execution.FixedCommission{Fee: decimal.NewFromFloat(cfg.Commission.Fee)}, nil
	default:
		return nil, errs.New(errs.InvalidArgument, "BuildCommissionModel", "unknown commission.type: "+cfg.Commission.Type)
	}
}

// BuildTransactionCostModel constructs the transaction-cost model named by
// "transaction_cost.type".
func BuildTransactionCostModel(cfg *Config) (execution.TransactionCostModel, error) {
	switch cfg.TransactionCost.Type {
	case "", "zero":
		return execution.ZeroCost{}, nil
	case "fixed_bps":
		return execution.FixedBpsCost{Bps: decimal.NewFromFloat(cfg.TransactionCost.Bps)}, nil
	case "per_share":
		return execution.PerShareCost{Rate: decimal.NewFromFloat(cfg.TransactionCost.Rate)}, nil
	case "per_order":
		return execution.NewPerOrderCost(decimal.NewFromFloat(cfg.TransactionCost.Fee)), nil
	case "tiered":
		tiers := make([]execution.CostTier, 0, len(cfg.TransactionCost.Tiers))
		for _, t := range cfg.TransactionCost.Tiers {
			tiers = append(tiers, execution.CostTier{
				MaxNotional: decimal.NewFromFloat(t.MaxNotional),
				Bps:         decimal.NewFromFloat(t.Bps),
			})
		}
		return execution.NewTieredCost(tiers), nil
	default:
		return nil, errs.New(errs.InvalidArgument, "BuildTransactionCostModel", "unknown transaction_cost.type: "+cfg.TransactionCost.Type)
	}
}
