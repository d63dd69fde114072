// Package config loads the dotted-path configuration contract (section 6
// of the specification this engine implements) from a YAML file with
// environment-variable overrides, following the same viper.New/SetConfigFile/
// AutomaticEnv idiom as the polymarket-mm example's internal/config.
package config

import (
	"fmt"
	"strings"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/spf13/viper"
)

// DetectorConfig selects the top-level detector. The kind is read from the
// nested "detector.type" key only; a top-level "type" key is not read.
type DetectorConfig struct {
	Type string `mapstructure:"type"`
}

// StateSeedConfig seeds one HMM state's emission Gaussian
// (hmm.state{i}.{mean_return,mean_vol,var_return,var_vol}).
type StateSeedConfig struct {
	MeanReturn float64 `mapstructure:"mean_return"`
	MeanVol    float64 `mapstructure:"mean_vol"`
	VarReturn  float64 `mapstructure:"var_return"`
	VarVol     float64 `mapstructure:"var_vol"`
}

// HMMConfig mirrors internal/regime.HMMConfig's source keys.
type HMMConfig struct {
	States                 int               `mapstructure:"states"`
	Window                 int               `mapstructure:"window"`
	Features               []string          `mapstructure:"features"`
	Normalization          string            `mapstructure:"normalization"`
	KalmanEnabled          bool              `mapstructure:"kalman_enabled"`
	KalmanProcessNoise     float64           `mapstructure:"kalman_process_noise"`
	KalmanMeasurementNoise float64           `mapstructure:"kalman_measurement_noise"`
	SeedStates             map[string]StateSeedConfig `mapstructure:"-"`
}

// EnsembleChildConfig is one ensemble member: a nested detector plus its
// voting weight.
type EnsembleChildConfig struct {
	Detector DetectorConfig `mapstructure:"detector"`
	HMM      HMMConfig      `mapstructure:"hmm"`
	Weight   float64        `mapstructure:"weight"`
}

// EnsembleConfig mirrors internal/regime.EnsembleConfig's source keys.
type EnsembleConfig struct {
	VotingMethod string                `mapstructure:"voting_method"`
	Detectors    []EnsembleChildConfig `mapstructure:"detectors"`
}

// CostTierConfig is one tiered-transaction-cost band.
type CostTierConfig struct {
	MaxNotional float64 `mapstructure:"max_notional"`
	Bps         float64 `mapstructure:"bps"`
}

// SlippageConfig selects and parameterizes a slippage model
// ("slippage.type" in {zero, fixed_bps, regime_bps, book_depth}).
type SlippageConfig struct {
	Type     string             `mapstructure:"type"`
	Bps      float64            `mapstructure:"bps"`
	ByRegime map[string]float64 `mapstructure:"by_regime"`
}

// CommissionConfig selects a commission model ("commission.type" in
// {zero, fixed}).
type CommissionConfig struct {
	Type string  `mapstructure:"type"`
	Fee  float64 `mapstructure:"fee"`
}

// TransactionCostConfig selects a transaction-cost model
// ("transaction_cost.type" in {zero, fixed_bps, per_share, per_order, tiered}).
type TransactionCostConfig struct {
	Type  string           `mapstructure:"type"`
	Bps   float64          `mapstructure:"bps"`
	Rate  float64          `mapstructure:"rate"`
	Fee   float64          `mapstructure:"fee"`
	Tiers []CostTierConfig `mapstructure:"tiers"`
}

// LimitsConfig is the flat set of risk limits a single RiskLimit
// composition can hold (section 4.6), either as the base set ("limits.*")
// or nested per regime ("limits_by_regime.<name>.limits.*").
type LimitsConfig struct {
	MaxNotional         float64            `mapstructure:"max_notional"`
	MaxPosition         float64            `mapstructure:"max_position"`
	MaxPositionPct      float64            `mapstructure:"max_position_pct"`
	MaxDrawdown         float64            `mapstructure:"max_drawdown"`
	MaxGrossExposure    float64            `mapstructure:"max_gross_exposure"`
	MaxNetExposure      float64            `mapstructure:"max_net_exposure"`
	MaxLeverage         float64            `mapstructure:"max_leverage"`
	MaxSectorExposure   map[string]float64 `mapstructure:"max_sector_exposure"`
	MaxIndustryExposure map[string]float64 `mapstructure:"max_industry_exposure"`
	Correlation         CorrelationLimitConfig `mapstructure:"correlation"`
}

// CorrelationLimitConfig parameterizes MaxCorrelationExposureLimit.
type CorrelationLimitConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	Window             int     `mapstructure:"window"`
	MaxCorrelation     float64 `mapstructure:"max_correlation"`
	MaxPairExposurePct float64 `mapstructure:"max_pair_exposure_pct"`
}

// RegimeLimitsConfig wraps one "limits_by_regime.<name>" entry.
type RegimeLimitsConfig struct {
	Limits LimitsConfig `mapstructure:"limits"`
}

// LatencyConfig models fixed simulated order-acknowledgement latency.
type LatencyConfig struct {
	Ms int `mapstructure:"ms"`
}

// LoggingConfig controls the zap logger's level/encoding (ambient stack,
// not part of the section 6 contract but carried the way the teacher's
// cmd/server wires its logger).
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Config is the top-level configuration, unmarshaled directly from the
// dotted-path keys named in the external-interfaces contract.
type Config struct {
	Detector        DetectorConfig                `mapstructure:"detector"`
	HMM             HMMConfig                     `mapstructure:"hmm"`
	Ensemble        EnsembleConfig                `mapstructure:"ensemble"`
	Slippage        SlippageConfig                `mapstructure:"slippage"`
	Commission      CommissionConfig              `mapstructure:"commission"`
	TransactionCost TransactionCostConfig         `mapstructure:"transaction_cost"`
	Limits          LimitsConfig                  `mapstructure:"limits"`
	LimitsByRegime  map[string]RegimeLimitsConfig  `mapstructure:"limits_by_regime"`
	Latency         LatencyConfig                 `mapstructure:"latency"`
	Logging         LoggingConfig                 `mapstructure:"logging"`
}

// Load reads config from a YAML file with REGIMEFLOW_*-prefixed env var
// overrides, following polymarket-mm's config.Load (viper.New,
// SetConfigFile, SetEnvPrefix, AutomaticEnv, Unmarshal).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REGIMEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.HMM.SeedStates = extractStateSeeds(v, cfg.HMM.States)
	for i, child := range cfg.Ensemble.Detectors {
		cfg.Ensemble.Detectors[i].HMM.SeedStates = extractStateSeeds(
			v, child.HMM.States, fmt.Sprintf("ensemble.detectors.%d.hmm", i))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detector.type", "hmm")
	v.SetDefault("hmm.states", 4)
	v.SetDefault("hmm.window", 20)
	v.SetDefault("hmm.features", []string{"return", "volatility", "range"})
	v.SetDefault("hmm.normalization", "none")
	v.SetDefault("hmm.kalman_process_noise", 1e-4)
	v.SetDefault("hmm.kalman_measurement_noise", 1e-2)
	v.SetDefault("ensemble.voting_method", "weighted_average")
	v.SetDefault("slippage.type", "zero")
	v.SetDefault("commission.type", "zero")
	v.SetDefault("transaction_cost.type", "zero")
	v.SetDefault("latency.ms", 0)
	v.SetDefault("logging.level", "info")
}

// extractStateSeeds reads the dotted "<prefix>.state{i}.*" keys viper's
// mapstructure pass can't bind to a fixed struct shape (the index is
// data, not a field name), for i in [0, states).
func extractStateSeeds(v *viper.Viper, states int, prefix ...string) map[string]StateSeedConfig {
	base := "hmm"
	if len(prefix) > 0 {
		base = prefix[0]
	}
	out := make(map[string]StateSeedConfig)
	for i := 0; i < states; i++ {
		key := fmt.Sprintf("%s.state%d", base, i)
		if !v.IsSet(key) {
			continue
		}
		out[fmt.Sprintf("state%d", i)] = StateSeedConfig{
			MeanReturn: v.GetFloat64(key + ".mean_return"),
			MeanVol:    v.GetFloat64(key + ".mean_vol"),
			VarReturn:  v.GetFloat64(key + ".var_return"),
			VarVol:     v.GetFloat64(key + ".var_vol"),
		}
	}
	return out
}

// Validate checks value ranges and cross-field requirements, producing
// the InvalidArgument error kind named in the error-handling contract
// (section 7) on failure.
func (c *Config) Validate() error {
	switch c.Detector.Type {
	case "", "hmm", "ensemble", "constant":
	default:
		// user-supplied plugin name: accepted, resolved via the plugin registry.
	}
	if c.HMM.States <= 0 {
		return errs.New(errs.InvalidArgument, "Config.Validate", "hmm.states must be > 0")
	}
	if c.HMM.Window <= 0 {
		return errs.New(errs.InvalidArgument, "Config.Validate", "hmm.window must be > 0")
	}
	switch c.Slippage.Type {
	case "", "zero", "fixed_bps", "regime_bps", "book_depth":
	default:
		return errs.New(errs.InvalidArgument, "Config.Validate", "unknown slippage.type: "+c.Slippage.Type)
	}
	switch c.Commission.Type {
	case "", "zero", "fixed":
	default:
		return errs.New(errs.InvalidArgument, "Config.Validate", "unknown commission.type: "+c.Commission.Type)
	}
	switch c.TransactionCost.Type {
	case "", "zero", "fixed_bps", "per_share", "per_order", "tiered":
	default:
		return errs.New(errs.InvalidArgument, "Config.Validate", "unknown transaction_cost.type: "+c.TransactionCost.Type)
	}
	if c.Latency.Ms < 0 {
		return errs.New(errs.InvalidArgument, "Config.Validate", "latency.ms must be >= 0")
	}
	return nil
}
