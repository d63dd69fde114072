package regime

import (
	"math"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// FeatureType names one computed feature (§ Glossary). The set is closed:
// new feature kinds mean a new constant here and a new case in compute.
type FeatureType string

const (
	FeatureReturn            FeatureType = "return"
	FeatureLogReturn         FeatureType = "log_return"
	FeatureVolatility        FeatureType = "volatility"
	FeatureVolume            FeatureType = "volume"
	FeatureVolumeZScore      FeatureType = "volume_zscore"
	FeatureVolumeRatio       FeatureType = "volume_ratio"
	FeatureRange             FeatureType = "range"
	FeatureRangeZScore       FeatureType = "range_zscore"
	FeatureVolatilityRatio   FeatureType = "volatility_ratio"
	FeatureOnBalanceVolume   FeatureType = "obv"
	FeatureUpDownVolumeRatio FeatureType = "updown_volume_ratio"
	FeatureBidAskSpread      FeatureType = "bid_ask_spread"
	FeatureSpreadZScore      FeatureType = "spread_zscore"
	FeatureOrderImbalance    FeatureType = "order_imbalance"
	FeatureMarketBreadth     FeatureType = "market_breadth"
	FeatureSectorRotation    FeatureType = "sector_rotation"
	FeatureCorrelationEigen  FeatureType = "correlation_eigen"
	FeatureRiskAppetite      FeatureType = "risk_appetite"
)

// NormalizationMode is the optional per-feature history normalization (§4.1).
type NormalizationMode string

const (
	NormalizationNone    NormalizationMode = "none"
	NormalizationZScore  NormalizationMode = "zscore"
	NormalizationMinMax  NormalizationMode = "minmax"
	NormalizationRobust  NormalizationMode = "robust"
)

// FeatureConfig configures a FeatureExtractor.
type FeatureConfig struct {
	Window        int
	Features      []FeatureType
	Normalization NormalizationMode
}

// DefaultFeatureConfig returns a 20-bar window over return/volatility/range,
// unnormalized — the HMM default feature set (§6 hmm.window default).
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		Window:        20,
		Features:      []FeatureType{FeatureReturn, FeatureVolatility, FeatureRange},
		Normalization: NormalizationNone,
	}
}

// FeatureExtractor maintains rolling deques over bar/tick/book history and
// projects the configured feature list into a FeatureVector on demand (§4.1).
type FeatureExtractor struct {
	cfg FeatureConfig

	returns        *RingBuffer[float64]
	logReturns     *RingBuffer[float64]
	volumes        *RingBuffer[float64]
	ranges         *RingBuffer[float64]
	volatilities   *RingBuffer[float64]
	signedVolumes  *RingBuffer[float64]
	spreads        *RingBuffer[float64]

	obv           float64
	lastClose     float64
	hasClose      bool
	lastImbalance float64

	breadth          float64
	sectorRotation   float64
	correlationEigen float64
	riskAppetite     float64

	history map[FeatureType]*RingBuffer[float64]
}

// NewFeatureExtractor builds an extractor from cfg, defaulting Window to 20
// when unset.
func NewFeatureExtractor(cfg FeatureConfig) *FeatureExtractor {
	w := cfg.Window
	if w <= 0 {
		w = 20
	}
	cfg.Window = w
	fe := &FeatureExtractor{
		cfg:           cfg,
		returns:       NewRingBuffer[float64](w),
		logReturns:    NewRingBuffer[float64](w),
		volumes:       NewRingBuffer[float64](w),
		ranges:        NewRingBuffer[float64](w),
		volatilities:  NewRingBuffer[float64](w),
		signedVolumes: NewRingBuffer[float64](w),
		spreads:       NewRingBuffer[float64](w),
		history:       make(map[FeatureType]*RingBuffer[float64]),
	}
	for _, f := range cfg.Features {
		fe.history[f] = NewRingBuffer[float64](w)
	}
	return fe
}

// SetCrossAssetScalars updates the four externally-injected scalar features.
func (fe *FeatureExtractor) SetCrossAssetScalars(breadth, sectorRotation, correlationEigen, riskAppetite float64) {
	fe.breadth = breadth
	fe.sectorRotation = sectorRotation
	fe.correlationEigen = correlationEigen
	fe.riskAppetite = riskAppetite
}

// OnBar folds one OHLCV bar into the rolling state and returns the
// projected feature vector.
func (fe *FeatureExtractor) OnBar(bar types.Bar) types.FeatureVector {
	close_ := bar.Close.InexactFloat64()
	high := bar.High.InexactFloat64()
	low := bar.Low.InexactFloat64()
	volume := bar.Volume.InexactFloat64()

	r := 0.0
	logR := 0.0
	if fe.hasClose && fe.lastClose != 0 {
		r = (close_ - fe.lastClose) / fe.lastClose
		if close_ > 0 && fe.lastClose > 0 {
			logR = math.Log(close_ / fe.lastClose)
		}
	}
	rng := high - low

	fe.returns.Push(r)
	fe.logReturns.Push(logR)
	fe.volumes.Push(volume)
	fe.ranges.Push(rng)

	sign := 0.0
	switch {
	case r > 0:
		sign = 1
	case r < 0:
		sign = -1
	}
	fe.obv += sign * volume
	fe.signedVolumes.Push(sign * volume)

	vol := sampleStdDev(fe.returns.Values())
	fe.volatilities.Push(vol)

	fe.lastClose = close_
	fe.hasClose = true

	return fe.project()
}

// OnTick folds a single trade/quote tick into the rolling state by treating
// it as a degenerate bar (O=H=L=C=price, volume=quantity).
func (fe *FeatureExtractor) OnTick(tick types.Tick) types.FeatureVector {
	price := tick.Price
	return fe.OnBar(types.Bar{
		Timestamp: tick.Timestamp,
		SymbolID:  tick.SymbolID,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    tick.Quantity,
	})
}

// OnBook derives mid/spread/imbalance from a book snapshot, then runs the
// bar path using mid as the OHLC (§4.1).
func (fe *FeatureExtractor) OnBook(book types.OrderBook) types.FeatureVector {
	bestBid, okB := book.BestBid()
	bestAsk, okA := book.BestAsk()

	var mid, spreadFrac, imbalance float64
	if okB && okA {
		bid := bestBid.Price.InexactFloat64()
		ask := bestAsk.Price.InexactFloat64()
		mid = (bid + ask) / 2
		if mid != 0 {
			spreadFrac = (ask - bid) / mid
		}
		bidQ := bestBid.Quantity.InexactFloat64()
		askQ := bestAsk.Quantity.InexactFloat64()
		denom := bidQ + askQ
		if denom != 0 {
			imbalance = (bidQ - askQ) / denom
		}
	}
	fe.spreads.Push(spreadFrac)
	fe.lastImbalance = imbalance

	midDec := decimalFromFloat(mid)
	vec := fe.OnBar(types.Bar{
		Timestamp: book.Timestamp,
		SymbolID:  book.SymbolID,
		Open:      midDec,
		High:      midDec,
		Low:       midDec,
		Close:     midDec,
		Volume:    decimalFromFloat(0),
	})
	return vec
}

func (fe *FeatureExtractor) project() types.FeatureVector {
	vec := make(types.FeatureVector, len(fe.cfg.Features))
	for i, f := range fe.cfg.Features {
		v := fe.compute(f)
		if fe.cfg.Normalization != NormalizationNone && fe.cfg.Normalization != "" {
			v = fe.normalize(f, v)
		}
		vec[i] = v
	}
	return vec
}

func (fe *FeatureExtractor) compute(f FeatureType) float64 {
	switch f {
	case FeatureReturn:
		v, _ := fe.returns.Last()
		return v
	case FeatureLogReturn:
		v, _ := fe.logReturns.Last()
		return v
	case FeatureVolatility:
		v, _ := fe.volatilities.Last()
		return v
	case FeatureVolume:
		v, _ := fe.volumes.Last()
		return v
	case FeatureVolumeZScore:
		return zscore(fe.volumes.Values())
	case FeatureVolumeRatio:
		return lastOverMean(fe.volumes.Values())
	case FeatureRange:
		v, _ := fe.ranges.Last()
		return v
	case FeatureRangeZScore:
		return zscore(fe.ranges.Values())
	case FeatureVolatilityRatio:
		return lastOverMean(fe.volatilities.Values())
	case FeatureOnBalanceVolume:
		return fe.obv
	case FeatureUpDownVolumeRatio:
		return upDownRatio(fe.signedVolumes.Values())
	case FeatureBidAskSpread:
		v, _ := fe.spreads.Last()
		return v
	case FeatureSpreadZScore:
		return zscore(fe.spreads.Values())
	case FeatureOrderImbalance:
		return fe.lastImbalance
	case FeatureMarketBreadth:
		return fe.breadth
	case FeatureSectorRotation:
		return fe.sectorRotation
	case FeatureCorrelationEigen:
		return fe.correlationEigen
	case FeatureRiskAppetite:
		return fe.riskAppetite
	default:
		return 0
	}
}

func (fe *FeatureExtractor) normalize(f FeatureType, raw float64) float64 {
	buf, ok := fe.history[f]
	if !ok {
		buf = NewRingBuffer[float64](fe.cfg.Window)
		fe.history[f] = buf
	}
	buf.Push(raw)
	values := buf.Values()
	if len(values) < 2 {
		return 0
	}
	switch fe.cfg.Normalization {
	case NormalizationZScore:
		mean := meanOf(values)
		sd := sampleStdDev(values)
		if sd == 0 {
			return 0
		}
		return (raw - mean) / sd
	case NormalizationMinMax:
		lo, hi := minMax(values)
		if hi == lo {
			return 0
		}
		return (raw - lo) / (hi - lo)
	case NormalizationRobust:
		med := median(values)
		q1 := percentileSorted(sortedCopy(values), 0.25)
		q3 := percentileSorted(sortedCopy(values), 0.75)
		iqr := q3 - q1
		if iqr == 0 {
			return 0
		}
		return (raw - med) / iqr
	default:
		return raw
	}
}

func sampleStdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := meanOf(xs)
	sumSq := 0.0
	for _, v := range xs {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func zscore(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	last := xs[len(xs)-1]
	mean := meanOf(xs)
	sd := sampleStdDev(xs)
	if sd == 0 {
		return 0
	}
	return (last - mean) / sd
}

func lastOverMean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := meanOf(xs)
	if mean == 0 {
		return 0
	}
	return xs[len(xs)-1] / mean
}

func upDownRatio(signedVolumes []float64) float64 {
	up, total := 0.0, 0.0
	for _, sv := range signedVolumes {
		if sv > 0 {
			up += sv
		}
		total += math.Abs(sv)
	}
	if total == 0 {
		return 0
	}
	return up / total
}

func minMax(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	lo, hi := xs[0], xs[0]
	for _, v := range xs {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func sortedCopy(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func median(xs []float64) float64 {
	s := sortedCopy(xs)
	return percentileSorted(s, 0.5)
}

// percentileSorted returns the linearly-interpolated alpha-percentile of an
// already-sorted slice (§8 "Percentile" testable property).
func percentileSorted(sorted []float64, alpha float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	if alpha <= 0 {
		return sorted[0]
	}
	if alpha >= 1 {
		return sorted[n-1]
	}
	pos := alpha * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Percentile returns the linearly-interpolated alpha-percentile of an
// unsorted slice, leaving xs unmodified.
func Percentile(xs []float64, alpha float64) float64 {
	return percentileSorted(sortedCopy(xs), alpha)
}
