package risk

import (
	"math"

	"github.com/regimeflow/regimeflow/pkg/errs"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

func priceOrSkip(order *types.Order, op string) (decimal.Decimal, bool, error) {
	if order.HasLimitPrice() {
		return order.LimitPrice, true, nil
	}
	if order.Type == types.OrderTypeLimit || order.Type == types.OrderTypeStopLimit {
		return decimal.Zero, false, errs.New(errs.InvalidArgument, op, "limit order missing limit_price")
	}
	return decimal.Zero, false, nil
}

// MaxNotionalLimit rejects orders whose notional exceeds N or exceeds
// current equity (§4.6).
type MaxNotionalLimit struct {
	N decimal.Decimal
}

func NewMaxNotionalLimit(n decimal.Decimal) *MaxNotionalLimit { return &MaxNotionalLimit{N: n} }

func (l *MaxNotionalLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	price, ok, err := priceOrSkip(order, "MaxNotionalLimit")
	if err != nil || !ok {
		return err
	}
	notional := order.Quantity.Abs().Mul(price)
	if notional.GreaterThan(l.N) {
		return errs.New(errs.OutOfRange, "MaxNotionalLimit", "order exceeds max notional limit")
	}
	if notional.GreaterThan(portfolio.Equity()) {
		return errs.New(errs.OutOfRange, "MaxNotionalLimit", "order notional exceeds available equity")
	}
	return nil
}

func (l *MaxNotionalLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxPositionLimit caps the resulting absolute position quantity.
type MaxPositionLimit struct {
	Q decimal.Decimal
}

func NewMaxPositionLimit(q decimal.Decimal) *MaxPositionLimit { return &MaxPositionLimit{Q: q} }

func (l *MaxPositionLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	existing := decimal.Zero
	if pos, ok := portfolio.Position(order.Symbol); ok {
		existing = pos.Quantity()
	}
	resulting := existing.Add(signedOrderQty(order)).Abs()
	if resulting.GreaterThan(l.Q) {
		return errs.New(errs.OutOfRange, "MaxPositionLimit", "order exceeds max position limit")
	}
	return nil
}

func (l *MaxPositionLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxPositionPctLimit caps the resulting position's notional share of
// equity.
type MaxPositionPctLimit struct {
	Pct float64
}

func NewMaxPositionPctLimit(pct float64) *MaxPositionPctLimit { return &MaxPositionPctLimit{Pct: pct} }

func (l *MaxPositionPctLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	equity := portfolio.Equity()
	if equity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	price, ok, err := priceOrSkip(order, "MaxPositionPctLimit")
	if err != nil || !ok {
		return err
	}
	existing := decimal.Zero
	if pos, found := portfolio.Position(order.Symbol); found {
		existing = pos.Quantity()
	}
	resultingQty := existing.Add(signedOrderQty(order)).Abs()
	pct := resultingQty.Mul(price).Div(equity).InexactFloat64()
	if pct > l.Pct {
		return errs.New(errs.OutOfRange, "MaxPositionPctLimit", "order exceeds max position pct limit")
	}
	return nil
}

func (l *MaxPositionPctLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxDrawdownLimit tracks a running equity peak and rejects once the
// drawdown from that peak exceeds D. The peak is a conceptually "const"
// predicate's mutable cache (§9 Open Question) — modeled as an ordinary
// mutable field; the manager owns one instance per configured limit so
// there is no cross-engine sharing.
type MaxDrawdownLimit struct {
	D    float64
	peak decimal.Decimal
}

func NewMaxDrawdownLimit(d float64) *MaxDrawdownLimit { return &MaxDrawdownLimit{D: d} }

func (l *MaxDrawdownLimit) check(portfolio PortfolioView) error {
	equity := portfolio.Equity()
	if equity.GreaterThan(l.peak) {
		l.peak = equity
	}
	if l.peak.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	dd := l.peak.Sub(equity).Div(l.peak).InexactFloat64()
	if dd > l.D {
		return errs.New(errs.OutOfRange, "MaxDrawdownLimit", "max drawdown limit breached")
	}
	return nil
}

func (l *MaxDrawdownLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	return l.check(portfolio)
}

func (l *MaxDrawdownLimit) ValidatePortfolio(portfolio PortfolioView) error {
	return l.check(portfolio)
}

// MaxGrossExposureLimit caps gross exposure (Σ|market_value|) plus the
// candidate order's notional.
type MaxGrossExposureLimit struct {
	G decimal.Decimal
}

func NewMaxGrossExposureLimit(g decimal.Decimal) *MaxGrossExposureLimit {
	return &MaxGrossExposureLimit{G: g}
}

func (l *MaxGrossExposureLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	price, ok, err := priceOrSkip(order, "MaxGrossExposureLimit")
	if err != nil || !ok {
		return err
	}
	notional := order.Quantity.Abs().Mul(price)
	if portfolio.GrossExposure().Add(notional).GreaterThan(l.G) {
		return errs.New(errs.OutOfRange, "MaxGrossExposureLimit", "Order exceeds max gross exposure limit")
	}
	return nil
}

func (l *MaxGrossExposureLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxNetExposureLimit caps |net + signed order notional|.
type MaxNetExposureLimit struct {
	N decimal.Decimal
}

func NewMaxNetExposureLimit(n decimal.Decimal) *MaxNetExposureLimit {
	return &MaxNetExposureLimit{N: n}
}

func (l *MaxNetExposureLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	price, ok, err := priceOrSkip(order, "MaxNetExposureLimit")
	if err != nil || !ok {
		return err
	}
	signedNotional := price.Mul(decimal.NewFromFloat(order.Side.Sign())).Mul(order.Quantity.Abs())
	resulting := portfolio.NetExposure().Add(signedNotional).Abs()
	if resulting.GreaterThan(l.N) {
		return errs.New(errs.OutOfRange, "MaxNetExposureLimit", "order exceeds max net exposure limit")
	}
	return nil
}

func (l *MaxNetExposureLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxLeverageLimit caps (gross + order notional)/equity.
type MaxLeverageLimit struct {
	L float64
}

func NewMaxLeverageLimit(l float64) *MaxLeverageLimit { return &MaxLeverageLimit{L: l} }

func (l *MaxLeverageLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	equity := portfolio.Equity()
	if equity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	price, ok, err := priceOrSkip(order, "MaxLeverageLimit")
	if err != nil || !ok {
		return err
	}
	notional := order.Quantity.Abs().Mul(price)
	leverage := portfolio.GrossExposure().Add(notional).Div(equity).InexactFloat64()
	if leverage > l.L {
		return errs.New(errs.OutOfRange, "MaxLeverageLimit", "order exceeds max leverage limit")
	}
	return nil
}

func (l *MaxLeverageLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxSectorExposureLimit caps per-sector exposure share of equity.
type MaxSectorExposureLimit struct {
	Limits     map[string]float64
	Classifier SymbolClassifier
}

func NewMaxSectorExposureLimit(limits map[string]float64, classifier SymbolClassifier) *MaxSectorExposureLimit {
	return &MaxSectorExposureLimit{Limits: limits, Classifier: classifier}
}

func (l *MaxSectorExposureLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	if l.Classifier == nil {
		return nil
	}
	sector := l.Classifier.Sector(order.Symbol)
	limit, ok := l.Limits[sector]
	if !ok {
		return nil
	}
	equity := portfolio.Equity()
	if equity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	price, priced, err := priceOrSkip(order, "MaxSectorExposureLimit")
	if err != nil || !priced {
		return err
	}
	sectorGross := decimal.Zero
	for _, pos := range portfolio.Positions() {
		if l.Classifier.Sector(pos.SymbolID()) == sector {
			sectorGross = sectorGross.Add(pos.MarketValue().Abs())
		}
	}
	contribution := order.Quantity.Abs().Mul(price)
	pct := sectorGross.Add(contribution).Div(equity).InexactFloat64()
	if pct > limit {
		return errs.New(errs.OutOfRange, "MaxSectorExposureLimit", "order exceeds max sector exposure limit for "+sector)
	}
	return nil
}

func (l *MaxSectorExposureLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxIndustryExposureLimit caps per-industry exposure share of equity,
// analogous to MaxSectorExposureLimit (§4.6).
type MaxIndustryExposureLimit struct {
	Limits     map[string]float64
	Classifier SymbolClassifier
}

func NewMaxIndustryExposureLimit(limits map[string]float64, classifier SymbolClassifier) *MaxIndustryExposureLimit {
	return &MaxIndustryExposureLimit{Limits: limits, Classifier: classifier}
}

func (l *MaxIndustryExposureLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	if l.Classifier == nil {
		return nil
	}
	industry := l.Classifier.Industry(order.Symbol)
	limit, ok := l.Limits[industry]
	if !ok {
		return nil
	}
	equity := portfolio.Equity()
	if equity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	price, priced, err := priceOrSkip(order, "MaxIndustryExposureLimit")
	if err != nil || !priced {
		return err
	}
	industryGross := decimal.Zero
	for _, pos := range portfolio.Positions() {
		if l.Classifier.Industry(pos.SymbolID()) == industry {
			industryGross = industryGross.Add(pos.MarketValue().Abs())
		}
	}
	contribution := order.Quantity.Abs().Mul(price)
	pct := industryGross.Add(contribution).Div(equity).InexactFloat64()
	if pct > limit {
		return errs.New(errs.OutOfRange, "MaxIndustryExposureLimit", "order exceeds max industry exposure limit for "+industry)
	}
	return nil
}

func (l *MaxIndustryExposureLimit) ValidatePortfolio(PortfolioView) error { return nil }

// MaxCorrelationExposureLimit flags concentrated exposure between highly
// correlated held symbols (§4.6). Price history accumulates only on
// ValidatePortfolio calls per the documented §9 caveat.
type MaxCorrelationExposureLimit struct {
	Window             int
	MaxCorrelation     float64
	MaxPairExposurePct float64

	priceHistory map[string][]float64
}

// NewMaxCorrelationExposureLimit builds a limit with the original
// implementation's defaults (window 50, |rho|>=0.8, pair cap 20%) when
// zero values are passed.
func NewMaxCorrelationExposureLimit(window int, maxCorr, maxPairExposurePct float64) *MaxCorrelationExposureLimit {
	if window <= 0 {
		window = 50
	}
	if maxCorr <= 0 {
		maxCorr = 0.8
	}
	if maxPairExposurePct <= 0 {
		maxPairExposurePct = 0.2
	}
	return &MaxCorrelationExposureLimit{
		Window:             window,
		MaxCorrelation:     maxCorr,
		MaxPairExposurePct: maxPairExposurePct,
		priceHistory:       make(map[string][]float64),
	}
}

func (l *MaxCorrelationExposureLimit) pushPrice(symbol string, price float64) {
	hist := l.priceHistory[symbol]
	hist = append(hist, price)
	if len(hist) > l.Window+1 {
		hist = hist[len(hist)-(l.Window+1):]
	}
	l.priceHistory[symbol] = hist
}

func simpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out[i-1] = 0
			continue
		}
		out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
	}
	return out
}

func pearsonCorrelation(a, b []float64) float64 {
	n := len(a)
	if n != len(b) || n < 2 {
		return 0
	}
	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func positionPrice(pos PositionView) (float64, bool) {
	qty := pos.Quantity()
	if qty.IsZero() {
		return 0, false
	}
	return pos.MarketValue().Div(qty).Abs().InexactFloat64(), true
}

func (l *MaxCorrelationExposureLimit) correlationBreach(symbolA string, valueA decimal.Decimal, portfolio PortfolioView) error {
	equity := portfolio.Equity()
	if equity.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	returnsA := simpleReturns(l.priceHistory[symbolA])
	if returnsA == nil {
		return nil
	}
	for _, pos := range portfolio.Positions() {
		other := pos.SymbolID()
		if other == symbolA {
			continue
		}
		returnsB := simpleReturns(l.priceHistory[other])
		if returnsB == nil {
			continue
		}
		n := len(returnsA)
		if len(returnsB) < n {
			n = len(returnsB)
		}
		rho := pearsonCorrelation(returnsA[len(returnsA)-n:], returnsB[len(returnsB)-n:])
		if math.Abs(rho) < l.MaxCorrelation {
			continue
		}
		pairExposure := valueA.Add(pos.MarketValue()).Abs().Div(equity).InexactFloat64()
		if pairExposure > l.MaxPairExposurePct {
			return errs.New(errs.OutOfRange, "MaxCorrelationExposureLimit", "correlated pair exposure exceeds limit: "+symbolA+"/"+other)
		}
	}
	return nil
}

func (l *MaxCorrelationExposureLimit) Validate(order *types.Order, portfolio PortfolioView) error {
	price, ok, err := priceOrSkip(order, "MaxCorrelationExposureLimit")
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	signedValue := price.Mul(decimal.NewFromFloat(order.Side.Sign())).Mul(order.Quantity.Abs())
	return l.correlationBreach(order.Symbol, signedValue, portfolio)
}

func (l *MaxCorrelationExposureLimit) ValidatePortfolio(portfolio PortfolioView) error {
	for _, pos := range portfolio.Positions() {
		if price, ok := positionPrice(pos); ok {
			l.pushPrice(pos.SymbolID(), price)
		}
	}
	for _, pos := range portfolio.Positions() {
		if err := l.correlationBreach(pos.SymbolID(), pos.MarketValue(), portfolio); err != nil {
			return err
		}
	}
	return nil
}
