// Package risk implements the pre-trade and portfolio-level risk gate:
// a composition of RiskLimit evaluators plus regime-conditional overlays
// (§4.6).
package risk

import (
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// PositionView is the read-only position surface a risk limit needs.
// internal/engine's Position implements it.
type PositionView interface {
	SymbolID() string
	Quantity() decimal.Decimal
	MarketValue() decimal.Decimal
}

// PortfolioView is the read-only portfolio surface a risk limit needs.
// internal/engine's Portfolio implements it; decoupling the risk package
// from the engine keeps the dependency one-directional (§5 "the Portfolio
// is owned exclusively by the engine").
type PortfolioView interface {
	Cash() decimal.Decimal
	Equity() decimal.Decimal
	GrossExposure() decimal.Decimal
	NetExposure() decimal.Decimal
	Position(symbol string) (PositionView, bool)
	Positions() []PositionView
}

// SymbolClassifier resolves sector/industry membership for
// MaxSectorExposure / MaxIndustryExposure. A nil classifier makes both
// limits no-ops (every symbol classifies into "" and is ignored).
type SymbolClassifier interface {
	Sector(symbol string) string
	Industry(symbol string) string
}

// Limit is the closed-interface risk predicate every named limit in §4.6
// implements.
type Limit interface {
	// Validate runs a pre-trade check for a single candidate order.
	Validate(order *types.Order, portfolio PortfolioView) error
	// ValidatePortfolio runs a standing check against current portfolio
	// state, independent of any specific order.
	ValidatePortfolio(portfolio PortfolioView) error
}

// orderNotional returns the order's notional and whether it could be
// priced. Market orders without a limit price are unpriced (callers must
// skip, not fail); limit-type orders without a limit price are a
// caller-visible InvalidArgument.
func orderNotional(order *types.Order) (decimal.Decimal, bool) {
	if !order.HasLimitPrice() {
		return decimal.Zero, false
	}
	return order.Quantity.Abs().Mul(order.LimitPrice), true
}

func signedOrderQty(order *types.Order) decimal.Decimal {
	qty := order.Quantity.Abs()
	if order.Side == types.OrderSideSell {
		return qty.Neg()
	}
	return qty
}
