// Package engine owns the Portfolio and the single-threaded event pipeline
// that wires the regime tracker, risk gate, execution simulator and
// metrics tracker together (§4.9, §5).
package engine

import (
	"sync"
	"time"

	"github.com/regimeflow/regimeflow/internal/risk"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// Position is one symbol's average-cost holding. Exclusively owned and
// mutated by its Portfolio (§5 "owned exclusively by the engine").
type Position struct {
	symbol    string
	quantity  decimal.Decimal
	avgPrice  decimal.Decimal
	lastPrice decimal.Decimal
	openedAt  time.Time
}

// SymbolID implements risk.PositionView.
func (p *Position) SymbolID() string { return p.symbol }

// Quantity implements risk.PositionView. Signed: positive is long.
func (p *Position) Quantity() decimal.Decimal { return p.quantity }

// MarketValue implements risk.PositionView: signed quantity times the
// last marked price.
func (p *Position) MarketValue() decimal.Decimal { return p.quantity.Mul(p.lastPrice) }

// AvgPrice returns the position's average cost basis.
func (p *Position) AvgPrice() decimal.Decimal { return p.avgPrice }

// OpenedAt returns when the position was first opened.
func (p *Position) OpenedAt() time.Time { return p.openedAt }

// Portfolio is the engine's mutable cash+positions state, mutated only
// through ApplyFill and MarkToMarket (§5).
type Portfolio struct {
	mu          sync.RWMutex
	cash        decimal.Decimal
	initialCash decimal.Decimal
	positions   map[string]*Position
	realizedPnL decimal.Decimal
}

// NewPortfolio builds a Portfolio seeded with initialCash.
func NewPortfolio(initialCash decimal.Decimal) *Portfolio {
	return &Portfolio{
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[string]*Position),
	}
}

// Cash implements risk.PortfolioView.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

// Equity implements risk.PortfolioView: cash plus signed market value of
// every position (§8 "equity ≈ cash + Σ qty·current_price").
func (p *Portfolio) Equity() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.equityLocked()
}

func (p *Portfolio) equityLocked() decimal.Decimal {
	equity := p.cash
	for _, pos := range p.positions {
		equity = equity.Add(pos.MarketValue())
	}
	return equity
}

// GrossExposure implements risk.PortfolioView: Σ|market_value|.
func (p *Portfolio) GrossExposure() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	gross := decimal.Zero
	for _, pos := range p.positions {
		gross = gross.Add(pos.MarketValue().Abs())
	}
	return gross
}

// NetExposure implements risk.PortfolioView: Σ market_value (signed).
func (p *Portfolio) NetExposure() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	net := decimal.Zero
	for _, pos := range p.positions {
		net = net.Add(pos.MarketValue())
	}
	return net
}

// Position implements risk.PortfolioView.
func (p *Portfolio) Position(symbol string) (risk.PositionView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, false
	}
	return pos, true
}

// Positions implements risk.PortfolioView.
func (p *Portfolio) Positions() []risk.PositionView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]risk.PositionView, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	return out
}

func sameSign(a, b decimal.Decimal) bool {
	return a.Sign() == b.Sign()
}

func signOf(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(float64(d.Sign()))
}

// ApplyFill mutates cash and the affected position for a single signed
// fill, returning the realized PnL closed by this fill (zero if the fill
// only opened or added to a position). Commission (and any transaction
// cost debited separately by the caller) reduce cash in addition to the
// trade cash flow (§4.7, §4.9).
func (p *Portfolio) ApplyFill(fill types.Fill) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	qty := fill.Quantity
	price := fill.Price

	cashDelta := qty.Mul(price).Neg().Sub(fill.Commission)
	p.cash = p.cash.Add(cashDelta)

	realized := decimal.Zero
	pos, exists := p.positions[fill.Symbol]

	switch {
	case !exists || pos.quantity.IsZero():
		p.positions[fill.Symbol] = &Position{
			symbol:    fill.Symbol,
			quantity:  qty,
			avgPrice:  price,
			lastPrice: price,
			openedAt:  fill.Timestamp,
		}
	case sameSign(pos.quantity, qty):
		totalQty := pos.quantity.Add(qty)
		totalCost := pos.quantity.Abs().Mul(pos.avgPrice).Add(qty.Abs().Mul(price))
		pos.avgPrice = totalCost.Div(totalQty.Abs())
		pos.quantity = totalQty
		pos.lastPrice = price
	default:
		existingSign := signOf(pos.quantity)
		closeQty := decimal.Min(pos.quantity.Abs(), qty.Abs())
		realized = closeQty.Mul(price.Sub(pos.avgPrice)).Mul(existingSign)

		newQty := pos.quantity.Add(qty)
		switch {
		case newQty.IsZero():
			delete(p.positions, fill.Symbol)
		case sameSign(newQty, pos.quantity):
			pos.quantity = newQty
			pos.lastPrice = price
		default:
			pos.quantity = newQty
			pos.avgPrice = price
			pos.lastPrice = price
		}
	}

	p.realizedPnL = p.realizedPnL.Add(realized)
	return realized
}

// debitCash subtracts amount from cash without touching any position,
// used by the pipeline to apply a transaction cost that is not itself a
// commission on the fill (§4.7).
func (p *Portfolio) debitCash(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cash = p.cash.Sub(amount)
}

// MarkToMarket updates the last-traded price used for valuation of an
// existing position. Positions the engine has never traded are ignored.
func (p *Portfolio) MarkToMarket(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pos, ok := p.positions[symbol]; ok {
		pos.lastPrice = price
	}
}

// RealizedPnL returns the cumulative realized PnL across all closes.
func (p *Portfolio) RealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.realizedPnL
}

// UnrealizedPnL returns the sum of (lastPrice-avgPrice)*qty across open
// positions.
func (p *Portfolio) UnrealizedPnL() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := decimal.Zero
	for _, pos := range p.positions {
		total = total.Add(pos.quantity.Mul(pos.lastPrice.Sub(pos.avgPrice)))
	}
	return total
}

// TotalPnL returns equity minus the portfolio's starting cash.
func (p *Portfolio) TotalPnL() decimal.Decimal {
	return p.Equity().Sub(p.initialCash)
}

// Snapshot captures an immutable equity-curve point (§4.9).
func (p *Portfolio) Snapshot(ts time.Time) types.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	equity := p.equityLocked()
	return types.PortfolioSnapshot{
		Timestamp:          ts,
		Equity:             equity,
		Cash:               p.cash,
		PositionsValuation: equity.Sub(p.cash),
	}
}
