// Package execution implements the fill simulator and its slippage,
// commission and transaction-cost models (§4.7).
package execution

import (
	"math"
	"sync"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel prices an order's execution against a reference price
// (§4.7). The set is closed per §9 ("tagged variant when the set of
// implementations is closed").
type SlippageModel interface {
	Price(order *types.Order, reference decimal.Decimal) decimal.Decimal
}

// ZeroSlippage returns the reference price unchanged.
type ZeroSlippage struct{}

func (ZeroSlippage) Price(_ *types.Order, reference decimal.Decimal) decimal.Decimal {
	return reference
}

// FixedBpsSlippage applies a constant basis-point adjustment signed by
// order side.
type FixedBpsSlippage struct {
	Bps decimal.Decimal
}

func NewFixedBpsSlippage(bps decimal.Decimal) FixedBpsSlippage {
	return FixedBpsSlippage{Bps: bps}
}

func (s FixedBpsSlippage) Price(order *types.Order, reference decimal.Decimal) decimal.Decimal {
	sign := decimal.NewFromFloat(order.Side.Sign())
	adj := sign.Mul(s.Bps).Div(decimal.NewFromInt(10000))
	return reference.Mul(decimal.NewFromInt(1).Add(adj))
}

// RegimeBpsSlippage looks up a per-regime basis-point override from the
// order's "regime" metadata, falling back to Default when absent or
// unmapped (§4.7).
type RegimeBpsSlippage struct {
	Default decimal.Decimal
	ByRegime map[string]decimal.Decimal
}

func NewRegimeBpsSlippage(def decimal.Decimal, byRegime map[string]decimal.Decimal) RegimeBpsSlippage {
	return RegimeBpsSlippage{Default: def, ByRegime: byRegime}
}

func (s RegimeBpsSlippage) Price(order *types.Order, reference decimal.Decimal) decimal.Decimal {
	bps := s.Default
	if regime, ok := order.Regime(); ok {
		if override, found := s.ByRegime[regime]; found {
			bps = override
		}
	}
	fixed := FixedBpsSlippage{Bps: bps}
	return fixed.Price(order, reference)
}

// OrderBookLevel is a single price level used by order-book-aware models.
type OrderBookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is a simplified order book snapshot keyed by symbol, retained for
// callers that want to layer book-depth-aware slippage over the base
// models above.
type Book struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
}

// BookStore tracks the latest Book per symbol under a mutex, mirroring
// the teacher's own order-book cache (grounded on the original
// SlippageCalculator.orderBooks map).
type BookStore struct {
	mu     sync.RWMutex
	books  map[string]*Book
}

func NewBookStore() *BookStore {
	return &BookStore{books: make(map[string]*Book)}
}

func (s *BookStore) Update(symbol string, book *Book) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[symbol] = book
}

func (s *BookStore) Get(symbol string) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

// BookDepthSlippage walks the resting book on the order's aggressing
// side level by level, volume-weighting the fill price across however
// many levels the order quantity consumes (§4.7's book-depth-aware
// model). When no book is cached for the symbol, or the cached book
// can't cover the order's full size, it falls back to a square-root
// market-impact model over the uncovered remainder, grounded on the
// teacher's calculateVolumeImpact: impact = factor * sqrt(notional) basis
// points of the reference price, where notional is the uncovered quantity
// times the reference price (dropping to float64 for math.Sqrt and
// wrapping the result back).
type BookDepthSlippage struct {
	Books        *BookStore
	ImpactFactor decimal.Decimal
}

func NewBookDepthSlippage(books *BookStore, impactFactor decimal.Decimal) BookDepthSlippage {
	return BookDepthSlippage{Books: books, ImpactFactor: impactFactor}
}

func (s BookDepthSlippage) Price(order *types.Order, reference decimal.Decimal) decimal.Decimal {
	book, ok := s.Books.Get(order.Symbol)
	if !ok {
		return s.impactFallback(order, reference, order.Quantity)
	}

	levels := book.Asks
	if order.Side == types.OrderSideSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return s.impactFallback(order, reference, order.Quantity)
	}

	remaining := order.Quantity
	filledNotional := decimal.Zero
	filledQty := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		take := lvl.Quantity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		filledNotional = filledNotional.Add(take.Mul(lvl.Price))
		filledQty = filledQty.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) {
		fallback := s.impactFallback(order, reference, remaining)
		filledNotional = filledNotional.Add(remaining.Mul(fallback))
		filledQty = filledQty.Add(remaining)
	}

	if filledQty.IsZero() {
		return reference
	}
	return filledNotional.Div(filledQty)
}

func (s BookDepthSlippage) impactFallback(order *types.Order, reference, quantity decimal.Decimal) decimal.Decimal {
	notional := quantity.Mul(reference)
	if notional.IsZero() || reference.IsZero() {
		return reference
	}
	sqrtRatio := decimal.NewFromFloat(math.Sqrt(notional.InexactFloat64()))
	sign := decimal.NewFromFloat(order.Side.Sign())
	impact := sign.Mul(s.ImpactFactor).Mul(sqrtRatio).Div(decimal.NewFromInt(10000))
	return reference.Mul(decimal.NewFromInt(1).Add(impact))
}
