package execution

import (
	"sort"
	"sync"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

// TransactionCostModel charges a per-fill transaction cost, distinct from
// commission (§4.7).
type TransactionCostModel interface {
	Cost(fill types.Fill) decimal.Decimal
}

// ZeroCost charges nothing.
type ZeroCost struct{}

func (ZeroCost) Cost(types.Fill) decimal.Decimal { return decimal.Zero }

// FixedBpsCost charges a fixed basis-point fraction of notional.
type FixedBpsCost struct {
	Bps decimal.Decimal
}

func (c FixedBpsCost) Cost(fill types.Fill) decimal.Decimal {
	return fill.Notional().Mul(c.Bps).Div(decimal.NewFromInt(10000))
}

// PerShareCost charges a fixed rate per unit quantity.
type PerShareCost struct {
	Rate decimal.Decimal
}

func (c PerShareCost) Cost(fill types.Fill) decimal.Decimal {
	return fill.Quantity.Abs().Mul(c.Rate)
}

// PerOrderCost charges a flat fee exactly once per distinct order ID.
// The charged-order set is mutex-guarded — one of the three concurrency-
// admitted areas in the core (§5).
type PerOrderCost struct {
	Fee decimal.Decimal

	mu      sync.Mutex
	charged map[string]struct{}
}

func NewPerOrderCost(fee decimal.Decimal) *PerOrderCost {
	return &PerOrderCost{Fee: fee, charged: make(map[string]struct{})}
}

func (c *PerOrderCost) Cost(fill types.Fill) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, already := c.charged[fill.OrderID]; already {
		return decimal.Zero
	}
	c.charged[fill.OrderID] = struct{}{}
	return c.Fee
}

// CostTier is one band of Tiered's notional-bracketed bps schedule.
// MaxNotional <= 0 marks the catch-all tier.
type CostTier struct {
	MaxNotional decimal.Decimal
	Bps         decimal.Decimal
}

// TieredCost charges notional*bps/10000 using the first tier (sorted
// ascending by MaxNotional) whose MaxNotional covers the fill's notional,
// or the catch-all/last tier otherwise (§4.7).
type TieredCost struct {
	tiers []CostTier
}

// NewTieredCost sorts tiers ascending by MaxNotional, with non-positive
// (catch-all) values sorting last.
func NewTieredCost(tiers []CostTier) *TieredCost {
	sorted := append([]CostTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].MaxNotional, sorted[j].MaxNotional
		aiCatchAll := ai.LessThanOrEqual(decimal.Zero)
		ajCatchAll := aj.LessThanOrEqual(decimal.Zero)
		if aiCatchAll != ajCatchAll {
			return ajCatchAll
		}
		return ai.LessThan(aj)
	})
	return &TieredCost{tiers: sorted}
}

func (c *TieredCost) Cost(fill types.Fill) decimal.Decimal {
	notional := fill.Notional()
	if len(c.tiers) == 0 {
		return decimal.Zero
	}
	for _, tier := range c.tiers {
		if tier.MaxNotional.LessThanOrEqual(decimal.Zero) || tier.MaxNotional.GreaterThanOrEqual(notional) {
			return notional.Mul(tier.Bps).Div(decimal.NewFromInt(10000))
		}
	}
	last := c.tiers[len(c.tiers)-1]
	return notional.Mul(last.Bps).Div(decimal.NewFromInt(10000))
}

// CommissionModel charges a flat or proportional commission per fill,
// kept distinct from TransactionCostModel per §4.7's "commission.type"
// config key.
type CommissionModel interface {
	Commission(fill types.Fill) decimal.Decimal
}

// ZeroCommission charges nothing.
type ZeroCommission struct{}

func (ZeroCommission) Commission(types.Fill) decimal.Decimal { return decimal.Zero }

// FixedCommission charges a flat per-fill fee.
type FixedCommission struct {
	Fee decimal.Decimal
}

func (c FixedCommission) Commission(types.Fill) decimal.Decimal { return c.Fee }
