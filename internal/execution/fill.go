package execution

import (
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/regimeflow/regimeflow/pkg/utils"
	"github.com/shopspring/decimal"
)

// Simulator turns an accepted order plus a reference price into a single
// signed Fill (§4.7). Commission and transaction cost are applied by the
// caller after the fact, not by the simulator itself.
type Simulator struct {
	Slippage SlippageModel
}

// NewSimulator builds a Simulator around the given slippage model,
// defaulting to ZeroSlippage when nil.
func NewSimulator(slippage SlippageModel) *Simulator {
	if slippage == nil {
		slippage = ZeroSlippage{}
	}
	return &Simulator{Slippage: slippage}
}

// Fill executes order against referencePrice at timestamp t, returning the
// single resulting Fill. isMaker is recorded verbatim on the fill.
func (s *Simulator) Fill(order *types.Order, referencePrice decimal.Decimal, t time.Time, isMaker bool) types.Fill {
	sign := decimal.NewFromFloat(order.Side.Sign())
	signedQty := order.Quantity.Abs().Mul(sign)
	execPrice := s.Slippage.Price(order, referencePrice)

	return types.Fill{
		ID:         utils.GenerateID("fill"),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Quantity:   signedQty,
		Price:      execPrice,
		Timestamp:  t,
		Commission: decimal.Zero,
		Slippage:   execPrice.Sub(referencePrice),
		IsMaker:    isMaker,
	}
}

// ApplyCosts computes commission and transaction cost for fill and returns
// a copy with Commission populated; the transaction cost is returned
// separately since it is not itself a Fill field (§4.7: "portfolio cash
// is debited by commission+cost in addition to the trade cash flow").
func ApplyCosts(fill types.Fill, commission CommissionModel, cost TransactionCostModel) (types.Fill, decimal.Decimal) {
	if commission == nil {
		commission = ZeroCommission{}
	}
	if cost == nil {
		cost = ZeroCost{}
	}
	fill.Commission = commission.Commission(fill)
	return fill, cost.Cost(fill)
}
