package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Sign returns +1 for Buy, -1 for Sell.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

// OrderType is the order's execution style.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeMOC       OrderType = "moc"
	OrderTypeMOO       OrderType = "moo"
)

// TimeInForce governs how long an order remains workable.
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusInvalid         OrderStatus = "invalid"
)

// MetadataRegime is the order metadata key that selects regime-conditional
// risk rules and regime-conditional slippage (§3).
const MetadataRegime = "regime"

// MetadataRiskExit is the order metadata key that bypasses risk validation
// entirely when present (§3, §4.6).
const MetadataRiskExit = "risk_exit"

// Order is a trading order routed through the risk gate and execution sim.
type Order struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Side          OrderSide         `json:"side"`
	Type          OrderType         `json:"type"`
	TIF           TimeInForce       `json:"tif"`
	Quantity      decimal.Decimal   `json:"quantity"`
	FilledQty     decimal.Decimal   `json:"filledQuantity"`
	LimitPrice    decimal.Decimal   `json:"limitPrice,omitempty"`
	StopPrice     decimal.Decimal   `json:"stopPrice,omitempty"`
	AvgFillPrice  decimal.Decimal   `json:"avgFillPrice"`
	Status        OrderStatus       `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	StrategyID    string            `json:"strategyId,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Regime returns the order's regime metadata and whether it was set.
func (o *Order) Regime() (string, bool) {
	if o.Metadata == nil {
		return "", false
	}
	v, ok := o.Metadata[MetadataRegime]
	return v, ok
}

// IsRiskExit reports whether the order bypasses risk validation.
func (o *Order) IsRiskExit() bool {
	if o.Metadata == nil {
		return false
	}
	_, ok := o.Metadata[MetadataRiskExit]
	return ok
}

// HasLimitPrice reports whether the order carries a usable limit price for
// price-based risk/slippage checks.
func (o *Order) HasLimitPrice() bool {
	return !o.LimitPrice.IsZero()
}

// Fill is a single execution report. Quantity is signed: positive for buys,
// negative for sells.
type Fill struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"orderId"`
	Symbol     string          `json:"symbol"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Commission decimal.Decimal `json:"commission"`
	Slippage   decimal.Decimal `json:"slippage"`
	IsMaker    bool            `json:"isMaker"`
}

// Notional returns the absolute dollar notional of the fill.
func (f Fill) Notional() decimal.Decimal {
	return f.Quantity.Abs().Mul(f.Price)
}
