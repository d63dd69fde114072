package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is an immutable equity-curve point appended on every
// metrics-tracker update (§3).
type PortfolioSnapshot struct {
	Timestamp          time.Time       `json:"timestamp"`
	Equity             decimal.Decimal `json:"equity"`
	Cash               decimal.Decimal `json:"cash"`
	PositionsValuation decimal.Decimal `json:"positionsValuation"`
}
