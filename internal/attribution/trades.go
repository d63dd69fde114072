// Package attribution reconstructs round-trip trades from a fill stream
// by FIFO lot matching and computes the performance-summary and
// regime-attribution statistics derived from them (§4.8).
package attribution

import (
	"time"

	"github.com/regimeflow/regimeflow/pkg/types"
)

// Trade is one closed round trip: the portion of an open lot matched
// against an opposite-side fill.
type Trade struct {
	Symbol       string
	PnL          float64
	Notional     float64
	DurationDays float64
	ClosedAt     time.Time
}

type lot struct {
	quantity   float64
	price      float64
	timestamp  time.Time
	commission float64
}

// BuildTradesFromFills walks fills in order and FIFO-matches opposite-
// side quantity against the oldest open lot per symbol, exactly as
// original_source/src/metrics/performance_calculator.cpp's
// build_trades_from_fills does. Realized PnL on each matched chunk
// nets out both the matched fraction of the opening lot's commission
// and the matched fraction of the closing fill's commission.
func BuildTradesFromFills(fills []types.Fill) []Trade {
	openLots := make(map[string][]lot)
	var trades []Trade

	for _, fill := range fills {
		qty := fill.Quantity.InexactFloat64()
		if fill.Symbol == "" || qty == 0 {
			continue
		}
		price := fill.Price.InexactFloat64()
		commission := fill.Commission.InexactFloat64()

		lots := openLots[fill.Symbol]
		remaining := qty
		fillQtyAbs := abs(qty)
		usedCloseCommission := 0.0

		for len(lots) > 0 && remaining*lots[0].quantity < 0 {
			l := lots[0]
			lots = lots[1:]

			closeQty := minF(abs(remaining), abs(l.quantity))
			sign := 1.0
			if l.quantity < 0 {
				sign = -1.0
			}
			openCommission := l.commission * (closeQty / abs(l.quantity))
			closeCommission := 0.0
			if fillQtyAbs > 0 {
				closeCommission = commission * (closeQty / fillQtyAbs)
			}
			usedCloseCommission += closeCommission

			pnl := closeQty*(price-l.price)*sign - openCommission - closeCommission
			notional := closeQty * l.price
			durationDays := fill.Timestamp.Sub(l.timestamp).Hours() / 24.0

			trades = append(trades, Trade{
				Symbol:       fill.Symbol,
				PnL:          pnl,
				Notional:     notional,
				DurationDays: durationDays,
				ClosedAt:     fill.Timestamp,
			})

			lotSign := 1.0
			if l.quantity > 0 {
				lotSign = -1.0
			}
			newQty := l.quantity + closeQty*lotSign
			newCommission := l.commission - openCommission
			if newQty != 0 {
				lots = append([]lot{{quantity: newQty, price: l.price, timestamp: l.timestamp, commission: newCommission}}, lots...)
			}

			remainingSign := 1.0
			if l.quantity < 0 {
				remainingSign = -1.0
			}
			remaining += closeQty * remainingSign
		}

		if remaining != 0 {
			remainingCommission := maxF(0, commission-usedCloseCommission)
			lots = append(lots, lot{quantity: remaining, price: price, timestamp: fill.Timestamp, commission: remainingCommission})
		}
		openLots[fill.Symbol] = lots
	}

	return trades
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
