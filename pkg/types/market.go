// Package types provides shared domain types for the regime-aware trading core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an immutable OHLCV aggregate for one symbol over a fixed interval.
type Bar struct {
	Timestamp   time.Time       `json:"timestamp"`
	SymbolID    string          `json:"symbolId"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	VWAP        decimal.Decimal `json:"vwap,omitempty"`
	TradeCount  int64           `json:"tradeCount,omitempty"`
}

// Tick is an immutable trade or quote event for one symbol.
type Tick struct {
	Timestamp time.Time       `json:"timestamp"`
	SymbolID  string          `json:"symbolId"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// OrderBookLevel is a single price level in a book snapshot.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is an immutable L1..Ln book snapshot for one symbol.
type OrderBook struct {
	Timestamp time.Time        `json:"timestamp"`
	SymbolID  string           `json:"symbolId"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
}

// BestBid returns the top-of-book bid level, ok=false if the book is empty.
func (b OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top-of-book ask level, ok=false if the book is empty.
func (b OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}
