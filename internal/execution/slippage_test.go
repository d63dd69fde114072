package execution_test

import (
	"testing"

	"github.com/regimeflow/regimeflow/internal/execution"
	"github.com/regimeflow/regimeflow/pkg/types"
	"github.com/shopspring/decimal"
)

func TestBookDepthSlippageWalksLevels(t *testing.T) {
	books := execution.NewBookStore()
	books.Update("TEST", &execution.Book{
		Symbol: "TEST",
		Asks: []execution.OrderBookLevel{
			{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(5)},
			{Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(5)},
		},
	})

	model := execution.NewBookDepthSlippage(books, decimal.NewFromFloat(1))
	order := &types.Order{Symbol: "TEST", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(8)}

	price := model.Price(order, decimal.NewFromInt(100))

	// 5 @ 100 + 3 @ 101 = 803, / 8 = 100.375
	want := decimal.NewFromFloat(100.375)
	if !price.Equal(want) {
		t.Errorf("price = %s, want %s", price, want)
	}
}

func TestBookDepthSlippageFallsBackWithoutBook(t *testing.T) {
	books := execution.NewBookStore()
	model := execution.NewBookDepthSlippage(books, decimal.NewFromFloat(1))
	order := &types.Order{Symbol: "UNKNOWN", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10)}

	price := model.Price(order, decimal.NewFromInt(50))
	if price.LessThanOrEqual(decimal.NewFromInt(50)) {
		t.Errorf("price = %s, want > 50 (buy-side impact pushes price up)", price)
	}
}

func TestBookDepthSlippageFallsBackForUncoveredRemainder(t *testing.T) {
	books := execution.NewBookStore()
	books.Update("TEST", &execution.Book{
		Symbol: "TEST",
		Asks: []execution.OrderBookLevel{
			{Price: decimal.NewFromInt(100), Quantity: decimal.NewFromInt(2)},
		},
	})

	model := execution.NewBookDepthSlippage(books, decimal.NewFromFloat(1))
	order := &types.Order{Symbol: "TEST", Side: types.OrderSideBuy, Quantity: decimal.NewFromInt(10)}

	price := model.Price(order, decimal.NewFromInt(100))
	if price.LessThanOrEqual(decimal.NewFromInt(100)) {
		t.Errorf("price = %s, want > 100 once the book is exhausted", price)
	}
}
