package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	assert.True(t, CanTransitionTo(OrderStatusPending, OrderStatusCancelled))
	assert.False(t, CanTransitionTo(OrderStatusCancelled, OrderStatusPending))
	assert.False(t, CanTransitionTo(OrderStatusCancelled, OrderStatusCancelled))
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestLineAndTotal(t *testing.T) {
	items := []OrderItem{
		Line("p1", 2, Price{Amount: 100, Currency: "INR"}),
		Line("p2", 1, Price{Amount: 250, Currency: "INR"}),
	}

	assert.Equal(t, Price{Amount: 200, Currency: "INR"}, items[0].Price)

	total, err := Total(items)
	require.NoError(t, err)
	assert.Equal(t, Price{Amount: 450, Currency: "INR"}, total)
}

func TestLine_DefaultsCurrency(t *testing.T) {
	item := Line("p1", 3, Price{Amount: 10})
	assert.Equal(t, Price{Amount: 30, Currency: DefaultCurrency}, item.Price)
}

func TestTotal_RejectsMixedCurrency(t *testing.T) {
	_, err := Total([]OrderItem{
		Line("p1", 1, Price{Amount: 100, Currency: "INR"}),
		Line("p2", 1, Price{Amount: 100, Currency: "USD"}),
	})
	assert.ErrorIs(t, err, ErrMixedCurrency)
}

func TestItemsFor(t *testing.T) {
	o := Order{Items: []OrderItem{
		Line("p1", 1, Price{Amount: 1}),
		Line("p2", 1, Price{Amount: 1}),
	}}

	items := o.ItemsFor(map[string]struct{}{"p2": {}})

	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].Product)
}

func TestAddress_IsComplete(t *testing.T) {
	a := Address{Street: "1 Main", City: "Pune", State: "MH", Zip: "411001", Country: "IN"}
	assert.True(t, a.IsComplete())
	a.Zip = ""
	assert.False(t, a.IsComplete())
}
