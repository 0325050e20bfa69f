package domain

import (
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusCancelled},
}

// CanTransitionTo reports whether an order may move from one status to another.
// Terminal statuses never move.
func CanTransitionTo(from, to OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DefaultCurrency is used when a catalog price carries no currency.
const DefaultCurrency = "INR"

var ErrMixedCurrency = errors.New("cart items are priced in different currencies")

type Price struct {
	Amount   int64  `bson:"amount" json:"amount"`
	Currency string `bson:"currency" json:"currency"`
}

type Address struct {
	Street  string `bson:"street" json:"street"`
	City    string `bson:"city" json:"city"`
	State   string `bson:"state" json:"state"`
	Zip     string `bson:"zip" json:"zip"`
	Country string `bson:"country" json:"country"`
}

func (a Address) IsComplete() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.Zip != "" && a.Country != ""
}

// OrderItem holds the line total (unit price × quantity) captured at creation.
type OrderItem struct {
	Product  string `bson:"product" json:"product"`
	Quantity int    `bson:"quantity" json:"quantity"`
	Price    Price  `bson:"price" json:"price"`
}

type Order struct {
	ID              string      `bson:"_id" json:"id"`
	User            string      `bson:"user_id" json:"user"`
	Items           []OrderItem `bson:"items" json:"items"`
	Status          OrderStatus `bson:"status" json:"status"`
	TotalPrice      Price       `bson:"total_price" json:"totalPrice"`
	ShippingAddress Address     `bson:"shipping_address" json:"shippingAddress"`
	CreatedAt       time.Time   `bson:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `bson:"updated_at" json:"updatedAt"`
}

// Line prices a cart line from the unit price.
func Line(product string, quantity int, unit Price) OrderItem {
	currency := unit.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return OrderItem{
		Product:  product,
		Quantity: quantity,
		Price:    Price{Amount: unit.Amount * int64(quantity), Currency: currency},
	}
}

// Total sums the line prices. All lines must share one currency.
func Total(items []OrderItem) (Price, error) {
	total := Price{Currency: DefaultCurrency}
	for i, item := range items {
		if i == 0 {
			total.Currency = item.Price.Currency
		} else if item.Price.Currency != total.Currency {
			return Price{}, ErrMixedCurrency
		}
		total.Amount += item.Price.Amount
	}
	return total, nil
}

// ItemsFor keeps only the lines whose product is in products.
func (o *Order) ItemsFor(products map[string]struct{}) []OrderItem {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := products[item.Product]; ok {
			items = append(items, item)
		}
	}
	return items
}
