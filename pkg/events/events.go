// Package events names the broker topics and the payloads exchanged on them.
package events

import "time"

const (
	TopicOrderCreated = "ORDER_SELLER_DASHBOARD.ORDER_CREATED"

	TopicPaymentInitiated = "PAYMENT_NOTIFICATION.PAYMENT_INITIATED"
	TopicPaymentCompleted = "PAYMENT_NOTIFICATION.PAYMENT_COMPLETED"
	TopicPaymentFailed    = "PAYMENT_NOTIFICATION.PAYMENT_FAILED"

	TopicPaymentCreated = "PAYMENT_SELLER_DASHBOARD.PAYMENT_CREATED"
	TopicPaymentUpdated = "PAYMENT_SELLER_DASHBOARD.PAYMENT_UPDATED"
)

// NotificationTopics are consumed by the notification service.
var NotificationTopics = []string{TopicPaymentInitiated, TopicPaymentCompleted, TopicPaymentFailed}

// SellerTopics are consumed by the seller dashboard.
var SellerTopics = []string{TopicOrderCreated, TopicPaymentCreated, TopicPaymentUpdated}

type Price struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type OrderItem struct {
	Product  string `json:"product"`
	Quantity int    `json:"quantity"`
	Price    Price  `json:"price"`
}

// OrderCreated mirrors the full order document published by the orders service.
type OrderCreated struct {
	ID         string      `json:"id"`
	User       string      `json:"user"`
	Items      []OrderItem `json:"items"`
	Status     string      `json:"status"`
	TotalPrice Price       `json:"totalPrice"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Payment mirrors the payment record published on the seller topics.
type Payment struct {
	ID              string    `json:"id"`
	Order           string    `json:"order"`
	User            string    `json:"user"`
	RazorpayOrderID string    `json:"razorpayOrderId"`
	PaymentID       string    `json:"paymentId,omitempty"`
	Price           Price     `json:"price"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type PaymentInitiated struct {
	Email    string `json:"email"`
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Username string `json:"username"`
}

// PaymentCompleted carries the amount in major currency units.
type PaymentCompleted struct {
	Email     string  `json:"email"`
	OrderID   string  `json:"orderId"`
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	FullName  string  `json:"fullName"`
}

type PaymentFailed struct {
	Email     string `json:"email"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	FullName  string `json:"fullName"`
	Reason    string `json:"reason,omitempty"`
}

// MinorToMajor converts an integer amount in minor units (paise, cents) to major units.
func MinorToMajor(amount int64) float64 {
	return float64(amount) / 100
}
