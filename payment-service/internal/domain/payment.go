package domain

import (
	"time"

	"github.com/fjod/commerce-pipeline/pkg/events"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

func (s PaymentStatus) String() string {
	return string(s)
}

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted
}

type Price struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Payment tracks one gateway order raised against an order. Amounts are in
// minor units. PaymentID and Signature stay empty until verification.
type Payment struct {
	ID              string        `json:"id"`
	OrderID         string        `json:"order"`
	UserID          string        `json:"user"`
	RazorpayOrderID string        `json:"razorpayOrderId"`
	PaymentID       string        `json:"paymentId,omitempty"`
	Signature       string        `json:"signature,omitempty"`
	Price           Price         `json:"price"`
	Status          PaymentStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Event is the payment as published on the seller topics.
func (p *Payment) Event() events.Payment {
	return events.Payment{
		ID:              p.ID,
		Order:           p.OrderID,
		User:            p.UserID,
		RazorpayOrderID: p.RazorpayOrderID,
		PaymentID:       p.PaymentID,
		Price:           events.Price(p.Price),
		Status:          p.Status.String(),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
