package service

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamOrderUnavailable = errors.New("order could not be fetched from the order service")
	ErrOrderNotPayable          = errors.New("only pending orders can be paid")
	ErrMissingCallbackFields    = errors.New("missing payment details")
	ErrInvalidSignature         = errors.New("payment signature does not match")
	ErrPaymentNotFound          = errors.New("payment not found")
	ErrGateway                  = errors.New("payment gateway rejected the order")
)

// ErrPaymentSettled answers a callback for a payment that is already
// completed. It matches ErrPaymentNotFound so a replayed callback stays a 404.
var ErrPaymentSettled = fmt.Errorf("%w: already settled", ErrPaymentNotFound)
