package service

import (
	"errors"
	"fmt"

	"github.com/fjod/commerce-pipeline/orders-service/internal/domain"
)

var (
	ErrEmptyCart           = errors.New("cart is empty, nothing to order")
	ErrInvalidQuantity     = errors.New("cart item quantity must be at least 1")
	ErrInvalidAddress      = errors.New("shipping address requires street, city, state, pincode and country")
	ErrOutOfStock          = errors.New("insufficient stock")
	ErrMixedCurrency       = domain.ErrMixedCurrency
	ErrOrderNotFound       = errors.New("order not found")
	ErrForbidden           = errors.New("you do not have access to this order")
	IllegalTransitionError = errors.New("illegal transition of order status")
)

// OutOfStockError names the first cart line the catalog cannot cover.
type OutOfStockError struct {
	ProductID string
	Title     string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	name := e.Title
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("product %s is out of stock or insufficient stock (requested %d, available %d)", name, e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}
