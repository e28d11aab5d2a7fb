package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by services wraps exactly one of these
// roots so the HTTP boundary can map it with errors.Is.
var (
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrEmptyCart              = errors.New("cart is empty, nothing to checkout")
	ErrItemNotInCart          = errors.New("item not in cart")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrValidation             = errors.New("validation failed")
)

var (
	ErrProductNotFound        = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("order %w", ErrNotFound)
	ErrCartNotFound           = fmt.Errorf("cart %w", ErrNotFound)
	ErrCartItemNotFound       = fmt.Errorf("cart item %w", ErrNotFound)
	ErrConcurrentModification = fmt.Errorf("%w: order was modified concurrently, retry", ErrConflict)
	ErrDuplicateCheckout      = fmt.Errorf("%w: checkout already processed for this idempotency key", ErrConflict)
	ErrAdminRequired          = fmt.Errorf("%w: admin access required", ErrUnauthorized)
	ErrNotOrderOwner          = fmt.Errorf("%w: not your order", ErrForbidden)
)

func InsufficientStockError(productID, productName string) error {
	if productName == "" {
		return fmt.Errorf("%w for product %s", ErrInsufficientStock, productID)
	}
	return fmt.Errorf("%w for %s (product %s)", ErrInsufficientStock, productName, productID)
}

func ItemNotInCartError(productID string) error {
	return fmt.Errorf("%w: product %s", ErrItemNotInCart, productID)
}

func InvalidTransitionError(from, to OrderStatus) error {
	return fmt.Errorf("%w: cannot change order with status %s to %s", ErrInvalidStateTransition, from, to)
}

func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
