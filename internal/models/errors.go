package models

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrEventRetired          = errors.New("event is no longer on sale")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotPaid          = errors.New("order is not paid")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrDuplicateReference    = errors.New("duplicate order reference")
	ErrSignatureMismatch     = errors.New("webhook signature mismatch")
	ErrGateway               = errors.New("payment gateway error")
)

// ValidationError is returned for bad input before anything is persisted
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InsufficientInventoryError reports how many tickets were left when a request could not be met
type InsufficientInventoryError struct {
	EventID   string
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for event %s: available=%d, requested=%d",
		e.EventID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// GatewayError wraps a failed or timed out call to the payment gateway
type GatewayError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("gateway %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}
