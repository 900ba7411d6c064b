package domain

import "errors"

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrAlreadyInitialized  = errors.New("payment already initialized")
	ErrAnomalousTransition = errors.New("anomalous state transition")
	ErrStatusConflict      = errors.New("order status changed concurrently")
	ErrAmountMismatch      = errors.New("amount does not match order total")
)
