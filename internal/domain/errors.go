package domain

import "errors"

var (
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrPositionNotFound    = errors.New("position not found")
	ErrExecutionFailure    = errors.New("execution failure")
	ErrInvalidPair         = errors.New("invalid pair")
	ErrInvalidSize         = errors.New("invalid size")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrProtectionDisabled  = errors.New("protection not enabled")
	ErrInvalidPlan         = errors.New("invalid protection plan")
	ErrInvalidMode         = errors.New("invalid execution mode")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrDuplicateOrder      = errors.New("duplicate order")
	ErrOrderExpired        = errors.New("order expired")
)

// ExecutionError is returned when the execution service rejects an order or
// cannot be reached. It matches ErrExecutionFailure under errors.Is.
type ExecutionError struct {
	Route     string
	Message   string
	Simulated bool // true when the failure happened before reaching a venue
}

func (e *ExecutionError) Error() string {
	if e.Route == "" {
		return "execution failure: " + e.Message
	}
	return "execution failure via " + e.Route + ": " + e.Message
}

func (e *ExecutionError) Unwrap() error { return ErrExecutionFailure }
