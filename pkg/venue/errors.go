package venue

import "errors"

var (
	ErrInvalidOrder          = errors.New("invalid order")
	ErrInstrumentNotFound    = errors.New("instrument not found")
	ErrInstrumentExists      = errors.New("instrument already exists")
	ErrOrderNotFound         = errors.New("order not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrForbidden             = errors.New("forbidden")
	ErrClosedOrder           = errors.New("order already executed or cancelled")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrUnauthorized          = errors.New("unauthorized")

	// ErrStorage wraps failures of the underlying store. Callers may retry
	// the whole submission; the failed unit of work left no side effects.
	ErrStorage = errors.New("storage failure")
)
