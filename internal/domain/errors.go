package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrNotOwner              = errors.New("order not owned by account")
	ErrInvalidOrder          = errors.New("invalid order parameters")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrMarketClosed          = errors.New("market closed for trading")
	ErrInsufficientLiquidity = errors.New("trade too large for current liquidity")
	ErrNumericInvariant      = errors.New("numeric invariant violation")
	ErrConflict              = errors.New("write conflict")
	ErrContention            = errors.New("contention retries exhausted")
	ErrTimeout               = errors.New("deadline exceeded before commit")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
