package domain

import "errors"

// Sentinel errors shared across the module. Callers branch with errors.Is;
// the wrapping site adds the component and operation.
var (
	// ErrNotFound covers unknown accounts, missing snapshots, and absent
	// cache entries alike.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited is the CLOB's HTTP 429 surfaced as an error.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnauthorized marks rejected CLOB credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTrade rejects fills that cannot be sized: unknown side,
	// non-positive size, or a price outside (0, 1).
	ErrInvalidTrade = errors.New("invalid trade parameters")

	// ErrInvalidOrder rejects copy orders whose fixed-point amounts round
	// to zero.
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrSigningFailed wraps EIP-712 order signing failures.
	ErrSigningFailed = errors.New("signing failed")

	// ErrWSDisconnect reports a lost user-channel connection.
	ErrWSDisconnect = errors.New("websocket disconnected")

	// ErrLockHeld means another replica owns the copier lock.
	ErrLockHeld = errors.New("lock already held")
)
