package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidSignal means the weighted volume on both sides was zero and
	// no imbalance ratio exists for this cycle.
	ErrInvalidSignal = errors.New("invalid signal: zero total weighted volume")

	// ErrMalformedTick means a tick lacked a required price or size.
	ErrMalformedTick = errors.New("malformed tick")

	// ErrCrossingUnderflow means a crossing step would have removed more
	// volume than a level holds. The book invariants are broken.
	ErrCrossingUnderflow = errors.New("crossing underflow")

	ErrLockHeld          = errors.New("lock held by another owner")
	ErrHalted            = errors.New("tracker halted")
	ErrSessionClosed     = errors.New("outside trading session")
	ErrInsufficientDepth = errors.New("insufficient book depth")
)
