package scheduler

import "errors"

// Sentinel errors for the scheduler admin surface.
var (
	ErrNotFound       = errors.New("scheduled email not found")
	ErrNotCancellable = errors.New("scheduled email is not in a cancellable state")
	ErrInvalidFilter  = errors.New("invalid list filter")
)
