package queue

import "errors"

// Sentinel errors for the queue package.
var (
	ErrBrokerUnavailable = errors.New("queue broker unavailable")
	ErrNoJob             = errors.New("no job available")
	ErrJobNotFound       = errors.New("job not found")
	ErrShutdown          = errors.New("queue manager is shut down")
)
