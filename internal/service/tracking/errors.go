package tracking

import "errors"

// Sentinel errors for the tracking service layer.
var (
	ErrNotFound       = errors.New("email record not found")
	ErrMissingMessage = errors.New("provider message id is required")
	ErrInvalidStatus  = errors.New("invalid email status")
)
