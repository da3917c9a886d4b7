package preferences

import "errors"

// Sentinel errors for the preferences service layer.
var (
	ErrNotFound        = errors.New("email preferences not found")
	ErrInvalidIdentity = errors.New("preferences require exactly one user or client id")
)
