package webhook

import "errors"

// Sentinel errors for webhook ingestion.
var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
