package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound      = errors.New("suppression entry not found")
	ErrEmailRequired = errors.New("email is required")
	ErrBatchTooLarge = errors.New("bulk add exceeds 1000 entries")
	ErrBadReason     = errors.New("unknown suppression reason")
)
