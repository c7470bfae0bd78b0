package ledger

import "fmt"

// IntegrityError reports the first event at which the chain stops verifying.
type IntegrityError struct {
	Index  int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity broken at index %d: %s", e.Index, e.Reason)
}

// SigningError means the signer key was unavailable or signing failed. The
// append that produced it committed nothing.
type SigningError struct {
	SignerID string
	Cause    error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign event for %s: %v", e.SignerID, e.Cause)
}

func (e *SigningError) Unwrap() error { return e.Cause }

// ValidationError rejects an append before the ledger is touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
