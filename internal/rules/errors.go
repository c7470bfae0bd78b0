package rules

import "fmt"

// ValidationError rejects a malformed rule or payload before it reaches the
// ledger. Field is a dotted path into the document, empty for the root.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid document: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
