package queue

import "fmt"

// ValidationError reports a malformed operation request. It is returned to
// the caller immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid operation: %s %s", e.Field, e.Message)
}
