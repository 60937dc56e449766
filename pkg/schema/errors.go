package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError is one failing field.
type ValidationError struct {
	Key    string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Key, e.Reason)
}

// AggregateError collects every failing field of one validation.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e.Errors))
	for _, err := range e.Errors {
		b.WriteString("\n  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// ValidationErrors returns the field errors wrapped in err, if any.
func ValidationErrors(err error) []*ValidationError {
	var out []*ValidationError
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		for _, e := range aggr.Errors {
			var v *ValidationError
			if errors.As(e, &v) {
				out = append(out, v)
			}
		}
	}
	return out
}
