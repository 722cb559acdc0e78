package json

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField reports a required field that is absent or null.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidValue reports a field whose value is outside its domain.
	ErrInvalidValue = errors.New("invalid value")
)

// ParseError describes an input file that cannot be turned into records.
// Line is 1-based; Field is the JSON key when the failure is field-specific.
type ParseError struct {
	Path  string
	Line  int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse %s:%d", e.Path, e.Line)
	if e.Field != "" {
		fmt.Fprintf(&b, " field=%s", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }
