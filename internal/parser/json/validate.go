package json

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// recordValidator reports field names by their JSON key.
func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// checkRecord validates a raw record and converts the first failure into a
// ParseError. Raw records use pointer fields so that "required" means
// present and non-null while zero values (year 0, empty location) pass.
func checkRecord(raw any, path string, line int) error {
	err := recordValidator().Struct(raw)
	if err == nil {
		return nil
	}

	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return &ParseError{Path: path, Line: line, Err: err}
	}

	fe := ves[0]
	pe := &ParseError{Path: path, Line: line, Field: fe.Field()}
	switch fe.Tag() {
	case "required":
		pe.Err = ErrMissingField
	case "oneof":
		pe.Err = fmt.Errorf("%w: %v not in [%s]", ErrInvalidValue, fe.Value(), fe.Param())
	default:
		pe.Err = fmt.Errorf("%w: failed %s", ErrInvalidValue, fe.Tag())
	}
	return pe
}

// decodeError maps a decoder failure to a ParseError, keeping the field name
// for type mismatches.
func decodeError(err error, path string, line int) error {
	pe := &ParseError{Path: path, Line: line, Err: err}
	var ute *gojson.UnmarshalTypeError
	if errors.As(err, &ute) {
		pe.Field = ute.Field
	}
	return pe
}
