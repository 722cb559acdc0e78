package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses koanf key names.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg and returns every finding, errors first.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if err := validatorInstance().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
		}
		for _, fe := range verrs {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     issuePath(fe.Namespace()),
				Message:  describe(fe),
			})
		}
	}

	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "storage.dsn", Message: "must not be empty"})
	}
	if cfg.Metrics.Backend == "pushgateway" && cfg.Metrics.PushgatewayURL == "" {
		issues = append(issues, Issue{Severity: SeverityError, Path: "metrics.pushgateway_url", Message: "is required when metrics.backend=pushgateway"})
	}
	if cfg.SongplayIDs == "sequence" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "songplay_ids",
			Message:  "sequence ids restart at 0 in every log file; loading more than one file fails on the songplays primary key",
		})
	}
	if cfg.Storage.Kind == "sqlite" && cfg.Storage.DSN == ":memory:" {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: "storage.dsn", Message: "in-memory database is discarded when the run ends"})
	}
	return issues
}

// issuePath drops the root struct name: Config.storage.kind -> storage.kind.
func issuePath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "timezone":
		return fmt.Sprintf("unknown time zone %q", fe.Value())
	case "url":
		return fmt.Sprintf("invalid URL %q", fe.Value())
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s, got %v", fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
