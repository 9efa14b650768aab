package config

// This file adds a lightweight linter/validator for Pipeline values. Struct
// tags cover field-level rules; the hand-written checks cover relationships
// between sections (connections, frames, strategies).

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.strategy",
// "tables[1].join.frame"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors returns only the blocking issues.
func Errors(issues []Issue) []Issue {
	return lo.Filter(issues, func(i Issue, _ int) bool { return i.Severity == SeverityError })
}

// AsError joins the blocking issues into one error, or returns nil.
func AsError(issues []Issue) error {
	errs := lo.Map(Errors(issues), func(i Issue, _ int) error { return i })
	return errors.Join(errs...)
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var knownStorageKinds = []string{"postgres", "mssql", "mysql", "sqlite"}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Callers may decide whether to treat
// warnings as fatal or not; AsError keeps only the errors.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	issues = append(issues, validateStruct(p)...)
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateRelationalize(p.Relationalize)...)
	issues = append(issues, validateTables(p.Relationalize.RootTable, p.Tables)...)
	issues = append(issues, validateStorage(p)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

// validateStruct converts validator tag failures into issues.
func validateStruct(p Pipeline) []Issue {
	err := structValidator.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
	}
	return lo.Map(verrs, func(fe validator.FieldError, _ int) Issue {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		return Issue{
			Severity: SeverityError,
			Path:     path,
			Message:  tagMessage(fe),
		}
	})
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s must not be empty", fe.Field())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s=%v; must be one of [%s]", fe.Field(), fe.Value(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}

func validateSource(s Source) []Issue {
	var issues []Issue
	if strings.TrimSpace(s.Catalog) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.catalog",
			Message:  "source.catalog must name a catalog document",
		})
	}
	if _, err := s.Settings(); err != nil {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.options",
			Message:  err.Error(),
		})
	}
	if s.Options.Bool("insecure_skip_verify", false) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.options.insecure_skip_verify",
			Message:  "TLS certificates of the extract endpoint are not verified",
		})
	}
	if n := s.Options.Int("max_retries", 0); n > maxSourceRetries {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.options.max_retries",
			Message:  fmt.Sprintf("%d retries with exponential backoff; more than %d is rarely useful", n, maxSourceRetries),
		})
	}
	if env := s.Options.String("envelope", ""); strings.Contains(env, ".") {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "source.options.envelope",
			Message:  fmt.Sprintf("envelope %q is read as one top-level field name, not a path", env),
		})
	}
	return issues
}

const maxSourceRetries = 10

func validateRelationalize(r Relationalize) []Issue {
	var issues []Issue
	if strings.HasPrefix(r.StagingPath, "s3://") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "relationalize.staging_path",
			Message:  "object-store staging is not supported; use a local directory or file:// URI",
		})
	}
	if r.Placeholders {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "relationalize.placeholders",
			Message:  "placeholder rows are emitted for empty arrays; child tables need a filter",
		})
	}
	return issues
}

func validateTables(root string, ts []Table) []Issue {
	var issues []Issue

	names := lo.Map(ts, func(t Table, _ int) string { return t.Name })
	for _, dup := range lo.FindDuplicates(names) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "tables",
			Message:  fmt.Sprintf("table %q is listed more than once", dup),
		})
	}

	for i, t := range ts {
		path := fmt.Sprintf("tables[%d]", i)
		if t.Frame != "" && t.Frame != root && !strings.HasPrefix(t.Frame, root+"_") {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".frame",
				Message:  fmt.Sprintf("frame %q is not produced from root %q", t.Frame, root),
			})
		}
		if t.Join != nil && t.Join.Frame == t.Frame {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".join.frame",
				Message:  "join frame must differ from the table frame",
			})
		}
		if t.Frame != root && t.Filter == nil {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".filter",
				Message:  "child frame has no placeholder filter",
			})
		}
		if t.Prune == PruneDropNullFields {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".prune",
				Message:  "drop_null_fields makes the written column set depend on the data",
			})
		}
		if len(t.KeyColumns) == 0 {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + ".key_columns",
				Message:  "no key columns; duplicate rows will not be detected",
			})
		}
	}
	return issues
}

func validateStorage(p Pipeline) []Issue {
	var issues []Issue
	s := p.Storage

	kind, _, err := p.ResolveConnection()
	if err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.connection",
			Message:  err.Error(),
		})
	} else if !lo.Contains(knownStorageKinds, kind) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; ensure a matching backend is registered", kind),
		})
	}

	if s.Strategy == StrategyPreaction {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.strategy",
			Message:  "preaction strategy is not transactional; readers may observe empty tables",
		})
		for i, t := range p.Tables {
			if strings.TrimSpace(t.Preactions) == "" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     fmt.Sprintf("tables[%d].preactions", i),
					Message:  "no preactions; rows will be appended to existing contents",
				})
			}
		}
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	var issues []Issue
	switch m.Backend {
	case "pushgateway":
		if m.PushgatewayURL == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend requires pushgateway_url",
			})
		}
	case "datadog":
		if m.DatadogAddr == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.datadog_addr",
				Message:  "datadog_addr is empty; the client default address is used",
			})
		}
	}
	return issues
}
