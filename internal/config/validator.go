package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns e when it holds errors and nil otherwise.
func (e *ValidationErrors) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

var thresholdRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// ParseThresholdExpression splits an expression like "p95 < 500ms" into
// metric, operator and value.
func ParseThresholdExpression(expr string) (metric, op, value string, err error) {
	expr = strings.TrimSpace(expr)
	matches := thresholdRe.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

var validOps = map[string]bool{"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true}

// validateThresholds checks every expression against the metric it applies to.
//
// Valid formats:
//   - http_req_duration: "p95 < 500ms", "avg < 200ms"
//   - http_req_failed: "rate < 0.01"
//   - http_reqs: "count > 1000", "rate > 50"
func validateThresholds(prefix string, t Thresholds, errs *ValidationErrors) {
	for i, expr := range t.HTTPReqDuration {
		field := fmt.Sprintf("%s.http_req_duration[%d]", prefix, i)
		metric, op, value, err := ParseThresholdExpression(expr)
		if err != nil {
			errs.Add(field, err.Error())
			continue
		}
		switch metric {
		case "p50", "p90", "p95", "p99", "min", "max", "avg", "med":
		default:
			errs.Add(field, fmt.Sprintf("unknown latency metric: %s", metric))
		}
		if !validOps[op] {
			errs.Add(field, fmt.Sprintf("invalid operator: %s", op))
		}
		if _, err := ParseLatencyBound(value); err != nil {
			errs.Add(field, err.Error())
		}
	}

	for i, expr := range t.HTTPReqFailed {
		field := fmt.Sprintf("%s.http_req_failed[%d]", prefix, i)
		validateNumericThreshold(field, expr, []string{"rate"}, errs)
	}

	for i, expr := range t.HTTPReqs {
		field := fmt.Sprintf("%s.http_reqs[%d]", prefix, i)
		validateNumericThreshold(field, expr, []string{"count", "rate"}, errs)
	}
}

func validateNumericThreshold(field, expr string, metrics []string, errs *ValidationErrors) {
	metric, op, value, err := ParseThresholdExpression(expr)
	if err != nil {
		errs.Add(field, err.Error())
		return
	}

	known := false
	for _, m := range metrics {
		if metric == m {
			known = true
		}
	}
	if !known {
		errs.Add(field, fmt.Sprintf("metric must be one of %s, got: %s", strings.Join(metrics, ", "), metric))
	}
	if !validOps[op] {
		errs.Add(field, fmt.Sprintf("invalid operator: %s", op))
	}
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		errs.Add(field, fmt.Sprintf("invalid threshold value: %s", value))
	}
}
