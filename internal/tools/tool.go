// SPDX-License-Identifier: Apache-2.0

// Package tools provides the operation registry consumed by the plan engine:
// named tools with explicit input validation and a uniform result envelope.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusPartial Status = "partial"
	StatusWarning Status = "warning"
)

// Result is the envelope every tool invocation produces. The engine treats
// any non-success status as a step failure.
type Result struct {
	ToolName      string    `json:"tool_name"`
	Status        Status    `json:"status"`
	Data          any       `json:"data,omitempty"`
	Error         string    `json:"error,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	ExecutionTime float64   `json:"execution_time"` // seconds
	Timestamp     time.Time `json:"timestamp"`
}

func Success(tool string, data any) *Result {
	return &Result{ToolName: tool, Status: StatusSuccess, Data: data, Timestamp: time.Now()}
}

func Failure(tool, errMsg string) *Result {
	return &Result{ToolName: tool, Status: StatusError, Error: errMsg, Timestamp: time.Now()}
}

// ToMap renders the result for persistence under the step-scoped result key.
func (r *Result) ToMap() map[string]any {
	m := map[string]any{
		"tool_name":      r.ToolName,
		"status":         string(r.Status),
		"execution_time": r.ExecutionTime,
		"timestamp":      r.Timestamp.Format(time.RFC3339Nano),
	}
	if r.Data != nil {
		m["data"] = r.Data
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if len(r.Warnings) > 0 {
		warnings := make([]any, 0, len(r.Warnings))
		for _, w := range r.Warnings {
			warnings = append(warnings, w)
		}
		m["warnings"] = warnings
	}
	return m
}

// Handler performs the tool's work against already-validated parameters.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Validator is the swappable input-validation capability attached to a tool.
type Validator interface {
	Validate(params map[string]any) error
}

// Tool is a named operation with a declared input contract.
type Tool struct {
	Name        string
	Description string
	Category    string
	Input       Validator
	Handler     Handler
}

// FieldSpec declares one parameter of an InputSchema.
type FieldSpec struct {
	Type     string // string, number, boolean, array, object
	Required bool
	OneOf    []string
	Min      *float64
	Max      *float64
}

// InputSchema is the default Validator: per-field types, required flags,
// enumerations and numeric bounds.
type InputSchema struct {
	Fields map[string]FieldSpec
}

func (s *InputSchema) Validate(params map[string]any) error {
	for name, spec := range s.Fields {
		value, ok := params[name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if err := spec.check(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (f FieldSpec) check(name string, value any) error {
	switch f.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", name)
		}
		if len(f.OneOf) > 0 {
			for _, allowed := range f.OneOf {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("parameter %q must be one of: %s", name, strings.Join(f.OneOf, ", "))
		}
	case "number":
		n, ok := toNumber(value)
		if !ok {
			return fmt.Errorf("parameter %q must be a number", name)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Errorf("parameter %q must be >= %g", name, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Errorf("parameter %q must be <= %g", name, *f.Max)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("parameter %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object", name)
		}
	}
	return nil
}

func toNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
