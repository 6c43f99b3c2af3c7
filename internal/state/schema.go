// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"strings"
)

// Rule is a per-key constraint applied on writes.
type Rule struct {
	MinLength *int
	MaxLength *int
	MinValue  *float64
	MaxValue  *float64
}

// Schema is an optional store-level validation layer: required keys, expected
// value types and per-key rules. Type mismatches are reported as warnings
// only; missing required keys and rule violations reject the write.
type Schema struct {
	RequiredKeys []string
	KeyTypes     map[string]string // string, number, boolean, array, object
	Rules        map[string]Rule
}

// Validate checks a prospective full state snapshot. It returns non-fatal
// warnings and an error when the snapshot violates the schema.
func (s *Schema) Validate(snapshot map[string]any) ([]string, error) {
	var warnings []string
	var problems []string

	for _, required := range s.RequiredKeys {
		if _, ok := snapshot[strings.ToLower(strings.TrimSpace(required))]; !ok {
			problems = append(problems, "missing required key: "+required)
		}
	}

	for key, value := range snapshot {
		if expected, ok := s.KeyTypes[key]; ok && !matchesType(value, expected) {
			warnings = append(warnings, fmt.Sprintf("key %q expected %s, got %T", key, expected, value))
		}
		if rule, ok := s.Rules[key]; ok {
			if err := rule.check(key, value); err != nil {
				problems = append(problems, err.Error())
			}
		}
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %s", ErrWriteRejected, strings.Join(problems, "; "))
	}
	return warnings, nil
}

func (r Rule) check(key string, value any) error {
	if s, ok := value.(string); ok {
		if r.MinLength != nil && len(s) < *r.MinLength {
			return fmt.Errorf("key %q: minimum length %d required", key, *r.MinLength)
		}
		if r.MaxLength != nil && len(s) > *r.MaxLength {
			return fmt.Errorf("key %q: maximum length %d exceeded", key, *r.MaxLength)
		}
	}
	if n, ok := asNumber(value); ok {
		if r.MinValue != nil && n < *r.MinValue {
			return fmt.Errorf("key %q: minimum value %g required", key, *r.MinValue)
		}
		if r.MaxValue != nil && n > *r.MaxValue {
			return fmt.Errorf("key %q: maximum value %g exceeded", key, *r.MaxValue)
		}
	}
	return nil
}

func matchesType(value any, expected string) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := asNumber(value)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

func asNumber(value any) (float64, bool) {
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
