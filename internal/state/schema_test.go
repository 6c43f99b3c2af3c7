// SPDX-License-Identifier: Apache-2.0

package state

import (
	"errors"
	"strings"
	"testing"
)

func TestSchemaMissingRequiredKeyRejects(t *testing.T) {
	schema := &Schema{RequiredKeys: []string{"task"}}

	_, err := schema.Validate(map[string]any{"other": 1})
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing required key: task") {
		t.Fatalf("expected missing key message, got %q", err.Error())
	}

	if _, err := schema.Validate(map[string]any{"task": "demo"}); err != nil {
		t.Fatalf("expected valid snapshot, got %v", err)
	}
}

func TestSchemaTypeMismatchWarns(t *testing.T) {
	schema := &Schema{KeyTypes: map[string]string{"count": "number"}}

	warnings, err := schema.Validate(map[string]any{"count": "three"})
	if err != nil {
		t.Fatalf("type mismatch must not reject: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "expected number") {
		t.Fatalf("expected one type warning, got %v", warnings)
	}

	warnings, err = schema.Validate(map[string]any{"count": 3})
	if err != nil || len(warnings) != 0 {
		t.Fatalf("expected clean validation, got %v %v", warnings, err)
	}
}

func TestSchemaRuleViolationsReject(t *testing.T) {
	minLen, maxLen := 2, 5
	minVal, maxVal := 0.0, 100.0
	schema := &Schema{Rules: map[string]Rule{
		"name":  {MinLength: &minLen, MaxLength: &maxLen},
		"score": {MinValue: &minVal, MaxValue: &maxVal},
	}}

	cases := []struct {
		snapshot map[string]any
		wantMsg  string
	}{
		{map[string]any{"name": "a"}, "minimum length"},
		{map[string]any{"name": "toolong"}, "maximum length"},
		{map[string]any{"score": -1}, "minimum value"},
		{map[string]any{"score": 101.5}, "maximum value"},
	}

	for _, tc := range cases {
		_, err := schema.Validate(tc.snapshot)
		if !errors.Is(err, ErrWriteRejected) {
			t.Fatalf("%v: expected ErrWriteRejected, got %v", tc.snapshot, err)
		}
		if !strings.Contains(err.Error(), tc.wantMsg) {
			t.Fatalf("%v: expected %q in error, got %q", tc.snapshot, tc.wantMsg, err.Error())
		}
	}

	if _, err := schema.Validate(map[string]any{"name": "okay", "score": 50}); err != nil {
		t.Fatalf("expected valid snapshot, got %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	got, err := NormalizeKey("  Step_1.Result  ")
	if err != nil {
		t.Fatalf("NormalizeKey: %v", err)
	}
	if got != "step_1.result" {
		t.Fatalf("expected step_1.result, got %q", got)
	}

	for _, key := range []string{"", "has space", "néé"} {
		if _, err := NormalizeKey(key); !errors.Is(err, ErrWriteRejected) {
			t.Fatalf("expected rejection for %q, got %v", key, err)
		}
	}
}
