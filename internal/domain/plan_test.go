// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"strings"
	"testing"
)

func step(n int, tool, outputKey string) ExecutionStep {
	return ExecutionStep{
		Step:       n,
		Tool:       tool,
		Input:      map[string]any{},
		OutputKey:  outputKey,
		RetryCount: DefaultRetryCount,
		Required:   true,
	}
}

func TestNewPlanSortsSteps(t *testing.T) {
	plan, err := NewPlan("demo", []ExecutionStep{
		step(3, "multiply", "s3"),
		step(1, "add", "s1"),
		step(2, "subtract", "s2"),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	for i, s := range plan.Steps {
		if s.Step != i+1 {
			t.Fatalf("expected step %d at index %d, got %d", i+1, i, s.Step)
		}
	}
}

func TestNewPlanRejectsBadNumbering(t *testing.T) {
	_, err := NewPlan("demo", []ExecutionStep{
		step(1, "add", "s1"),
		step(3, "multiply", "s3"),
	}, nil)

	var verr *PlanValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected PlanValidationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "numbered 1-2") {
		t.Fatalf("expected numbering message, got %q", verr.Error())
	}
	if !strings.Contains(verr.Error(), "[1 3]") {
		t.Fatalf("expected received sequence in message, got %q", verr.Error())
	}
}

func TestNewPlanRejectsDuplicateStepNumbers(t *testing.T) {
	_, err := NewPlan("demo", []ExecutionStep{
		step(1, "add", "s1"),
		step(1, "subtract", "s2"),
	}, nil)

	var verr *PlanValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected PlanValidationError, got %v", err)
	}
}

func TestNewPlanRequiresTaskAndSteps(t *testing.T) {
	if _, err := NewPlan("  ", []ExecutionStep{step(1, "add", "s1")}, nil); err == nil {
		t.Fatal("expected error for blank task")
	}
	if _, err := NewPlan("demo", nil, nil); err == nil {
		t.Fatal("expected error for empty steps")
	}
}

func TestNewPlanNormalizesOutputKey(t *testing.T) {
	plan, err := NewPlan("demo", []ExecutionStep{step(1, "add", "  Sum_1  ")}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Steps[0].OutputKey != "sum_1" {
		t.Fatalf("expected sum_1, got %q", plan.Steps[0].OutputKey)
	}
}

func TestNewPlanRejectsInvalidOutputKey(t *testing.T) {
	for _, key := range []string{"", "has space", "bang!", "über"} {
		if _, err := NewPlan("demo", []ExecutionStep{step(1, "add", key)}, nil); err == nil {
			t.Fatalf("expected error for output key %q", key)
		}
	}
}

func TestNewPlanRetryCountBounds(t *testing.T) {
	for _, rc := range []int{0, 1, MaxRetryCount} {
		s := step(1, "add", "s1")
		s.RetryCount = rc
		if _, err := NewPlan("demo", []ExecutionStep{s}, nil); err != nil {
			t.Fatalf("retry_count %d should be accepted: %v", rc, err)
		}
	}
	for _, rc := range []int{-1, MaxRetryCount + 1} {
		s := step(1, "add", "s1")
		s.RetryCount = rc
		if _, err := NewPlan("demo", []ExecutionStep{s}, nil); err == nil {
			t.Fatalf("retry_count %d should be rejected", rc)
		}
	}
}

func TestNewPlanTimeoutBounds(t *testing.T) {
	s := step(1, "add", "s1")
	s.Timeout = 0.5
	if _, err := NewPlan("demo", []ExecutionStep{s}, nil); err == nil {
		t.Fatal("timeout below one second should be rejected")
	}

	s.Timeout = 1
	if _, err := NewPlan("demo", []ExecutionStep{s}, nil); err != nil {
		t.Fatalf("timeout of one second should be accepted: %v", err)
	}

	s.Timeout = 0
	if _, err := NewPlan("demo", []ExecutionStep{s}, nil); err != nil {
		t.Fatalf("absent timeout should be accepted: %v", err)
	}
}

func TestPlanFromYAMLDefaults(t *testing.T) {
	raw := []byte(`
task: math demo
steps:
  - step: 1
    tool: add
    input: {a: 1, b: 2}
    output_key: s1
  - step: 2
    tool: multiply
    input: {a: "${s1.result}", b: 3}
    output_key: s2
    retry_count: 0
    required: false
    timeout: 2.5
`)

	plan, err := PlanFromYAML(raw)
	if err != nil {
		t.Fatalf("PlanFromYAML: %v", err)
	}

	first := plan.Steps[0]
	if first.RetryCount != DefaultRetryCount {
		t.Fatalf("expected default retry_count %d, got %d", DefaultRetryCount, first.RetryCount)
	}
	if !first.Required {
		t.Fatal("expected required to default to true")
	}
	if first.Timeout != 0 {
		t.Fatalf("expected no timeout, got %g", first.Timeout)
	}

	second := plan.Steps[1]
	if second.RetryCount != 0 {
		t.Fatalf("expected explicit retry_count 0, got %d", second.RetryCount)
	}
	if second.Required {
		t.Fatal("expected required false to be honored")
	}
	if second.Timeout != 2.5 {
		t.Fatalf("expected timeout 2.5, got %g", second.Timeout)
	}
}

func TestPlanFromYAMLMalformed(t *testing.T) {
	_, err := PlanFromYAML([]byte("task: [unclosed"))
	var verr *PlanValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected PlanValidationError, got %v", err)
	}
}

func TestPlanMapRoundTrip(t *testing.T) {
	s := step(1, "add", "s1")
	s.Input = map[string]any{"a": float64(1), "b": "${seed}"}
	s.Description = "first"
	s.Timeout = 2

	plan, err := NewPlan("demo", []ExecutionStep{s}, map[string]any{"owner": "tests"})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	restored, err := PlanFromMap(plan.ToMap())
	if err != nil {
		t.Fatalf("PlanFromMap: %v", err)
	}

	if restored.Task != plan.Task {
		t.Fatalf("task mismatch: %q vs %q", restored.Task, plan.Task)
	}
	got := restored.Steps[0]
	if got.Tool != "add" || got.OutputKey != "s1" || got.Description != "first" {
		t.Fatalf("step fields lost in round trip: %+v", got)
	}
	if got.Timeout != 2 || got.RetryCount != DefaultRetryCount || !got.Required {
		t.Fatalf("step policy lost in round trip: %+v", got)
	}
	if got.Input["b"] != "${seed}" {
		t.Fatalf("expected reference preserved, got %v", got.Input["b"])
	}
	if restored.Metadata["owner"] != "tests" {
		t.Fatalf("metadata lost in round trip: %v", restored.Metadata)
	}
}
