// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRetryCount = 3
	MaxRetryCount     = 10
	MinTimeoutSeconds = 1.0
)

var outputKeyPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// ExecutionStep is one tool invocation in a plan: declared inputs, the state
// key its result is stored under, and the retry/timeout policy for the attempt
// loop.
type ExecutionStep struct {
	Step        int            `json:"step"`
	Tool        string         `json:"tool"`
	Input       map[string]any `json:"input"`
	OutputKey   string         `json:"output_key"`
	Description string         `json:"description,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Timeout     float64        `json:"timeout,omitempty"` // seconds, 0 = no timeout
	Required    bool           `json:"required"`
}

// ExecutionPlan is a validated, ordered workflow. Steps are numbered 1..N and
// kept in ascending order. Treat a plan as immutable once constructed.
type ExecutionPlan struct {
	Task     string          `json:"task"`
	Steps    []ExecutionStep `json:"steps"`
	Metadata map[string]any  `json:"metadata"`
}

type planDocument struct {
	Task     string         `json:"task" yaml:"task"`
	Steps    []stepDocument `json:"steps" yaml:"steps"`
	Metadata map[string]any `json:"metadata" yaml:"metadata"`
}

type stepDocument struct {
	Step        int            `json:"step" yaml:"step"`
	Tool        string         `json:"tool" yaml:"tool"`
	Input       map[string]any `json:"input" yaml:"input"`
	OutputKey   string         `json:"output_key" yaml:"output_key"`
	Description string         `json:"description" yaml:"description"`
	RetryCount  *int           `json:"retry_count" yaml:"retry_count"`
	Timeout     *float64       `json:"timeout" yaml:"timeout"`
	Required    *bool          `json:"required" yaml:"required"`
}

// NewPlan validates the given steps and returns a normalized plan: steps
// sorted by step number, output keys lower-cased. Any violation yields a
// *PlanValidationError and no plan.
func NewPlan(task string, steps []ExecutionStep, metadata map[string]any) (*ExecutionPlan, error) {
	if strings.TrimSpace(task) == "" {
		return nil, &PlanValidationError{Reason: "task description is required"}
	}
	if len(steps) == 0 {
		return nil, &PlanValidationError{Reason: "plan must have at least one step"}
	}

	received := make([]int, 0, len(steps))
	for _, s := range steps {
		received = append(received, s.Step)
	}

	normalized := make([]ExecutionStep, len(steps))
	copy(normalized, steps)
	sort.SliceStable(normalized, func(i, j int) bool {
		return normalized[i].Step < normalized[j].Step
	})

	for i := range normalized {
		if normalized[i].Step != i+1 {
			return nil, &PlanValidationError{
				Reason: fmt.Sprintf("steps must be numbered 1-%d, got %v", len(steps), received),
			}
		}
		if err := validateStep(&normalized[i]); err != nil {
			return nil, err
		}
	}

	if metadata == nil {
		metadata = map[string]any{}
	}

	return &ExecutionPlan{Task: task, Steps: normalized, Metadata: metadata}, nil
}

func validateStep(s *ExecutionStep) error {
	if strings.TrimSpace(s.Tool) == "" {
		return &PlanValidationError{Reason: fmt.Sprintf("step %d: tool name is required", s.Step)}
	}

	s.OutputKey = strings.ToLower(strings.TrimSpace(s.OutputKey))
	if s.OutputKey == "" || !outputKeyPattern.MatchString(s.OutputKey) {
		return &PlanValidationError{
			Reason: fmt.Sprintf("step %d: output key must match [a-z0-9_.-]+, got %q", s.Step, s.OutputKey),
		}
	}

	if s.RetryCount < 0 || s.RetryCount > MaxRetryCount {
		return &PlanValidationError{
			Reason: fmt.Sprintf("step %d: retry_count must be within [0,%d], got %d", s.Step, MaxRetryCount, s.RetryCount),
		}
	}

	if s.Timeout != 0 && s.Timeout < MinTimeoutSeconds {
		return &PlanValidationError{
			Reason: fmt.Sprintf("step %d: timeout must be >= %gs, got %g", s.Step, MinTimeoutSeconds, s.Timeout),
		}
	}

	if s.Input == nil {
		s.Input = map[string]any{}
	}

	return nil
}

// PlanFromYAML builds a plan from a YAML document with top-level task, steps
// and optional metadata.
func PlanFromYAML(raw []byte) (*ExecutionPlan, error) {
	var doc planDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, &PlanValidationError{Reason: "malformed YAML: " + err.Error()}
	}
	return planFromDocument(doc)
}

// PlanFromMap builds a plan from a generic map, the shape produced by ToMap
// and by JSON request bodies.
func PlanFromMap(data map[string]any) (*ExecutionPlan, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &PlanValidationError{Reason: "unencodable plan data: " + err.Error()}
	}
	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &PlanValidationError{Reason: "malformed plan data: " + err.Error()}
	}
	return planFromDocument(doc)
}

func planFromDocument(doc planDocument) (*ExecutionPlan, error) {
	steps := make([]ExecutionStep, 0, len(doc.Steps))
	for _, sd := range doc.Steps {
		step := ExecutionStep{
			Step:        sd.Step,
			Tool:        sd.Tool,
			Input:       sd.Input,
			OutputKey:   sd.OutputKey,
			Description: sd.Description,
			RetryCount:  DefaultRetryCount,
			Required:    true,
		}
		if sd.RetryCount != nil {
			step.RetryCount = *sd.RetryCount
		}
		if sd.Timeout != nil {
			step.Timeout = *sd.Timeout
		}
		if sd.Required != nil {
			step.Required = *sd.Required
		}
		steps = append(steps, step)
	}
	return NewPlan(doc.Task, steps, doc.Metadata)
}

// ToMap renders the plan in its persistable form. The result round-trips
// through JSON and back via PlanFromMap.
func (p *ExecutionPlan) ToMap() map[string]any {
	steps := make([]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		sm := map[string]any{
			"step":        s.Step,
			"tool":        s.Tool,
			"input":       s.Input,
			"output_key":  s.OutputKey,
			"retry_count": s.RetryCount,
			"required":    s.Required,
		}
		if s.Description != "" {
			sm["description"] = s.Description
		}
		if s.Timeout != 0 {
			sm["timeout"] = s.Timeout
		}
		steps = append(steps, sm)
	}

	meta := p.Metadata
	if meta == nil {
		meta = map[string]any{}
	}

	return map[string]any{
		"task":     p.Task,
		"steps":    steps,
		"metadata": meta,
	}
}
