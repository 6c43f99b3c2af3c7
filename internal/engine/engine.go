// SPDX-License-Identifier: Apache-2.0

// Package engine executes validated plans: it sequences steps, resolves
// ${...} input references against the state store, drives the per-step
// retry/timeout loop and checkpoints progress so interrupted runs can resume.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/metrics"
	"github.com/adiadia/planflow/internal/state"
	"github.com/adiadia/planflow/internal/tools"
)

// Well-known state keys written during a run.
const (
	keyExecutionPlan        = "execution_plan"
	keyExecutionStatus      = "execution_status"
	keyExecutionError       = "execution_error"
	keyExecutionCompletedAt = "execution_completed_at"
)

// ToolInvoker is the registry contract the engine consumes. Execute never
// returns a Go error; failures arrive as error-status results.
type ToolInvoker interface {
	Execute(ctx context.Context, name string, params map[string]any) *tools.Result
}

type Deps struct {
	Tools  ToolInvoker
	Store  state.Store
	Logger *slog.Logger

	// Sleep is the backoff delay between retry attempts; tests inject a
	// recording stub. Defaults to a context-aware timer wait.
	Sleep func(ctx context.Context, d time.Duration) error

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine runs one plan at a time against one state store session. It is not
// safe for concurrent use: execution is strictly sequential and the store is
// assumed to have no other writers during a run.
type Engine struct {
	tools  ToolInvoker
	store  state.Store
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	plan    *domain.ExecutionPlan
	execLog []LogEntry
}

func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sleep := deps.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		tools:  deps.Tools,
		store:  deps.Store,
		logger: logger,
		sleep:  sleep,
		now:    now,
	}
}

// LogEntry is one in-memory execution log record for a completed step.
type LogEntry struct {
	Step          int     `json:"step"`
	Tool          string  `json:"tool"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"execution_time"`
	Timestamp     string  `json:"timestamp"`
}

// Summary reports the outcome of an Execute call. Counts come from the
// persisted step records, so they are accurate even when the plan stopped at
// a failed required step.
type Summary struct {
	TotalSteps      int            `json:"total_steps"`
	SuccessfulSteps int            `json:"successful_steps"`
	FailedSteps     int            `json:"failed_steps"`
	ExecutionLog    []LogEntry     `json:"execution_log"`
	Plan            map[string]any `json:"plan"`
}

// StepProgress is the per-step slice of a Progress report.
type StepProgress struct {
	Step        int               `json:"step"`
	Tool        string            `json:"tool"`
	Description string            `json:"description,omitempty"`
	Status      domain.StepStatus `json:"status"`
	Attempts    int               `json:"attempts"`
}

type Progress struct {
	Task   string         `json:"task,omitempty"`
	Status string         `json:"status"`
	Steps  []StepProgress `json:"progress,omitempty"`
}

func stepMetadataKey(n int) string { return fmt.Sprintf("step_%d_metadata", n) }
func stepResultKey(n int) string   { return fmt.Sprintf("step_%d_result", n) }

// Execute runs the plan from startFromStep (1 or lower means from the
// beginning). Steps below startFromStep are marked skipped unless a complete
// checkpoint already exists for them. A failed required step stops iteration
// with overall status "failed"; a fatal fault is the only path that returns
// an error instead of a Summary.
func (e *Engine) Execute(ctx context.Context, plan *domain.ExecutionPlan, startFromStep int) (*Summary, error) {
	if plan == nil {
		return nil, errors.New("nil execution plan")
	}
	e.plan = plan

	if err := e.store.Set(ctx, keyExecutionPlan, plan.ToMap()); err != nil {
		return nil, fmt.Errorf("persist execution plan: %w", err)
	}
	if err := e.setStatus(ctx, domain.ExecutionRunning); err != nil {
		return nil, err
	}

	if startFromStep < 1 {
		startFromStep = 1
	}

	e.logger.Info("execution started",
		"task", plan.Task,
		"total_steps", len(plan.Steps),
		"start_from_step", startFromStep,
	)

	failed := false
	for _, step := range plan.Steps {
		if step.Step < startFromStep {
			if err := e.markSkipped(ctx, step); err != nil {
				return nil, err
			}
			continue
		}

		result, err := e.runStep(ctx, step)
		if err != nil {
			e.logger.Error("fatal error in step", "step", step.Step, "tool", step.Tool, "error", err)
			_ = e.setStatus(ctx, domain.ExecutionFailed)
			_ = e.store.Set(ctx, keyExecutionError, err.Error())
			metrics.IncPlanStatus(string(domain.ExecutionFailed))
			return nil, err
		}

		if result.Status == tools.StatusError {
			if step.Required {
				e.logger.Error("required step failed, stopping execution",
					"step", step.Step,
					"tool", step.Tool,
					"error", result.Error,
				)
				if err := e.setStatus(ctx, domain.ExecutionFailed); err != nil {
					return nil, err
				}
				failed = true
				break
			}
			e.logger.Warn("optional step failed, continuing",
				"step", step.Step,
				"tool", step.Tool,
				"error", result.Error,
			)
		}
	}

	if !failed {
		if err := e.setStatus(ctx, domain.ExecutionComplete); err != nil {
			return nil, err
		}
		if err := e.store.Set(ctx, keyExecutionCompletedAt, e.now().Format(time.RFC3339Nano)); err != nil {
			return nil, fmt.Errorf("persist completion timestamp: %w", err)
		}
		metrics.IncPlanStatus(string(domain.ExecutionComplete))
	} else {
		metrics.IncPlanStatus(string(domain.ExecutionFailed))
	}

	summary, err := e.summary(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Info("execution finished",
		"successful_steps", summary.SuccessfulSteps,
		"failed_steps", summary.FailedSteps,
		"total_steps", summary.TotalSteps,
	)
	return summary, nil
}

// Resume reloads the persisted plan, finds the highest contiguously-complete
// step and re-executes from the one after it.
func (e *Engine) Resume(ctx context.Context) (*Summary, error) {
	raw, err := e.store.Get(ctx, keyExecutionPlan)
	if err != nil {
		return nil, err
	}
	stored, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.ErrNoStoredPlan
	}

	plan, err := domain.PlanFromMap(stored)
	if err != nil {
		return nil, err
	}

	lastComplete := 0
	for _, step := range plan.Steps {
		rec, err := e.loadRecord(ctx, step.Step)
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.Status != domain.StepComplete {
			break
		}
		lastComplete = step.Step
	}

	e.logger.Info("resuming execution", "start_from_step", lastComplete+1)
	return e.Execute(ctx, plan, lastComplete+1)
}

// StepStatus returns the persisted run record for a step, or nil when the
// step has never been attempted.
func (e *Engine) StepStatus(ctx context.Context, stepNumber int) (*domain.StepRunRecord, error) {
	return e.loadRecord(ctx, stepNumber)
}

// Progress reports the overall status and the per-step checkpoint states of
// the persisted plan.
func (e *Engine) Progress(ctx context.Context) (*Progress, error) {
	raw, err := e.store.Get(ctx, keyExecutionPlan)
	if err != nil {
		return nil, err
	}
	stored, ok := raw.(map[string]any)
	if !ok {
		return &Progress{Status: "no_execution"}, nil
	}

	plan, err := domain.PlanFromMap(stored)
	if err != nil {
		return nil, err
	}

	status := ""
	if v, err := e.store.Get(ctx, keyExecutionStatus); err != nil {
		return nil, err
	} else if s, ok := v.(string); ok {
		status = s
	}

	progress := &Progress{Task: plan.Task, Status: status}
	for _, step := range plan.Steps {
		sp := StepProgress{
			Step:        step.Step,
			Tool:        step.Tool,
			Description: step.Description,
			Status:      domain.StepPending,
		}
		rec, err := e.loadRecord(ctx, step.Step)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			sp.Status = rec.Status
			sp.Attempts = rec.Attempts
		}
		progress.Steps = append(progress.Steps, sp)
	}
	return progress, nil
}

func (e *Engine) setStatus(ctx context.Context, status domain.ExecutionStatus) error {
	if err := e.store.Set(ctx, keyExecutionStatus, string(status)); err != nil {
		return fmt.Errorf("persist execution status: %w", err)
	}
	return nil
}

// markSkipped records the resume skip for a step, leaving already-complete
// checkpoints untouched.
func (e *Engine) markSkipped(ctx context.Context, step domain.ExecutionStep) error {
	rec, err := e.loadRecord(ctx, step.Step)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == domain.StepComplete {
		e.logger.Debug("leaving completed step untouched", "step", step.Step)
		return nil
	}

	skipped := domain.NewStepRunRecord()
	skipped.Status = domain.StepSkipped
	if err := e.store.Set(ctx, stepMetadataKey(step.Step), skipped.ToMap()); err != nil {
		return fmt.Errorf("persist skipped record: %w", err)
	}
	metrics.IncStepStatus(string(domain.StepSkipped))
	e.logger.Info("skipping step", "step", step.Step)
	return nil
}

func (e *Engine) loadRecord(ctx context.Context, stepNumber int) (*domain.StepRunRecord, error) {
	raw, err := e.store.Get(ctx, stepMetadataKey(stepNumber))
	if err != nil {
		return nil, err
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, nil
	}
	return domain.RecordFromMap(data)
}

func (e *Engine) summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		TotalSteps:   len(e.plan.Steps),
		ExecutionLog: append([]LogEntry(nil), e.execLog...),
		Plan:         e.plan.ToMap(),
	}

	for _, step := range e.plan.Steps {
		rec, err := e.loadRecord(ctx, step.Step)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		switch rec.Status {
		case domain.StepComplete:
			summary.SuccessfulSteps++
		case domain.StepFailed:
			summary.FailedSteps++
		}
	}
	return summary, nil
}
