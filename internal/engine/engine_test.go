// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/state"
	"github.com/adiadia/planflow/internal/tools"
)

func newMathEngine(t *testing.T, store state.Store) *Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := tools.NewRegistry(logger)
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}

	recorder := &sleepRecorder{}
	return New(Deps{
		Tools:  registry,
		Store:  store,
		Logger: logger,
		Sleep:  recorder.sleep,
	})
}

func mathStep(n int, tool string, input map[string]any) domain.ExecutionStep {
	return domain.ExecutionStep{
		Step:       n,
		Tool:       tool,
		Input:      input,
		OutputKey:  stepKey(n),
		RetryCount: 1,
		Required:   true,
	}
}

func stepKey(n int) string {
	return "s" + string(rune('0'+n))
}

func mathPlan(t *testing.T) *domain.ExecutionPlan {
	t.Helper()

	plan, err := domain.NewPlan("chained arithmetic", []domain.ExecutionStep{
		mathStep(1, "add", map[string]any{"a": float64(10), "b": float64(5)}),
		mathStep(2, "multiply", map[string]any{"a": "${s1.result}", "b": float64(3)}),
		mathStep(3, "power", map[string]any{"base": float64(2), "exponent": float64(2)}),
		mathStep(4, "divide", map[string]any{"a": "${s2.result}", "b": "${s3.result}"}),
		mathStep(5, "root", map[string]any{"number": float64(16)}),
		mathStep(6, "subtract", map[string]any{"a": "${s4.result}", "b": "${s5.result}"}),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}

func TestExecuteChainedArithmetic(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)
	ctx := context.Background()

	summary, err := e.Execute(ctx, mathPlan(t), 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.TotalSteps != 6 || summary.SuccessfulSteps != 6 || summary.FailedSteps != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(summary.ExecutionLog) != 6 {
		t.Fatalf("expected 6 log entries, got %d", len(summary.ExecutionLog))
	}

	raw, err := store.Get(ctx, "s6")
	if err != nil {
		t.Fatalf("Get s6: %v", err)
	}
	final, ok := raw.(map[string]any)
	if !ok {
		t.Fatalf("expected map output, got %T", raw)
	}
	result, _ := final["result"].(float64)
	if math.Abs(result-7.25) > 1e-6 {
		t.Fatalf("expected 7.25, got %g", result)
	}

	status, err := store.Get(ctx, "execution_status")
	if err != nil || status != "complete" {
		t.Fatalf("expected complete status, got %v %v", status, err)
	}
	completedAt, err := store.Get(ctx, "execution_completed_at")
	if err != nil || completedAt == nil {
		t.Fatalf("expected completion timestamp, got %v %v", completedAt, err)
	}
}

func TestExecuteRequiredStepFailureStopsPlan(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)
	ctx := context.Background()

	plan, err := domain.NewPlan("fails midway", []domain.ExecutionStep{
		mathStep(1, "add", map[string]any{"a": float64(1), "b": float64(2)}),
		mathStep(2, "divide", map[string]any{"a": float64(1), "b": float64(0)}),
		mathStep(3, "add", map[string]any{"a": float64(1), "b": float64(1)}),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	summary, err := e.Execute(ctx, plan, 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.SuccessfulSteps != 1 || summary.FailedSteps != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	status, _ := store.Get(ctx, "execution_status")
	if status != "failed" {
		t.Fatalf("expected failed status, got %v", status)
	}
	// Step 3 never ran.
	raw, _ := store.Get(ctx, "step_3_metadata")
	if raw != nil {
		t.Fatalf("expected no record for step 3, got %v", raw)
	}
}

func TestExecuteOptionalStepFailureContinues(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)
	ctx := context.Background()

	failing := mathStep(2, "divide", map[string]any{"a": float64(1), "b": float64(0)})
	failing.Required = false

	plan, err := domain.NewPlan("optional failure", []domain.ExecutionStep{
		mathStep(1, "add", map[string]any{"a": float64(1), "b": float64(2)}),
		failing,
		mathStep(3, "add", map[string]any{"a": float64(1), "b": float64(1)}),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	summary, err := e.Execute(ctx, plan, 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if summary.SuccessfulSteps != 2 || summary.FailedSteps != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	status, _ := store.Get(ctx, "execution_status")
	if status != "complete" {
		t.Fatalf("expected complete status, got %v", status)
	}
}

func TestResumeContinuesAfterLastCompleteStep(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	// First run: step 2 always fails.
	firstInvoker := &scriptedInvoker{results: []*tools.Result{
		tools.Success("add", map[string]any{"result": float64(3)}),
		tools.Failure("add", "transient outage"),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &sleepRecorder{}
	first := New(Deps{Tools: firstInvoker, Store: store, Logger: logger, Sleep: recorder.sleep})

	plan, err := domain.NewPlan("resumable", []domain.ExecutionStep{
		{Step: 1, Tool: "add", Input: map[string]any{}, OutputKey: "s1", RetryCount: 1, Required: true},
		{Step: 2, Tool: "add", Input: map[string]any{}, OutputKey: "s2", RetryCount: 1, Required: true},
		{Step: 3, Tool: "add", Input: map[string]any{}, OutputKey: "s3", RetryCount: 1, Required: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	summary, err := first.Execute(ctx, plan, 1)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.SuccessfulSteps != 1 || summary.FailedSteps != 1 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}

	// Second run against the same store: everything succeeds.
	secondInvoker := &scriptedInvoker{results: []*tools.Result{
		tools.Success("add", map[string]any{"result": float64(9)}),
	}}
	second := New(Deps{Tools: secondInvoker, Store: store, Logger: logger, Sleep: recorder.sleep})

	resumed, err := second.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.SuccessfulSteps != 3 || resumed.FailedSteps != 0 {
		t.Fatalf("unexpected resumed summary: %+v", resumed)
	}
	// Only steps 2 and 3 were re-executed.
	if secondInvoker.calls != 2 {
		t.Fatalf("expected 2 invocations on resume, got %d", secondInvoker.calls)
	}

	rec := mustLoadRecord(t, second, 1)
	if rec.Status != domain.StepComplete {
		t.Fatalf("completed step 1 must stay complete, got %s", rec.Status)
	}
}

// A run interrupted after step 3 with step 4 never attempted resumes exactly
// at step 4.
func TestResumeStartsAfterLastCheckpoint(t *testing.T) {
	store := state.NewMemoryStore()
	ctx := context.Background()

	plan, err := domain.NewPlan("interrupted", []domain.ExecutionStep{
		{Step: 1, Tool: "add", Input: map[string]any{}, OutputKey: "s1", RetryCount: 1, Required: true},
		{Step: 2, Tool: "add", Input: map[string]any{}, OutputKey: "s2", RetryCount: 1, Required: true},
		{Step: 3, Tool: "add", Input: map[string]any{}, OutputKey: "s3", RetryCount: 1, Required: true},
		{Step: 4, Tool: "add", Input: map[string]any{}, OutputKey: "s4", RetryCount: 1, Required: true},
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	if err := store.Set(ctx, keyExecutionPlan, plan.ToMap()); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	for n := 1; n <= 3; n++ {
		rec := domain.NewStepRunRecord()
		rec.Status = domain.StepComplete
		rec.Attempts = 1
		if err := store.Set(ctx, stepMetadataKey(n), rec.ToMap()); err != nil {
			t.Fatalf("seed record %d: %v", n, err)
		}
	}

	invoker := &scriptedInvoker{results: []*tools.Result{
		tools.Success("add", map[string]any{"result": float64(4)}),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &sleepRecorder{}
	e := New(Deps{Tools: invoker, Store: store, Logger: logger, Sleep: recorder.sleep})

	summary, err := e.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if summary.SuccessfulSteps != 4 || summary.FailedSteps != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if invoker.calls != 1 {
		t.Fatalf("expected only step 4 to run, got %d invocations", invoker.calls)
	}
	for n := 1; n <= 3; n++ {
		rec := mustLoadRecord(t, e, n)
		if rec.Status != domain.StepComplete || rec.Attempts != 1 {
			t.Fatalf("step %d checkpoint changed: %+v", n, rec)
		}
	}
}

func TestResumeWithoutStoredPlan(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)

	_, err := e.Resume(context.Background())
	if !errors.Is(err, domain.ErrNoStoredPlan) {
		t.Fatalf("expected ErrNoStoredPlan, got %v", err)
	}
}

func TestExecuteMarksEarlierStepsSkipped(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)
	ctx := context.Background()

	plan, err := domain.NewPlan("partial start", []domain.ExecutionStep{
		mathStep(1, "add", map[string]any{"a": float64(1), "b": float64(1)}),
		mathStep(2, "add", map[string]any{"a": float64(2), "b": float64(2)}),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	summary, err := e.Execute(ctx, plan, 2)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if summary.SuccessfulSteps != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	rec := mustLoadRecord(t, e, 1)
	if rec.Status != domain.StepSkipped {
		t.Fatalf("expected step 1 skipped, got %s", rec.Status)
	}
}

func TestProgressReportsPerStepStatus(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)
	ctx := context.Background()

	if _, err := e.Execute(ctx, mathPlan(t), 1); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	progress, err := e.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != "complete" {
		t.Fatalf("expected complete, got %q", progress.Status)
	}
	if len(progress.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %d", len(progress.Steps))
	}
	for _, sp := range progress.Steps {
		if sp.Status != domain.StepComplete || sp.Attempts != 1 {
			t.Fatalf("unexpected step progress: %+v", sp)
		}
	}
}

func TestProgressWithoutExecution(t *testing.T) {
	store := state.NewMemoryStore()
	e := newMathEngine(t, store)

	progress, err := e.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.Status != "no_execution" {
		t.Fatalf("expected no_execution, got %q", progress.Status)
	}
}

func TestExecuteStoreFaultAbortsPlan(t *testing.T) {
	store := &failingStore{Store: state.NewMemoryStore(), failKey: "s1"}
	e := newMathEngine(t, store)
	ctx := context.Background()

	plan, err := domain.NewPlan("faulting", []domain.ExecutionStep{
		mathStep(1, "add", map[string]any{"a": float64(1), "b": float64(1)}),
	}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	_, err = e.Execute(ctx, plan, 1)
	if !errors.Is(err, state.ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}

	status, _ := store.Get(ctx, "execution_status")
	if status != "failed" {
		t.Fatalf("expected failed status, got %v", status)
	}
	execErr, _ := store.Get(ctx, "execution_error")
	if execErr == nil {
		t.Fatal("expected execution_error to be recorded")
	}
}
