// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/metrics"
	"github.com/adiadia/planflow/internal/tools"
)

// runStep drives one step through its attempt loop:
// pending -> running -> {complete | failed}, re-entering running on every
// retry. Resolution failures and tool failures share the retry path; an
// unexpected fault (store I/O, rejected write) on the final attempt is
// returned as an error and aborts the plan.
func (e *Engine) runStep(ctx context.Context, step domain.ExecutionStep) (*tools.Result, error) {
	rec := domain.NewStepRunRecord()
	metaKey := stepMetadataKey(step.Step)

	e.logger.Info("step starting",
		"step", step.Step,
		"tool", step.Tool,
		"description", step.Description,
	)

	for attempt := 0; attempt < step.RetryCount; attempt++ {
		lastAttempt := attempt == step.RetryCount-1

		rec.Status = domain.StepRunning
		rec.Attempts = attempt + 1
		started := e.now()
		rec.StartedAt = &started
		if err := e.persistRecord(ctx, metaKey, rec); err != nil {
			return nil, err
		}

		params, resolveErr := e.resolveInputs(ctx, step.Input)
		if resolveErr != nil {
			rec.Status = domain.StepFailed
			rec.Error = resolveErr.Error()

			if !lastAttempt {
				e.logger.Warn("step attempt failed",
					"step", step.Step,
					"attempt", attempt+1,
					"error", resolveErr,
				)
				metrics.IncStepRetries()
				if err := e.sleep(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}

			if err := e.persistRecord(ctx, metaKey, rec); err != nil {
				return nil, err
			}
			metrics.IncStepStatus(string(domain.StepFailed))

			if domain.IsVariableError(resolveErr) {
				e.logger.Error("step failed after all attempts",
					"step", step.Step,
					"attempts", rec.Attempts,
					"error", resolveErr,
				)
				return tools.Failure(step.Tool, resolveErr.Error()), nil
			}
			// Store faults are not part of the retryable taxonomy.
			return nil, resolveErr
		}

		result, timedOut := e.invokeTool(ctx, step, params)

		completed := e.now()
		rec.CompletedAt = &completed
		rec.ExecutionTime = result.ExecutionTime
		rec.ResultStatus = string(result.Status)

		if result.Status == tools.StatusError {
			rec.Status = domain.StepFailed
			rec.Error = result.Error

			if !lastAttempt {
				e.logger.Warn("step attempt failed",
					"step", step.Step,
					"attempt", attempt+1,
					"error", result.Error,
					"timed_out", timedOut,
				)
				metrics.IncStepRetries()
				// Timed-out attempts retry immediately; only tool-level
				// errors back off.
				if !timedOut {
					if err := e.sleep(ctx, backoffDelay(attempt)); err != nil {
						return nil, err
					}
				}
				continue
			}

			e.logger.Error("step failed after all attempts",
				"step", step.Step,
				"attempts", rec.Attempts,
				"error", result.Error,
			)
			if err := e.persistRecord(ctx, metaKey, rec); err != nil {
				return nil, err
			}
			metrics.IncStepStatus(string(domain.StepFailed))
			return result, nil
		}

		rec.Status = domain.StepComplete
		if err := e.store.Set(ctx, step.OutputKey, result.Data); err != nil {
			return nil, fmt.Errorf("persist step output: %w", err)
		}
		if err := e.persistRecord(ctx, metaKey, rec); err != nil {
			return nil, err
		}
		if err := e.store.Set(ctx, stepResultKey(step.Step), result.ToMap()); err != nil {
			return nil, fmt.Errorf("persist step result: %w", err)
		}

		e.execLog = append(e.execLog, LogEntry{
			Step:          step.Step,
			Tool:          step.Tool,
			Status:        "success",
			ExecutionTime: result.ExecutionTime,
			Timestamp:     e.now().Format(time.RFC3339Nano),
		})

		metrics.IncStepStatus(string(domain.StepComplete))
		metrics.ObserveStepExecutionDuration(time.Duration(result.ExecutionTime * float64(time.Second)))

		e.logger.Info("step complete",
			"step", step.Step,
			"tool", step.Tool,
			"attempts", rec.Attempts,
			"execution_time", result.ExecutionTime,
		)
		return result, nil
	}

	// retry_count of zero leaves the loop without a single attempt.
	return tools.Failure(step.Tool, "max retries exceeded"), nil
}

func (e *Engine) persistRecord(ctx context.Context, key string, rec *domain.StepRunRecord) error {
	if err := e.store.Set(ctx, key, rec.ToMap()); err != nil {
		return fmt.Errorf("persist step record: %w", err)
	}
	return nil
}

// invokeTool executes the tool, bounded by the step timeout when one is set.
// The second return reports whether the invocation timed out.
func (e *Engine) invokeTool(ctx context.Context, step domain.ExecutionStep, params map[string]any) (*tools.Result, bool) {
	if step.Timeout == 0 {
		return e.tools.Execute(ctx, step.Tool, params), false
	}

	timeout := time.Duration(step.Timeout * float64(time.Second))
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan *tools.Result, 1)
	go func() {
		results <- e.tools.Execute(tctx, step.Tool, params)
	}()

	select {
	case result := <-results:
		return result, false
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return tools.Failure(step.Tool, fmt.Sprintf("Timeout after %gs", step.Timeout)), true
		}
		return tools.Failure(step.Tool, tctx.Err().Error()), false
	}
}

// backoffDelay returns 2^attempt seconds, attempt 0-indexed.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}
