// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/engine"
)

// PlanRunner is the engine surface the API exposes. The engine executes one
// plan at a time, so the router serializes Execute and Resume calls.
type PlanRunner interface {
	Execute(ctx context.Context, plan *domain.ExecutionPlan, startFromStep int) (*engine.Summary, error)
	Resume(ctx context.Context) (*engine.Summary, error)
	StepStatus(ctx context.Context, stepNumber int) (*domain.StepRunRecord, error)
	Progress(ctx context.Context) (*engine.Progress, error)
}

// StateReader exposes the read side of the session state store.
type StateReader interface {
	GetAll(ctx context.Context) (map[string]any, error)
	Keys(ctx context.Context) ([]string, error)
}
