// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adiadia/planflow/internal/metrics"
)

var toolNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Registry holds named tools and executes them behind the uniform Result
// contract: unknown tools, input violations and handler errors all come back
// as error-status results, never as Go errors.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger, tools: map[string]Tool{}}
}

func (r *Registry) Register(t Tool) error {
	t.Name = strings.ToLower(strings.TrimSpace(t.Name))
	if !toolNamePattern.MatchString(t.Name) {
		return errors.New("tool name must match [a-z0-9_-]+")
	}
	if t.Handler == nil {
		return errors.New("tool " + t.Name + " has no handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		r.logger.Warn("tool replaced", "tool", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) *Result {
	started := time.Now()

	t, ok := r.Get(name)
	if !ok {
		return r.finish(Failure(name, "unknown tool: "+name), started)
	}

	if t.Input != nil {
		if err := t.Input.Validate(params); err != nil {
			return r.finish(Failure(name, "invalid input: "+err.Error()), started)
		}
	}

	data, err := t.Handler(ctx, params)
	if err != nil {
		return r.finish(Failure(name, err.Error()), started)
	}
	return r.finish(Success(name, data), started)
}

func (r *Registry) finish(res *Result, started time.Time) *Result {
	res.ExecutionTime = time.Since(started).Seconds()
	metrics.IncToolInvocation(string(res.Status))

	if res.Status == StatusError {
		r.logger.Debug("tool invocation failed",
			"tool", res.ToolName,
			"error", res.Error,
			"execution_time", res.ExecutionTime,
		)
	} else {
		r.logger.Debug("tool invocation complete",
			"tool", res.ToolName,
			"execution_time", res.ExecutionTime,
		)
	}
	return res
}
