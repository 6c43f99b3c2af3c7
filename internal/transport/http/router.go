// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/adiadia/planflow/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type executePlanRequest struct {
	// Plan accepts either a plan object or a YAML document string.
	Plan          json.RawMessage `json:"plan"`
	StartFromStep int             `json:"start_from_step"`
}

type Deps struct {
	Runner    PlanRunner
	State     StateReader
	SessionID string
	Logger    *slog.Logger
	Version   string
	Commit    string
	BuildDate string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	// The engine runs one plan at a time; concurrent execute/resume requests
	// take turns instead of corrupting the shared checkpoint state.
	var runMu sync.Mutex

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- EXECUTE PLAN ----------------

	r.Post("/plans/execute", func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := decodeExecutePlanRequest(r)
		if err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		plan, err := parsePlanPayload(reqBody.Plan)
		if err != nil {
			var verr *domain.PlanValidationError
			if errors.As(err, &verr) {
				http.Error(w, verr.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "invalid plan payload", http.StatusBadRequest)
			return
		}

		runMu.Lock()
		summary, err := deps.Runner.Execute(r.Context(), plan, reqBody.StartFromStep)
		runMu.Unlock()
		if err != nil {
			logger.Error("plan execution failed", "task", plan.Task, "error", err)
			http.Error(w, "plan execution failed", http.StatusInternalServerError)
			return
		}

		logger.Info("plan executed via API",
			"task", plan.Task,
			"successful_steps", summary.SuccessfulSteps,
			"failed_steps", summary.FailedSteps,
		)
		writeJSON(w, http.StatusOK, summary)
	})

	// ---------------- RESUME PLAN ----------------

	r.Post("/plans/resume", func(w http.ResponseWriter, r *http.Request) {
		runMu.Lock()
		summary, err := deps.Runner.Resume(r.Context())
		runMu.Unlock()
		if err != nil {
			if errors.Is(err, domain.ErrNoStoredPlan) {
				http.Error(w, "no stored plan to resume", http.StatusNotFound)
				return
			}
			logger.Error("plan resume failed", "error", err)
			http.Error(w, "plan resume failed", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	})

	// ---------------- PROGRESS ----------------

	r.Get("/plans/progress", func(w http.ResponseWriter, r *http.Request) {
		progress, err := deps.Runner.Progress(r.Context())
		if err != nil {
			logger.Error("get progress failed", "error", err)
			http.Error(w, "failed to get progress", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	})

	// ---------------- STEP STATUS ----------------

	r.Get("/plans/steps/{number}", func(w http.ResponseWriter, r *http.Request) {
		number, err := strconv.Atoi(chi.URLParam(r, "number"))
		if err != nil || number < 1 {
			http.Error(w, "invalid step number", http.StatusBadRequest)
			return
		}

		record, err := deps.Runner.StepStatus(r.Context(), number)
		if err != nil {
			logger.Error("get step status failed", "step", number, "error", err)
			http.Error(w, "failed to get step status", http.StatusInternalServerError)
			return
		}
		if record == nil {
			http.Error(w, "step not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"step":   number,
			"record": record.ToMap(),
		})
	})

	// ---------------- STATE SNAPSHOT ----------------

	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		if deps.State == nil {
			http.Error(w, "state store not configured", http.StatusInternalServerError)
			return
		}

		if r.URL.Query().Get("keys_only") == "true" {
			keys, err := deps.State.Keys(r.Context())
			if err != nil {
				logger.Error("list state keys failed", "error", err)
				http.Error(w, "failed to read state", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"session_id": deps.SessionID,
				"keys":       keys,
			})
			return
		}

		snapshot, err := deps.State.GetAll(r.Context())
		if err != nil {
			logger.Error("read state snapshot failed", "error", err)
			http.Error(w, "failed to read state", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": deps.SessionID,
			"state":      snapshot,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeExecutePlanRequest(r *http.Request) (executePlanRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return executePlanRequest{}, errors.New("empty request body")
	}

	var req executePlanRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return executePlanRequest{}, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return executePlanRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	if len(req.Plan) == 0 {
		return executePlanRequest{}, errors.New("missing plan")
	}
	return req, nil
}

// parsePlanPayload builds a plan from either a JSON object or a YAML
// document string.
func parsePlanPayload(raw json.RawMessage) (*domain.ExecutionPlan, error) {
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return domain.PlanFromMap(asMap)
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return domain.PlanFromYAML([]byte(asString))
	}

	return nil, errors.New("plan must be an object or a YAML string")
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
