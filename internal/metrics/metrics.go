// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/adiadia/planflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	plansTotalCounter           *prometheus.CounterVec
	stepsTotalCounter           *prometheus.CounterVec
	stepExecutionDurationMetric prometheus.Histogram
	stepRetriesCounter          prometheus.Counter
	toolInvocationsCounter      *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		plansTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plans_total",
				Help: "Total number of plan executions by terminal status.",
			},
			[]string{"status"},
		)

		stepsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steps_total",
				Help: "Total number of step terminal updates by status.",
			},
			[]string{"status"},
		)

		stepExecutionDurationMetric = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "step_execution_duration_seconds",
				Help:    "Duration of successful step tool calls in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		)

		stepRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "step_retries_total",
				Help: "Total number of retried step attempts.",
			},
		)

		toolInvocationsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_invocations_total",
				Help: "Total number of tool registry invocations by result status.",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			plansTotalCounter,
			stepsTotalCounter,
			stepExecutionDurationMetric,
			stepRetriesCounter,
			toolInvocationsCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.ExecutionStatus{
			domain.ExecutionRunning,
			domain.ExecutionComplete,
			domain.ExecutionFailed,
		} {
			plansTotalCounter.WithLabelValues(string(status))
		}

		for _, status := range []domain.StepStatus{
			domain.StepPending,
			domain.StepRunning,
			domain.StepComplete,
			domain.StepFailed,
			domain.StepSkipped,
		} {
			stepsTotalCounter.WithLabelValues(string(status))
		}
	})
}

func IncPlanStatus(status string) {
	Init()
	plansTotalCounter.WithLabelValues(status).Inc()
}

func IncStepStatus(status string) {
	Init()
	stepsTotalCounter.WithLabelValues(status).Inc()
}

func ObserveStepExecutionDuration(d time.Duration) {
	Init()
	stepExecutionDurationMetric.Observe(d.Seconds())
}

func IncStepRetries() {
	Init()
	stepRetriesCounter.Inc()
}

func IncToolInvocation(status string) {
	Init()
	toolInvocationsCounter.WithLabelValues(status).Inc()
}
