// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"time"
)

type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
)

// StepRunRecord is the per-step checkpoint. A fresh record is created when a
// step starts, overwritten on every retry attempt and persisted to the state
// store after each attempt and on terminal completion or failure.
type StepRunRecord struct {
	Status        StepStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         string     `json:"error,omitempty"`
	ResultStatus  string     `json:"result_status,omitempty"`
	ExecutionTime float64    `json:"execution_time,omitempty"`
}

func NewStepRunRecord() *StepRunRecord {
	return &StepRunRecord{Status: StepPending}
}

// ToMap renders the record in its persistable form. Timestamps are RFC 3339
// strings so records survive the JSON round-trip through any store backend.
func (r *StepRunRecord) ToMap() map[string]any {
	m := map[string]any{
		"status":   string(r.Status),
		"attempts": r.Attempts,
	}
	if r.StartedAt != nil {
		m["started_at"] = r.StartedAt.Format(time.RFC3339Nano)
	}
	if r.CompletedAt != nil {
		m["completed_at"] = r.CompletedAt.Format(time.RFC3339Nano)
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.ResultStatus != "" {
		m["result_status"] = r.ResultStatus
	}
	if r.ExecutionTime != 0 {
		m["execution_time"] = r.ExecutionTime
	}
	return m
}

// RecordFromMap rebuilds a record from its persisted form.
func RecordFromMap(data map[string]any) (*StepRunRecord, error) {
	rec := NewStepRunRecord()

	if v, ok := data["status"].(string); ok {
		rec.Status = StepStatus(v)
	}
	switch rec.Status {
	case StepPending, StepRunning, StepComplete, StepFailed, StepSkipped:
	default:
		return nil, fmt.Errorf("unknown step status %q", rec.Status)
	}

	if v, ok := asFloat(data["attempts"]); ok {
		rec.Attempts = int(v)
	}
	if v, ok := asFloat(data["execution_time"]); ok {
		rec.ExecutionTime = v
	}
	if v, ok := data["error"].(string); ok {
		rec.Error = v
	}
	if v, ok := data["result_status"].(string); ok {
		rec.ResultStatus = v
	}

	var err error
	if rec.StartedAt, err = parseTimestamp(data["started_at"]); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseTimestamp(data["completed_at"]); err != nil {
		return nil, err
	}

	return rec, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func parseTimestamp(v any) (*time.Time, error) {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse record timestamp %q: %w", raw, err)
	}
	return &ts, nil
}
