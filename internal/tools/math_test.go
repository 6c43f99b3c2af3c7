// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func resultValue(t *testing.T, res *Result) float64 {
	t.Helper()
	if res.Status != StatusSuccess {
		t.Fatalf("expected success, got %s: %s", res.Status, res.Error)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected map data, got %T", res.Data)
	}
	value, ok := data["result"].(float64)
	if !ok {
		t.Fatalf("expected numeric result, got %v", data["result"])
	}
	return value
}

func TestMathTools(t *testing.T) {
	r := newBuiltinRegistry(t)
	ctx := context.Background()

	cases := []struct {
		tool   string
		params map[string]any
		want   float64
	}{
		{"add", map[string]any{"a": 10, "b": 5}, 15},
		{"subtract", map[string]any{"a": 11.25, "b": 4}, 7.25},
		{"multiply", map[string]any{"a": 15, "b": 3}, 45},
		{"divide", map[string]any{"a": 45, "b": 4}, 11.25},
		{"power", map[string]any{"base": 2, "exponent": 2}, 4},
		{"power", map[string]any{"base": 2, "exponent": -1}, 0.5},
		{"root", map[string]any{"number": 16}, 4},
		{"root", map[string]any{"number": 27, "n": 3}, 3},
		{"root", map[string]any{"number": -8, "n": 3}, -2},
	}

	for _, tc := range cases {
		got := resultValue(t, r.Execute(ctx, tc.tool, tc.params))
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s(%v): expected %g got %g", tc.tool, tc.params, tc.want, got)
		}
	}
}

func TestMathToolErrors(t *testing.T) {
	r := newBuiltinRegistry(t)
	ctx := context.Background()

	cases := []struct {
		tool    string
		params  map[string]any
		wantMsg string
	}{
		{"divide", map[string]any{"a": 1, "b": 0}, "division by zero"},
		{"root", map[string]any{"number": -16, "n": 2}, "even root of negative"},
		{"root", map[string]any{"number": 16, "n": 2.5}, "positive integer"},
		{"add", map[string]any{"a": 1}, "missing required parameter"},
		{"add", map[string]any{"a": "one", "b": 2}, "must be a number"},
	}

	for _, tc := range cases {
		res := r.Execute(ctx, tc.tool, tc.params)
		if res.Status != StatusError {
			t.Fatalf("%s(%v): expected error, got %s", tc.tool, tc.params, res.Status)
		}
		if !strings.Contains(res.Error, tc.wantMsg) {
			t.Fatalf("%s(%v): expected %q in error, got %q", tc.tool, tc.params, tc.wantMsg, res.Error)
		}
	}
}

func TestCalculatorTool(t *testing.T) {
	r := newBuiltinRegistry(t)

	got := resultValue(t, r.Execute(context.Background(), "calculator", map[string]any{
		"expression": "(10 + 5) * 3 / 4",
	}))
	if math.Abs(got-11.25) > 1e-9 {
		t.Fatalf("expected 11.25 got %g", got)
	}

	res := r.Execute(context.Background(), "calculator", map[string]any{"expression": "1/0"})
	if res.Status != StatusError || !strings.Contains(res.Error, "division by zero") {
		t.Fatalf("expected division error, got %+v", res)
	}
}

func TestTextProcessorTool(t *testing.T) {
	r := newBuiltinRegistry(t)
	ctx := context.Background()

	res := r.Execute(ctx, "text_processor", map[string]any{
		"text":      "Hello wide world",
		"operation": "count_words",
	})
	data := res.Data.(map[string]any)
	if res.Status != StatusSuccess || data["result"] != 3 {
		t.Fatalf("expected 3 words, got %+v", res)
	}

	res = r.Execute(ctx, "text_processor", map[string]any{
		"text":      "Hello",
		"operation": "uppercase",
	})
	data = res.Data.(map[string]any)
	if data["result"] != "HELLO" {
		t.Fatalf("expected HELLO, got %v", data["result"])
	}

	res = r.Execute(ctx, "text_processor", map[string]any{
		"text":      "Hello",
		"operation": "reverse",
	})
	if res.Status != StatusError || !strings.Contains(res.Error, "must be one of") {
		t.Fatalf("expected enum violation, got %+v", res)
	}
}
