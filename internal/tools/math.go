// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"math"
)

// MathTools returns the builtin arithmetic operations: add, subtract,
// multiply, divide, power and root.
func MathTools() []Tool {
	return []Tool{
		binaryMathTool("add", "addition", "Add two numbers", func(a, b float64) (float64, error) {
			return a + b, nil
		}),
		binaryMathTool("subtract", "subtraction", "Subtract b from a", func(a, b float64) (float64, error) {
			return a - b, nil
		}),
		binaryMathTool("multiply", "multiplication", "Multiply two numbers", func(a, b float64) (float64, error) {
			return a * b, nil
		}),
		binaryMathTool("divide", "division", "Divide a by b", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return a / b, nil
		}),
		powerTool(),
		rootTool(),
	}
}

func binaryMathTool(name, operation, description string, fn func(a, b float64) (float64, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Category:    "math",
		Input: &InputSchema{Fields: map[string]FieldSpec{
			"a": {Type: "number", Required: true},
			"b": {Type: "number", Required: true},
		}},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			a, _ := toNumber(params["a"])
			b, _ := toNumber(params["b"])
			result, err := fn(a, b)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"operation": operation,
				"a":         a,
				"b":         b,
				"result":    result,
			}, nil
		},
	}
}

func powerTool() Tool {
	return Tool{
		Name:        "power",
		Description: "Raise base to exponent",
		Category:    "math",
		Input: &InputSchema{Fields: map[string]FieldSpec{
			"base":     {Type: "number", Required: true},
			"exponent": {Type: "number", Required: true},
		}},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			base, _ := toNumber(params["base"])
			exponent, _ := toNumber(params["exponent"])
			result := math.Pow(base, exponent)
			if math.IsNaN(result) || math.IsInf(result, 0) {
				return nil, fmt.Errorf("power %g^%g is not a finite number", base, exponent)
			}
			return map[string]any{
				"operation": "power",
				"base":      base,
				"exponent":  exponent,
				"result":    result,
			}, nil
		},
	}
}

func rootTool() Tool {
	minN := 1.0
	return Tool{
		Name:        "root",
		Description: "Take the nth root of a number (n defaults to 2)",
		Category:    "math",
		Input: &InputSchema{Fields: map[string]FieldSpec{
			"number": {Type: "number", Required: true},
			"n":      {Type: "number", Min: &minN},
		}},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			number, _ := toNumber(params["number"])
			n := 2.0
			if raw, ok := params["n"]; ok {
				n, _ = toNumber(raw)
			}
			if n < 1 || n != math.Trunc(n) {
				return nil, fmt.Errorf("n must be a positive integer, got %g", n)
			}
			if number < 0 && int(n)%2 == 0 {
				return nil, fmt.Errorf("cannot take even root of negative number")
			}

			var result float64
			if number < 0 {
				result = -math.Pow(-number, 1/n)
			} else {
				result = math.Pow(number, 1/n)
			}
			return map[string]any{
				"operation": "root",
				"number":    number,
				"n":         n,
				"result":    result,
			}, nil
		},
	}
}
