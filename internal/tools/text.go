package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextProcessorTool performs basic text operations on a string input.
func TextProcessorTool() Tool {
	return Tool{
		Name:        "text_processor",
		Description: "Count words or characters, or change case",
		Category:    "text",
		Input: &InputSchema{Fields: map[string]FieldSpec{
			"text": {Type: "string", Required: true},
			"operation": {
				Type:     "string",
				Required: true,
				OneOf:    []string{"count_words", "count_chars", "uppercase", "lowercase"},
			},
		}},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			text := params["text"].(string)
			operation := params["operation"].(string)

			var result any
			switch operation {
			case "count_words":
				result = len(strings.Fields(text))
			case "count_chars":
				result = utf8.RuneCountInString(text)
			case "uppercase":
				result = strings.ToUpper(text)
			case "lowercase":
				result = strings.ToLower(text)
			default:
				return nil, fmt.Errorf("unsupported operation %q", operation)
			}

			return map[string]any{
				"text":      text,
				"operation": operation,
				"result":    result,
			}, nil
		},
	}
}

// RegisterBuiltins registers every builtin tool on the registry.
func RegisterBuiltins(r *Registry) error {
	builtins := append(MathTools(), CalculatorTool(), TextProcessorTool())
	for _, t := range builtins {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
