// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// EvaluateExpression evaluates a restricted arithmetic expression: numeric
// literals, + - * /, parentheses and unary minus. Nothing else parses, which
// keeps the calculator tool safe to expose to untrusted plan text.
func EvaluateExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	value, err := p.expression()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

// exprParser is a recursive-descent parser over the grammar:
//
//	expression = term { ("+"|"-") term }
//	term       = factor { ("*"|"/") factor }
//	factor     = ["-"] ( number | "(" expression ")" )
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) expression() (float64, error) {
	value, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.accept('+'):
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			value += rhs
		case p.accept('-'):
			rhs, err := p.term()
			if err != nil {
				return 0, err
			}
			value -= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) term() (float64, error) {
	value, err := p.factor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch {
		case p.accept('*'):
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			value *= rhs
		case p.accept('/'):
			rhs, err := p.factor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			value /= rhs
		default:
			return value, nil
		}
	}
}

func (p *exprParser) factor() (float64, error) {
	p.skipSpaces()

	if p.accept('-') {
		value, err := p.factor()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}

	if p.accept('(') {
		value, err := p.expression()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.accept(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return value, nil
	}

	return p.number()
}

func (p *exprParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if p.pos == start {
		if p.pos >= len(p.input) {
			return 0, fmt.Errorf("unexpected end of expression")
		}
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}

	literal := p.input[start:p.pos]
	value, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q at position %d", literal, start)
	}
	return value, nil
}

func (p *exprParser) accept(c byte) bool {
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// CalculatorTool evaluates arithmetic expressions with the restricted
// evaluator above.
func CalculatorTool() Tool {
	return Tool{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression",
		Category:    "math",
		Input: &InputSchema{Fields: map[string]FieldSpec{
			"expression": {Type: "string", Required: true},
		}},
		Handler: func(_ context.Context, params map[string]any) (any, error) {
			expr := strings.TrimSpace(params["expression"].(string))
			if expr == "" {
				return nil, fmt.Errorf("expression is empty")
			}
			value, err := EvaluateExpression(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"expression": expr,
				"result":     value,
			}, nil
		},
	}
}
