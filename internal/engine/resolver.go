// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/adiadia/planflow/internal/domain"
)

// referencePattern matches a single ${path} occurrence anywhere in a string.
// Only the first match is honored and the whole field resolves to the
// referenced value: there is no string interpolation around a reference, and
// downstream callers depend on that restriction.
var referencePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveInputs resolves a step's input mapping against the state store.
// Resolution is never memoized: every reference reads the value committed at
// the time of use, so a step always observes the outputs of all earlier
// steps.
func (e *Engine) resolveInputs(ctx context.Context, input map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(input))
	for key, value := range input {
		rv, err := e.resolveAny(ctx, value)
		if err != nil {
			return nil, err
		}
		resolved[key] = rv
	}
	return resolved, nil
}

func (e *Engine) resolveAny(ctx context.Context, value any) (any, error) {
	switch v := value.(type) {
	case string:
		return e.resolveString(ctx, v)
	case map[string]any:
		return e.resolveInputs(ctx, v)
	case []any:
		resolved := make([]any, len(v))
		for i, item := range v {
			if s, ok := item.(string); ok {
				rv, err := e.resolveString(ctx, s)
				if err != nil {
					return nil, err
				}
				resolved[i] = rv
				continue
			}
			resolved[i] = item
		}
		return resolved, nil
	default:
		// Numbers, booleans and null are literals.
		return value, nil
	}
}

func (e *Engine) resolveString(ctx context.Context, value string) (any, error) {
	match := referencePattern.FindStringSubmatch(value)
	if match == nil {
		return value, nil
	}
	path := match[1]

	if !strings.Contains(path, ".") {
		resolved, err := e.store.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if resolved == nil {
			return nil, &domain.VariableNotFoundError{Key: path}
		}
		return resolved, nil
	}

	segments := strings.Split(path, ".")
	current, err := e.store.Get(ctx, segments[0])
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &domain.VariableNotFoundError{Key: segments[0]}
	}

	for _, segment := range segments[1:] {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, &domain.VariablePathError{Path: path}
		}
		// A missing key yields nil here; that only fails if more path
		// segments remain.
		current = node[segment]
	}
	return current, nil
}
