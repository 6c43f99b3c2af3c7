// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

// ErrNoStoredPlan is returned by resume when the state store holds no
// persisted execution plan.
var ErrNoStoredPlan = errors.New("no execution plan found in state")

// PlanValidationError reports a malformed plan at construction time.
// Execution never starts on a plan that fails validation.
type PlanValidationError struct {
	Reason string
}

func (e *PlanValidationError) Error() string {
	return "invalid plan: " + e.Reason
}

// VariableNotFoundError reports a ${key} reference whose key was never
// written to the state store.
type VariableNotFoundError struct {
	Key string
}

func (e *VariableNotFoundError) Error() string {
	return "variable not found in state: " + e.Key
}

// VariablePathError reports a dotted ${path} reference that hit a value the
// remaining path segments cannot navigate into.
type VariablePathError struct {
	Path string
}

func (e *VariablePathError) Error() string {
	return fmt.Sprintf("cannot resolve path: %s", e.Path)
}

// IsVariableError reports whether err is a resolution failure. These are
// retried like tool failures rather than aborting the plan.
func IsVariableError(err error) bool {
	var notFound *VariableNotFoundError
	var badPath *VariablePathError
	return errors.As(err, &notFound) || errors.As(err, &badPath)
}
