// SPDX-License-Identifier: Apache-2.0

// Package state provides the shared key-value store that plan steps read
// their inputs from and persist their outputs and checkpoints to.
package state

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrWriteRejected marks a write refused by key or schema validation. The
// engine treats a rejected persistence write as fatal for the running plan.
var ErrWriteRejected = errors.New("state write rejected")

const MaxKeyLength = 200

var keyPattern = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// Store is the key-value contract the engine consumes. Implementations guard
// each individual operation with coarse-grained mutual exclusion; nothing
// here provides multi-writer isolation across whole plan runs.
type Store interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	GetAll(ctx context.Context) (map[string]any, error)
	Keys(ctx context.Context) ([]string, error)
}

// Entry is a single stored value with its write timestamp.
type Entry struct {
	Key       string         `json:"key"`
	Value     any            `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NormalizeKey lower-cases a key and validates it against the store key rule:
// alphanumerics, underscore, hyphen and dot, at most MaxKeyLength runes.
func NormalizeKey(key string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" || len(k) > MaxKeyLength || !keyPattern.MatchString(k) {
		return "", fmt.Errorf("%w: invalid state key %q", ErrWriteRejected, key)
	}
	return k, nil
}
