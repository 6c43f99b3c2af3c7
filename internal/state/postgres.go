// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps one session's state in the plan_state table. Postgres
// serializes the individual reads and writes; like every Store backend it
// assumes a single writer per session during a plan run.
type PostgresStore struct {
	pool      *pgxpool.Pool
	sessionID string
	logger    *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, sessionID string, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, sessionID: sessionID, logger: logger}
}

func (s *PostgresStore) SessionID() string {
	return s.sessionID
}

func (s *PostgresStore) Get(ctx context.Context, key string) (any, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value
		FROM plan_state
		WHERE session_id=$1 AND key=$2
	`, s.sessionID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("state get failed", "session_id", s.sessionID, "key", key, "error", err)
		return nil, err
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode state value for %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value any) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: unencodable value for %q: %v", ErrWriteRejected, k, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO plan_state (session_id, key, value, updated_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (session_id, key)
		DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()
	`, s.sessionID, k, raw)
	if err != nil {
		s.logger.Error("state set failed", "session_id", s.sessionID, "key", k, "error", err)
		return err
	}
	return nil
}

func (s *PostgresStore) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM plan_state WHERE session_id=$1 AND key=$2
		)
	`, s.sessionID, key).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM plan_state WHERE session_id=$1 AND key=$2
	`, s.sessionID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, value
		FROM plan_state
		WHERE session_id=$1
		ORDER BY key ASC
	`, s.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]any{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("decode state value for %q: %w", key, err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *PostgresStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key
		FROM plan_state
		WHERE session_id=$1
		ORDER BY key ASC
	`, s.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
