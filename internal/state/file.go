// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultStateDir   = "./plan_state"
	defaultMaxEntries = 1000
)

type FileStoreOptions struct {
	SessionID  string
	Dir        string
	MaxEntries int
	Schema     *Schema
	Logger     *slog.Logger
}

// FileStore persists one session's state to a JSON file. Every write saves
// the full snapshot through a temp file and an atomic rename, which is what
// makes step checkpoints survive an interrupted run.
type FileStore struct {
	sessionID  string
	path       string
	maxEntries int
	schema     *Schema
	logger     *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

func NewFileStore(opts FileStoreOptions) (*FileStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	dir := opts.Dir
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	s := &FileStore{
		sessionID:  sessionID,
		path:       filepath.Join(dir, "state_"+sessionID+".json"),
		maxEntries: maxEntries,
		schema:     opts.Schema,
		logger:     logger,
		entries:    map[string]Entry{},
	}

	if err := s.load(); err != nil {
		logger.Warn("failed to load existing state", "path", s.path, "error", err)
	}

	return s, nil
}

func (s *FileStore) SessionID() string {
	return s.sessionID
}

type fileDocument struct {
	SessionID string  `json:"session_id"`
	LastSaved string  `json:"last_saved"`
	Entries   []Entry `json:"entries"`
}

func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse state file: %w", err)
	}

	for _, entry := range doc.Entries {
		s.entries[entry.Key] = entry
	}
	s.logger.Debug("state loaded", "path", s.path, "entries", len(s.entries))
	return nil
}

// save writes the snapshot; callers hold s.mu.
func (s *FileStore) save() error {
	doc := fileDocument{
		SessionID: s.sessionID,
		LastSaved: time.Now().Format(time.RFC3339Nano),
		Entries:   make([]Entry, 0, len(s.entries)),
	}
	for _, entry := range s.entries {
		doc.Entries = append(doc.Entries, entry)
	}
	sort.Slice(doc.Entries, func(i, j int) bool {
		return doc.Entries[i].Key < doc.Entries[j].Key
	})

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Get(ctx context.Context, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return entry.Value, nil
}

func (s *FileStore) Set(ctx context.Context, key string, value any) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schema != nil {
		snapshot := make(map[string]any, len(s.entries)+1)
		for ek, entry := range s.entries {
			snapshot[ek] = entry.Value
		}
		snapshot[k] = value

		warnings, err := s.schema.Validate(snapshot)
		for _, w := range warnings {
			s.logger.Warn("state schema warning", "key", k, "warning", w)
		}
		if err != nil {
			s.logger.Error("state schema validation failed", "key", k, "error", err)
			return err
		}
	}

	s.entries[k] = Entry{Key: k, Value: value, Timestamp: time.Now()}
	s.evictOldest()

	return s.save()
}

// evictOldest drops the oldest entries once the store exceeds maxEntries;
// callers hold s.mu.
func (s *FileStore) evictOldest() {
	excess := len(s.entries) - s.maxEntries
	if excess <= 0 {
		return
	}

	byAge := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		byAge = append(byAge, entry)
	}
	sort.Slice(byAge, func(i, j int) bool {
		return byAge[i].Timestamp.Before(byAge[j].Timestamp)
	})

	for _, entry := range byAge[:excess] {
		delete(s.entries, entry.Key)
	}
	s.logger.Debug("evicted old state entries", "count", excess)
}

func (s *FileStore) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, s.save()
}

func (s *FileStore) GetAll(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.entries))
	for k, entry := range s.entries {
		out[k] = entry.Value
	}
	return out, nil
}

func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
