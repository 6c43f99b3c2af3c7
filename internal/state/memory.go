package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used for tests and embedded callers
// that do not need checkpoints to survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return entry.Value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value any) error {
	k, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = Entry{Key: k, Value: value, Timestamp: time.Now()}
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) GetAll(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.entries))
	for k, entry := range s.entries {
		out[k] = entry.Value
	}
	return out, nil
}

func (s *MemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
