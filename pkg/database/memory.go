package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps encoded documents in a map. Values go through JSON so a
// reload behaves exactly like one from a real backend.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte

	// FailSaves makes every Save fail, to exercise swallowed persistence errors.
	FailSaves bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, name string, v any) (bool, error) {
	s.mu.RLock()
	data, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode document %s: %w", name, err)
	}
	return true, nil
}

func (s *MemoryStore) Save(_ context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves {
		return fmt.Errorf("write document %s: store unavailable", name)
	}
	s.docs[name] = data
	return nil
}

// Raw returns the encoded document, or nil.
func (s *MemoryStore) Raw(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docs[name]
}

func (s *MemoryStore) Close() error { return nil }
