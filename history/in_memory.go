package history

import (
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/callmesh/core"
)

// ErrNotFound is returned when no record exists for the given run id.
var ErrNotFound = errors.New("history: run not found")

// InMemoryStore is a volatile Store keeping records in a process local map.
// It is safe for concurrent access and best suited for tests, examples and
// short-lived processes. Returned records are cloned to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// NewInMemoryStore constructs an empty in-memory history store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

// Begin implements Store.
func (s *InMemoryStore) Begin(input string, calls []core.Call) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		ID:        core.NewID(),
		Input:     input,
		Calls:     append([]core.Call(nil), calls...),
		StartedAt: time.Now().UTC(),
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.ID, nil
}

// Append implements Store.
func (s *InMemoryStore) Append(runID string, ev core.AttributedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[runID]
	if !ok {
		return ErrNotFound
	}
	rec.Events = append(rec.Events, ev)
	return nil
}

// Complete implements Store.
func (s *InMemoryStore) Complete(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[runID]
	if !ok {
		return ErrNotFound
	}
	rec.CompletedAt = time.Now().UTC()
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List implements Store.
func (s *InMemoryStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}
