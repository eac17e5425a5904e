package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
)

// Store implements ports.RunStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.RunState
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.RunState),
	}
}

// Save persists a snapshot of the run.
func (s *Store) Save(ctx context.Context, conversationID string, state *domain.RunState) error {
	snapshot := state.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[conversationID] = snapshot
	return nil
}

// Load retrieves a copy of the stored run so callers can't mutate the store by pointer.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.RunState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[conversationID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return state.Snapshot(), nil
}

// Delete removes the stored run.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, conversationID)
	return nil
}

// List returns the conversations with a stored run, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
