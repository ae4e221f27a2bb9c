package sagastore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/magasin/saga-orchestrator/internal/saga"
)

// MemoryStore is an in-memory Store for tests and single-process setups.
// Aggregates are deep-copied through their JSON form on the way in and out,
// so callers never share memory with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*saga.Saga
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]*saga.Saga)}
}

func (m *MemoryStore) Create(ctx context.Context, s *saga.Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sagas[s.ID]; exists {
		return saga.NewConflict(s.ID)
	}
	s.Version = 1
	cp, err := clone(s)
	if err != nil {
		return err
	}
	m.sagas[s.ID] = cp
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, s *saga.Saga) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.sagas[s.ID]
	if !exists {
		return saga.NewNotFound(s.ID)
	}
	if stored.Version != s.Version {
		return saga.NewConflict(s.ID)
	}
	s.Version++
	cp, err := clone(s)
	if err != nil {
		s.Version--
		return err
	}
	m.sagas[s.ID] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*saga.Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.sagas[id]
	if !exists {
		return nil, saga.NewNotFound(id)
	}
	return clone(stored)
}

func (m *MemoryStore) ListByState(ctx context.Context, state saga.State) ([]*saga.Saga, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*saga.Saga
	for _, stored := range m.sagas {
		if stored.State != state {
			continue
		}
		cp, err := clone(stored)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func clone(s *saga.Saga) (*saga.Saga, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("sagastore: encode saga %s: %w", s.ID, err)
	}
	var cp saga.Saga
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("sagastore: decode saga %s: %w", s.ID, err)
	}
	return &cp, nil
}
