package runner

import (
	"context"
	"sync"

	"breakout_bot/internal/models"
)

// StateStore хранит AccountState между рестартами процессора и процесса.
type StateStore interface {
	Load(ctx context.Context, accountID string) (models.AccountState, bool, error)
	Save(ctx context.Context, st models.AccountState) error
}

// MemoryStore живёт только внутри процесса.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.AccountState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]models.AccountState)}
}

func (s *MemoryStore) Load(_ context.Context, accountID string) (models.AccountState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[accountID]
	return cloneState(st), ok, nil
}

func (s *MemoryStore) Save(_ context.Context, st models.AccountState) error {
	s.mu.Lock()
	s.states[st.AccountID] = cloneState(st)
	s.mu.Unlock()
	return nil
}

func cloneState(st models.AccountState) models.AccountState {
	if st.Position != nil {
		p := *st.Position
		st.Position = &p
	}
	return st
}
