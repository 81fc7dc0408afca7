package identity

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu  sync.Mutex
	id  Identity
	set bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(_ context.Context) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return Identity{}, ErrNoCredentials
	}
	return s.id, nil
}

func (s *MemoryStore) Save(_ context.Context, id Identity) error {
	s.mu.Lock()
	s.id = id
	s.set = true
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.id = Identity{}
	s.set = false
	s.mu.Unlock()
	return nil
}
