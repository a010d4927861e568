package session

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in a process-local map. This is the
// default store: the core contract treats sessions as ephemeral.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) WithLock(ctx context.Context, id string, fn func() error) error {
	lock := m.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

func (m *MemoryStore) Close() error {
	return nil
}

// sessionLock returns the mutex for id, creating it on first use.
// Lock entries are never removed; a mutex per seen session id is
// cheaper than the bookkeeping to reap them.
func (m *MemoryStore) sessionLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}
