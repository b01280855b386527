package roomstore

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process room store, used by tests and single-node
// deployments without a database.
type Memory struct {
	mu    sync.Mutex
	rooms map[string]*Room
	ttl   time.Duration
	now   func() time.Time
}

// NewMemory creates an in-memory store with the given record TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		rooms: make(map[string]*Room),
		ttl:   ttl,
		now:   time.Now,
	}
}

// SetClock overrides the time source (tests).
func (m *Memory) SetClock(now func() time.Time) { m.now = now }

// Create inserts a room record.
func (m *Memory) Create(_ context.Context, code, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[code]; ok && m.now().Sub(r.CreatedAt) <= m.ttl {
		return ErrCodeTaken
	}
	m.rooms[code] = &Room{Code: code, PasswordHash: passwordHash, CreatedAt: m.now()}
	return nil
}

// Lookup fetches a room by code, treating expired records as absent.
func (m *Memory) Lookup(_ context.Context, code string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().Sub(r.CreatedAt) > m.ttl {
		delete(m.rooms, code)
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
