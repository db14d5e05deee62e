// Package store persists session state snapshots across server restarts.
// A Backend saves the user-visible state map keyed by session id; the
// transport restores it when a client reconnects with a known session.
package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no snapshot exists for the session.
var ErrNotFound = errors.New("store: snapshot not found")

// Backend persists per-session state snapshots.
type Backend interface {
	SaveState(ctx context.Context, sessionID string, state map[string]any) error
	LoadState(ctx context.Context, sessionID string) (map[string]any, error)
	DeleteState(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryBackend keeps snapshots in process memory. It is the default and
// suits single-instance deployments where restart durability is not needed.
type MemoryBackend struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]any
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{snapshots: make(map[string]map[string]any)}
}

func (m *MemoryBackend) SaveState(_ context.Context, sessionID string, state map[string]any) error {
	copied := make(map[string]any, len(state))
	for k, v := range state {
		copied[k] = v
	}
	m.mu.Lock()
	m.snapshots[sessionID] = copied
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) LoadState(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.RLock()
	snap, ok := m.snapshots[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	copied := make(map[string]any, len(snap))
	for k, v := range snap {
		copied[k] = v
	}
	return copied, nil
}

func (m *MemoryBackend) DeleteState(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.snapshots, sessionID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
