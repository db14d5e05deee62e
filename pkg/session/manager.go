package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Manager owns every live session and enforces the global run-concurrency
// ceiling: runs for different sessions execute in parallel up to MaxRuns
// slots, after which AcquireRun blocks until a slot frees or its context
// expires.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	runSlots *semaphore.Weighted
	idleTTL  time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// MaxRuns bounds cross-session run parallelism. Zero means 16.
	MaxRuns int64
	// IdleTTL evicts sessions with no client activity for this long.
	// Zero means 30 minutes.
	IdleTTL time.Duration
}

// NewManager creates a session manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = 16
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	return &Manager{
		sessions: make(map[string]*Session),
		runSlots: semaphore.NewWeighted(opts.MaxRuns),
		idleTTL:  opts.IdleTTL,
		clock:    time.Now,
		logger:   slog.Default().With("component", "session"),
	}
}

// WithClock overrides the clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Create registers a new session.
func (m *Manager) Create() *Session {
	s := newSession(newSessionID(), m.clock())
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("session created", "session_id", s.ID)
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove tears down and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
		m.logger.Info("session removed", "session_id", id)
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// AcquireRun claims a run slot, blocking until one is available or ctx
// expires. The returned release function must be called when the run ends.
func (m *Manager) AcquireRun(ctx context.Context) (func(), error) {
	if err := m.runSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { m.runSlots.Release(1) }, nil
}

// TryAcquireRun claims a run slot without blocking, reporting false when the
// ceiling is reached.
func (m *Manager) TryAcquireRun() (func(), bool) {
	if !m.runSlots.TryAcquire(1) {
		return nil, false
	}
	return func() { m.runSlots.Release(1) }, true
}

// EvictIdle tears down sessions idle past the TTL and returns how many were
// removed.
func (m *Manager) EvictIdle() int {
	cutoff := m.clock().Add(-m.idleTTL)

	m.mu.Lock()
	var victims []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.Close()
		m.logger.Info("session evicted", "session_id", s.ID)
	}
	return len(victims)
}

// Sweep runs EvictIdle on the given interval until ctx is done.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle()
		}
	}
}

func newSessionID() string {
	return uuid.NewString()
}
