// Package session holds the long-lived state of one logical client
// connection: the widget store, the user state store, the retained tree from
// the last completed run, and the registry of fragment closures. Sessions are
// created on first connection and destroyed on disconnect or idle eviction.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/node"
)

// Fragment is one registered fragment: its subtree id, the executing closure,
// and an optional auto-refresh interval. Closures are re-registered on every
// full run because they capture that run's local variables.
type Fragment struct {
	ID       string
	Body     execctx.FragmentFunc
	Interval time.Duration
}

// Session is one long-lived logical connection.
type Session struct {
	ID string

	// runMu serializes script executions for this session: the container
	// stack and id counters are not safe for interleaved runs. Event-driven
	// runs and scheduled fragment refreshes both take it.
	runMu sync.Mutex

	mu        sync.Mutex
	rev       uint64
	widgets   *WidgetStore
	state     *StateStore
	retained  *node.Node
	fragments map[string]*Fragment
	lastSeen  time.Time
	done      chan struct{}
	closed    bool
}

// New creates a session with a fresh id.
func New() *Session {
	return newSession(uuid.NewString(), time.Now())
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		widgets:   NewWidgetStore(),
		state:     NewStateStore(),
		fragments: make(map[string]*Fragment),
		lastSeen:  now,
		done:      make(chan struct{}),
	}
}

// LockRun claims the session's single run slot; at most one script execution
// is in flight per session.
func (s *Session) LockRun() { s.runMu.Lock() }

// UnlockRun releases the session's run slot.
func (s *Session) UnlockRun() { s.runMu.Unlock() }

// Widgets returns the session's widget store.
func (s *Session) Widgets() *WidgetStore { return s.widgets }

// State returns the session's user state store.
func (s *Session) State() *StateStore { return s.state }

// Rev returns the revision of the last completed run.
func (s *Session) Rev() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// AdvanceRev increments the revision counter exactly once per completed run
// and returns the new value.
func (s *Session) AdvanceRev() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	return s.rev
}

// Retain freezes root as the baseline for the next run's diff.
func (s *Session) Retain(root *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retained = root
}

// Retained returns the tree retained by the last run, or nil before the first
// completed run.
func (s *Session) Retained() *node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retained
}

// RegisterFragment implements execctx.FragmentRegistry.
func (s *Session) RegisterFragment(id string, body execctx.FragmentFunc, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments[id] = &Fragment{ID: id, Body: body, Interval: interval}
}

// Fragment returns the registered fragment with the given subtree id.
func (s *Session) Fragment(id string) (*Fragment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fragments[id]
	return f, ok
}

// Fragments returns a snapshot of all registered fragments.
func (s *Session) Fragments() []*Fragment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Fragment, 0, len(s.fragments))
	for _, f := range s.fragments {
		out = append(out, f)
	}
	return out
}

// OwningFragment returns the id of the registered fragment whose retained
// subtree contains the given node id, if any. Used to decide whether a widget
// event can be served by a fragment-scoped rerun.
func (s *Session) OwningFragment(nodeID string) (string, bool) {
	s.mu.Lock()
	retained := s.retained
	ids := make([]string, 0, len(s.fragments))
	for id := range s.fragments {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if retained == nil {
		return "", false
	}
	for _, fragID := range ids {
		frag := retained.Find(fragID)
		if frag == nil {
			continue
		}
		if frag.Find(nodeID) != nil {
			return fragID, true
		}
	}
	return "", false
}

// Touch records client activity for idle eviction.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// LastSeen returns the time of the last recorded client activity.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Close tears the session down. Fragment schedulers select on Done to cancel
// periodic refreshes.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }
