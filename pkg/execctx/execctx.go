// Package execctx carries the active run through node-emitting code.
//
// There is no ambient or goroutine-local binding: the active run is an
// explicit *Scope handle passed (by convention, first argument) to every
// element constructor. Background goroutines never inherit a run implicitly;
// application code that wants to keep emitting against the originating
// session must call Fork and hand the returned scope to the new goroutine.
// Once the run finishes every scope derived from it is dead and emission
// fails with ErrNoActiveSession.
package execctx

import (
	"errors"
	"sync"
	"time"

	"github.com/reflow-ui/reflow/pkg/identity"
	"github.com/reflow-ui/reflow/pkg/node"
)

// ErrNoActiveSession reports a node-emitting call outside an active run.
// This is a programming error, never retried.
var ErrNoActiveSession = errors.New("no active session: UI calls must originate from a script run")

// WidgetStore is the per-session value store consulted by interactive
// elements. Implemented by the session package.
type WidgetStore interface {
	// Value returns the last client-reported value for the node id.
	Value(id string) (any, bool)
	// Take returns and consumes a trigger-style value (one-shot reset).
	Take(id string) (any, bool)
	// Set records a client-reported value. Trigger values are consumed by
	// the first Take in a subsequent run.
	Set(id string, value any, trigger bool)
}

// FragmentFunc is the executing closure of a fragment, re-registered on every
// full run since it captures the run's local variables.
type FragmentFunc func(s *Scope) error

// FragmentRegistry retains fragment closures and refresh intervals on the
// session. Implemented by the session package.
type FragmentRegistry interface {
	RegisterFragment(id string, body FragmentFunc, interval time.Duration)
}

// runState is shared by every scope derived from one run.
type runState struct {
	mu        sync.Mutex
	active    bool
	sessionID string
	widgets   WidgetStore
	fragments FragmentRegistry
	tree      *node.Tree
	alloc     *identity.Allocator
}

// Scope is the handle through which script code emits nodes. A scope targets
// one container; container elements create child scopes via ScopeTo, so
// Column, Tab, Expander and Fragment all share the same scoped-emission
// surface instead of forwarding attribute access dynamically.
type Scope struct {
	run   *runState
	stack []*node.Node
}

// Activate opens a run and returns its root scope. The caller (the execution
// loop) must Close the scope when the run finishes.
func Activate(sessionID string, widgets WidgetStore, fragments FragmentRegistry, tree *node.Tree) *Scope {
	rs := &runState{
		active:    true,
		sessionID: sessionID,
		widgets:   widgets,
		fragments: fragments,
		tree:      tree,
		alloc:     identity.NewAllocator(),
	}
	return &Scope{run: rs, stack: []*node.Node{tree.Root}}
}

// ActivateAt opens a run whose root scope targets an arbitrary container.
// Used by fragment-scoped reruns.
func ActivateAt(sessionID string, widgets WidgetStore, fragments FragmentRegistry, tree *node.Tree, container *node.Node) *Scope {
	s := Activate(sessionID, widgets, fragments, tree)
	s.stack = []*node.Node{container}
	return s
}

// Close deactivates the run. Every scope sharing it, including forks handed
// to background goroutines, fails from this point on.
func (s *Scope) Close() {
	s.run.mu.Lock()
	s.run.active = false
	s.run.mu.Unlock()
}

// Fork returns a scope bound to the same run for explicit hand-off to a
// background goroutine. Emission through a fork is serialized with the main
// script by the run's lock and dies with the run.
func (s *Scope) Fork() *Scope {
	stack := make([]*node.Node, len(s.stack))
	copy(stack, s.stack)
	return &Scope{run: s.run, stack: stack}
}

// ScopeTo returns a scope whose emissions target the given container node.
func (s *Scope) ScopeTo(container *node.Node) *Scope {
	return &Scope{run: s.run, stack: []*node.Node{container}}
}

// SessionID returns the owning session's id.
func (s *Scope) SessionID() (string, error) {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return "", ErrNoActiveSession
	}
	return s.run.sessionID, nil
}

// Widgets returns the session's widget store.
func (s *Scope) Widgets() (WidgetStore, error) {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return nil, ErrNoActiveSession
	}
	return s.run.widgets, nil
}

// Fragments returns the session's fragment registry.
func (s *Scope) Fragments() (FragmentRegistry, error) {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return nil, ErrNoActiveSession
	}
	return s.run.fragments, nil
}

// Tree returns the tree under construction.
func (s *Scope) Tree() (*node.Tree, error) {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return nil, ErrNoActiveSession
	}
	return s.run.tree, nil
}

// Emit allocates an id for the call site and appends a new node to this
// scope's current container. It is the single node-emission primitive every
// concrete element builds on.
func (s *Scope) Emit(site identity.Site, typ string, props node.Props, key string) (*node.Node, error) {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return nil, ErrNoActiveSession
	}
	n := node.New(typ, s.run.alloc.NodeID(site, key), props)
	if err := s.run.tree.Append(s.current(), n); err != nil {
		return nil, err
	}
	return n, nil
}

// PushContainer emits a container node and makes it this scope's current
// container until the matching PopContainer.
func (s *Scope) PushContainer(site identity.Site, typ string, props node.Props, key string) (*node.Node, error) {
	n, err := s.Emit(site, typ, props, key)
	if err != nil {
		return nil, err
	}
	s.run.mu.Lock()
	s.stack = append(s.stack, n)
	s.run.mu.Unlock()
	return n, nil
}

// PopContainer restores the previous container.
func (s *Scope) PopContainer() error {
	s.run.mu.Lock()
	defer s.run.mu.Unlock()
	if !s.run.active {
		return ErrNoActiveSession
	}
	if len(s.stack) <= 1 {
		return errors.New("container stack underflow")
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

func (s *Scope) current() *node.Node {
	return s.stack[len(s.stack)-1]
}
