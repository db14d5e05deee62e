package session

import "sync"

// WidgetStore maps node ids to the last value the client reported for that
// interactive node. This is how a freshly re-executed script remembers what
// the user selected even though all its locals were discarded.
//
// Values recorded with trigger=true are one-shot: the first Take consumes
// them, so a button click is observed by exactly one run.
type WidgetStore struct {
	mu       sync.Mutex
	values   map[string]any
	triggers map[string]struct{}
}

// NewWidgetStore returns an empty widget store.
func NewWidgetStore() *WidgetStore {
	return &WidgetStore{
		values:   make(map[string]any),
		triggers: make(map[string]struct{}),
	}
}

// Set records a client-reported value for a node id.
func (w *WidgetStore) Set(id string, value any, trigger bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[id] = value
	if trigger {
		w.triggers[id] = struct{}{}
	} else {
		delete(w.triggers, id)
	}
}

// Value returns the stored value for a node id without consuming it.
func (w *WidgetStore) Value(id string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.values[id]
	return v, ok
}

// Take returns the stored value for a node id, consuming it if it was
// recorded as a trigger.
func (w *WidgetStore) Take(id string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.values[id]
	if !ok {
		return nil, false
	}
	if _, oneShot := w.triggers[id]; oneShot {
		delete(w.values, id)
		delete(w.triggers, id)
	}
	return v, true
}

// Forget drops the stored value for a node id.
func (w *WidgetStore) Forget(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.values, id)
	delete(w.triggers, id)
}

// Len returns the number of stored values.
func (w *WidgetStore) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.values)
}

// StateStore is the user-defined application state that survives reruns. It
// is cleared only by explicit user action or session teardown.
type StateStore struct {
	mu     sync.Mutex
	values map[string]any
}

// NewStateStore returns an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *StateStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetOr returns the value stored under key, or def when absent.
func (s *StateStore) GetOr(key string, def any) any {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// Set stores a value under key.
func (s *StateStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes the value stored under key.
func (s *StateStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Clear removes every stored value.
func (s *StateStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
}

// Keys returns the stored keys in unspecified order.
func (s *StateStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot returns a copy of the store's contents, used by durable state
// backends.
func (s *StateStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Restore replaces the store's contents, used when reattaching a session to a
// durable snapshot.
func (s *StateStore) Restore(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any, len(values))
	for k, v := range values {
		s.values[k] = v
	}
}
