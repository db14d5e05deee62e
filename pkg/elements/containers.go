package elements

import (
	"fmt"

	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/node"
)

// Containers hand back child scopes rather than forwarding element calls
// dynamically: a column, tab, expander or chat message is just another
// *execctx.Scope targeting its container node, so every element works inside
// it unchanged.

// Columns lays out n equal columns and returns one emission scope per column.
func Columns(s *execctx.Scope, n int, opts ...Option) ([]*execctx.Scope, error) {
	o := buildOptions(opts)
	container, err := s.Emit(o.site, "columns", node.Props{"count": n}, o.key)
	if err != nil {
		return nil, err
	}
	tree, err := s.Tree()
	if err != nil {
		return nil, err
	}
	scopes := make([]*execctx.Scope, n)
	for i := 0; i < n; i++ {
		col := node.New("column", fmt.Sprintf("%s.%d", container.ID, i), node.Props{"index": i})
		if err := tree.Append(container, col); err != nil {
			return nil, err
		}
		scopes[i] = s.ScopeTo(col)
	}
	return scopes, nil
}

// Expander renders a collapsible region and returns its emission scope.
func Expander(s *execctx.Scope, label string, expanded bool, opts ...Option) (*execctx.Scope, error) {
	o := buildOptions(opts)
	container, err := s.Emit(o.site, "expander", node.Props{"label": label, "expanded": expanded}, o.key)
	if err != nil {
		return nil, err
	}
	return s.ScopeTo(container), nil
}

// Tabs renders a tab strip and returns one emission scope per tab.
func Tabs(s *execctx.Scope, labels []string, opts ...Option) ([]*execctx.Scope, error) {
	o := buildOptions(opts)
	container, err := s.Emit(o.site, "tabs", node.Props{"labels": labels}, o.key)
	if err != nil {
		return nil, err
	}
	tree, err := s.Tree()
	if err != nil {
		return nil, err
	}
	scopes := make([]*execctx.Scope, len(labels))
	for i, label := range labels {
		tab := node.New("tab", fmt.Sprintf("%s.%d", container.ID, i), node.Props{"label": label})
		if err := tree.Append(container, tab); err != nil {
			return nil, err
		}
		scopes[i] = s.ScopeTo(tab)
	}
	return scopes, nil
}

// ChatMessage renders a chat bubble for the given role and returns its
// emission scope.
func ChatMessage(s *execctx.Scope, role string, opts ...Option) (*execctx.Scope, error) {
	o := buildOptions(opts)
	container, err := s.Emit(o.site, "chat_message", node.Props{"role": role}, o.key)
	if err != nil {
		return nil, err
	}
	return s.ScopeTo(container), nil
}

// Status is a long-lived status block whose label and state are updated in
// place between yield points within the same run.
type Status struct {
	scope *execctx.Scope
	n     *node.Node
}

// NewStatus renders a status block in the "running" state.
func NewStatus(s *execctx.Scope, label string, opts ...Option) (*Status, error) {
	o := buildOptions(opts)
	n, err := s.Emit(o.site, "status", node.Props{"label": label, "state": "running"}, o.key)
	if err != nil {
		return nil, err
	}
	return &Status{scope: s.ScopeTo(n), n: n}, nil
}

// Scope returns the emission scope for elements nested inside the block.
func (st *Status) Scope() *execctx.Scope { return st.scope }

// Update rewrites the block's label and state in place.
func (st *Status) Update(label, state string) {
	st.n.SetProp("label", label)
	st.n.SetProp("state", state)
}
