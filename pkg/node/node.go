// Package node defines the element tree produced by one script run.
//
// A tree is rooted, ordered, and append-only while a run is executing: element
// constructors append typed nodes to the current container, and container
// elements push/pop the container stack so lexically nested script code
// produces nested structure. Once a run completes the tree is frozen and kept
// as the baseline for the next run's diff.
package node

import (
	"fmt"
)

// Props holds a node's rendering inputs. Values must be JSON-compatible.
type Props map[string]any

// Node is one UI element description.
//
// ID is the sole identity used by the diff engine; a type change under the
// same id forces a full subtree replacement.
type Node struct {
	Type     string  `json:"type"`
	ID       string  `json:"id"`
	Props    Props   `json:"props,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// New creates a node with a copy of the given props.
func New(typ, id string, props Props) *Node {
	n := &Node{Type: typ, ID: id}
	if len(props) > 0 {
		n.Props = make(Props, len(props))
		for k, v := range props {
			n.Props[k] = v
		}
	}
	return n
}

// SetProp updates a property in place. Used by long-lived containers (e.g. a
// status block) that are mutated between yield points within the same run.
func (n *Node) SetProp(key string, value any) {
	if n.Props == nil {
		n.Props = make(Props, 1)
	}
	n.Props[key] = value
}

// Clone returns a deep copy of the subtree rooted at n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{Type: n.Type, ID: n.ID}
	if n.Props != nil {
		c.Props = make(Props, len(n.Props))
		for k, v := range n.Props {
			c.Props[k] = v
		}
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// Serialize produces the JSON-compatible representation of the subtree,
// recursively. The wire protocol embeds this shape in render messages.
func (n *Node) Serialize() map[string]any {
	out := map[string]any{
		"type": n.Type,
		"id":   n.ID,
	}
	if len(n.Props) > 0 {
		props := make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			props[k] = v
		}
		out["props"] = props
	}
	if len(n.Children) > 0 {
		children := make([]any, len(n.Children))
		for i, ch := range n.Children {
			children[i] = ch.Serialize()
		}
		out["children"] = children
	}
	return out
}

// Walk visits the subtree rooted at n in depth-first pre-order. Returning
// false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, ch := range n.Children {
		if !ch.Walk(fn) {
			return false
		}
	}
	return true
}

// Find returns the first node in the subtree with the given id.
func (n *Node) Find(id string) *Node {
	var found *Node
	n.Walk(func(cur *Node) bool {
		if cur.ID == id {
			found = cur
			return false
		}
		return true
	})
	return found
}

// FindByType returns the first node in the subtree with the given type.
func (n *Node) FindByType(typ string) *Node {
	var found *Node
	n.Walk(func(cur *Node) bool {
		if cur.Type == typ {
			found = cur
			return false
		}
		return true
	})
	return found
}

// BuildIndex returns an id-to-node map over the subtree for O(1) lookup.
func (n *Node) BuildIndex() map[string]*Node {
	index := make(map[string]*Node)
	n.Walk(func(cur *Node) bool {
		index[cur.ID] = cur
		return true
	})
	return index
}

// Tree is the build-time state of one run: a designated root plus an id index
// enforcing the unique-id invariant. The container stack lives on the
// execution scope, not here, so independently scoped emitters (columns, tabs,
// fragments) can target different containers of the same tree.
type Tree struct {
	Root  *Node
	index map[string]*Node
}

// RootID is the id of every tree's root container. The root is never emitted
// by user code, so the previous and next tree always share it by construction.
const RootID = "root"

// NewTree creates an empty tree with the standard root container.
func NewTree() *Tree {
	root := New("root", RootID, nil)
	return &Tree{
		Root:  root,
		index: map[string]*Node{RootID: root},
	}
}

// Append adds child as the last child of parent. It fails if the child's id
// already exists in the tree.
func (t *Tree) Append(parent, child *Node) error {
	if _, dup := t.index[child.ID]; dup {
		return fmt.Errorf("duplicate node id %q in tree", child.ID)
	}
	parent.Children = append(parent.Children, child)
	t.registerSubtree(child)
	return nil
}

func (t *Tree) registerSubtree(n *Node) {
	n.Walk(func(cur *Node) bool {
		t.index[cur.ID] = cur
		return true
	})
}

// Lookup returns the node with the given id, if present.
func (t *Tree) Lookup(id string) (*Node, bool) {
	n, ok := t.index[id]
	return n, ok
}

// Len returns the number of nodes in the tree, root included.
func (t *Tree) Len() int {
	return len(t.index)
}
