// Package diff computes the minimal ordered patch transforming one element
// tree into another.
//
// Matching is id-based, never positional: for each sibling list the old
// children are indexed by id, the new children are walked once in order, and
// a trailing pass emits removals, giving O(n) behavior per list. A type
// change under the same id invalidates any child correspondence and is
// emitted as a full subtree replacement. Property values are compared
// structurally over their canonical JSON form (RFC 8785), with a fast path
// for values of identical comparable type.
//
// A matched child whose sibling position changed is emitted as an insertChild
// op without a node payload: applying it moves the existing subtree to the
// new index. This keeps pure reorders patchable with the same op vocabulary.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/reflow-ui/reflow/pkg/node"
)

// OpKind discriminates patch operations.
type OpKind string

const (
	// OpReplace swaps a full subtree; emitted when a node's type changed.
	OpReplace OpKind = "replace"
	// OpUpdateProps carries only the changed property subset of a node.
	OpUpdateProps OpKind = "updateProps"
	// OpInsertChild inserts (or, with no node payload, moves) a child at
	// (parentId, index).
	OpInsertChild OpKind = "insertChild"
	// OpRemove deletes a node by id.
	OpRemove OpKind = "remove"
)

// PatchOp is one diff result. Ops within one diff are ordered by discovery
// during the tree walk and must be applied in that order. For updateProps,
// Props carries added and changed values (an explicit null is a value, not a
// deletion) and Removed names the keys to delete.
type PatchOp struct {
	Op       OpKind         `json:"op"`
	ID       string         `json:"id"`
	Node     map[string]any `json:"node,omitempty"`
	Props    node.Props     `json:"props,omitempty"`
	Removed  []string       `json:"removedProps,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Index    *int           `json:"index,omitempty"`
}

// Diff computes the ordered ops transforming old into new. The two roots are
// assumed to share an id by construction; diffing is a pure function over two
// well-formed trees and has no error states.
func Diff(old, new *node.Node) []PatchOp {
	ops := make([]PatchOp, 0)
	diffNode(old, new, &ops)
	return ops
}

func diffNode(old, new *node.Node, ops *[]PatchOp) {
	if old.Type != new.Type {
		*ops = append(*ops, PatchOp{Op: OpReplace, ID: new.ID, Node: new.Serialize()})
		return
	}
	if props, removed := changedProps(old.Props, new.Props); len(props) > 0 || len(removed) > 0 {
		*ops = append(*ops, PatchOp{Op: OpUpdateProps, ID: new.ID, Props: props, Removed: removed})
	}
	diffChildren(old, new, ops)
}

// changedProps returns the symmetric property difference: added and changed
// keys (including keys whose new value is an explicit null) carry the new
// value in the map, keys absent from new land in the sorted removed list.
func changedProps(old, new node.Props) (node.Props, []string) {
	var out node.Props
	for k, nv := range new {
		ov, ok := old[k]
		if !ok || !valueEqual(ov, nv) {
			if out == nil {
				out = make(node.Props)
			}
			out[k] = nv
		}
	}
	var removed []string
	for k := range old {
		if _, ok := new[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return out, removed
}

func diffChildren(old, new *node.Node, ops *[]PatchOp) {
	oldByID := make(map[string]*node.Node, len(old.Children))
	for _, c := range old.Children {
		oldByID[c.ID] = c
	}

	// work mirrors the child id order a client holds after applying the ops
	// emitted so far; it decides when a matched child needs a move.
	work := make([]string, len(old.Children))
	for i, c := range old.Children {
		work[i] = c.ID
	}

	newIDs := make(map[string]struct{}, len(new.Children))
	for i, nc := range new.Children {
		newIDs[nc.ID] = struct{}{}
		oc, ok := oldByID[nc.ID]
		if !ok {
			idx := i
			*ops = append(*ops, PatchOp{
				Op:       OpInsertChild,
				ID:       nc.ID,
				Node:     nc.Serialize(),
				ParentID: new.ID,
				Index:    &idx,
			})
			work = insertAt(work, i, nc.ID)
			continue
		}
		diffNode(oc, nc, ops)
		if cur := indexOf(work, nc.ID); cur != i {
			idx := i
			*ops = append(*ops, PatchOp{
				Op:       OpInsertChild,
				ID:       nc.ID,
				ParentID: new.ID,
				Index:    &idx,
			})
			work = moveTo(work, cur, i)
		}
	}

	for _, oc := range old.Children {
		if _, ok := newIDs[oc.ID]; !ok {
			*ops = append(*ops, PatchOp{Op: OpRemove, ID: oc.ID})
		}
	}
}

func insertAt(ids []string, i int, id string) []string {
	if i >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func moveTo(ids []string, from, to int) []string {
	id := ids[from]
	ids = append(ids[:from], ids[from+1:]...)
	return insertAt(ids, to, id)
}

// valueEqual reports deep structural equality of two JSON-compatible values.
// Identical comparable values short-circuit; everything else is compared over
// canonical JSON so that e.g. int(1) and float64(1) stored across a wire
// round-trip compare equal.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == tb && ta.Comparable() && a == b {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	ca, errA := jcs.Transform(aj)
	cb, errB := jcs.Transform(bj)
	if errA != nil || errB != nil {
		return bytes.Equal(aj, bj)
	}
	return bytes.Equal(ca, cb)
}

// Apply transforms a copy of root by the given ops, in order. It is the
// reference client: tests use it to verify that diff output reconstructs the
// new tree exactly.
func Apply(root *node.Node, ops []PatchOp) (*node.Node, error) {
	out := root.Clone()
	for _, op := range ops {
		if err := applyOne(out, op); err != nil {
			return nil, fmt.Errorf("apply %s %s: %w", op.Op, op.ID, err)
		}
	}
	return out, nil
}

func applyOne(root *node.Node, op PatchOp) error {
	switch op.Op {
	case OpReplace:
		target := root.Find(op.ID)
		if target == nil {
			return fmt.Errorf("node not found")
		}
		repl, err := nodeFromSerialized(op.Node)
		if err != nil {
			return err
		}
		*target = *repl
		return nil

	case OpUpdateProps:
		target := root.Find(op.ID)
		if target == nil {
			return fmt.Errorf("node not found")
		}
		for k, v := range op.Props {
			target.SetProp(k, v)
		}
		for _, k := range op.Removed {
			delete(target.Props, k)
		}
		return nil

	case OpInsertChild:
		parent := root.Find(op.ParentID)
		if parent == nil {
			return fmt.Errorf("parent %q not found", op.ParentID)
		}
		if op.Index == nil {
			return fmt.Errorf("insertChild without index")
		}
		var child *node.Node
		if op.Node != nil {
			c, err := nodeFromSerialized(op.Node)
			if err != nil {
				return err
			}
			child = c
		} else {
			// Move: detach the existing subtree first.
			child = root.Find(op.ID)
			if child == nil {
				return fmt.Errorf("move source not found")
			}
			detach(root, op.ID)
		}
		insertChild(parent, *op.Index, child)
		return nil

	case OpRemove:
		if !detach(root, op.ID) {
			return fmt.Errorf("node not found")
		}
		return nil
	}
	return fmt.Errorf("unknown op %q", op.Op)
}

func insertChild(parent *node.Node, index int, child *node.Node) {
	if index >= len(parent.Children) {
		parent.Children = append(parent.Children, child)
		return
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[index+1:], parent.Children[index:])
	parent.Children[index] = child
}

func detach(root *node.Node, id string) bool {
	removed := false
	root.Walk(func(n *node.Node) bool {
		for i, c := range n.Children {
			if c.ID == id {
				n.Children = append(n.Children[:i], n.Children[i+1:]...)
				removed = true
				return false
			}
		}
		return true
	})
	return removed
}

func nodeFromSerialized(m map[string]any) (*node.Node, error) {
	typ, _ := m["type"].(string)
	id, _ := m["id"].(string)
	if typ == "" || id == "" {
		return nil, fmt.Errorf("serialized node missing type or id")
	}
	n := &node.Node{Type: typ, ID: id}
	if props, ok := m["props"].(map[string]any); ok {
		n.Props = make(node.Props, len(props))
		for k, v := range props {
			n.Props[k] = v
		}
	}
	if children, ok := m["children"].([]any); ok {
		for _, raw := range children {
			cm, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("serialized child is not an object")
			}
			c, err := nodeFromSerialized(cm)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, c)
		}
	}
	return n, nil
}
