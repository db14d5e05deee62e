package elements

import (
	"testing"

	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/node"
	"github.com/reflow-ui/reflow/pkg/session"
)

func newScope(t *testing.T) (*execctx.Scope, *session.Session, *node.Tree) {
	t.Helper()
	sess := session.New()
	tree := node.NewTree()
	s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
	t.Cleanup(s.Close)
	return s, sess, tree
}

func TestButtonClickIsOneShot(t *testing.T) {
	sess := session.New()
	// One shared call site, as a real script re-executed across runs has.
	run := func() (string, bool) {
		tree := node.NewTree()
		s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		defer s.Close()
		clicked, err := Button(s, "inc")
		if err != nil {
			t.Fatal(err)
		}
		return tree.Root.Children[0].ID, clicked
	}

	id, clicked := run()
	if clicked {
		t.Fatal("unclicked button reported true")
	}

	// Click arrives; the next run observes it, the one after does not.
	sess.Widgets().Set(id, true, true)
	if _, clicked := run(); !clicked {
		t.Fatal("click not observed by next run")
	}
	if _, clicked := run(); clicked {
		t.Fatal("click observed twice")
	}
}

func TestButtonIDStableAcrossRuns(t *testing.T) {
	sess := session.New()
	run := func() string {
		tree := node.NewTree()
		s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		defer s.Close()
		if _, err := Button(s, "inc"); err != nil {
			t.Fatal(err)
		}
		return tree.Root.Children[0].ID
	}
	if run() != run() {
		t.Fatal("button id changed between runs")
	}
}

func TestWithKeyOverridesCallSite(t *testing.T) {
	s, _, tree := newScope(t)
	for _, item := range []string{"apples", "pears"} {
		if err := Text(s, item, WithKey("item-"+item)); err != nil {
			t.Fatal(err)
		}
	}
	if tree.Root.Children[0].ID != "k:item-apples" || tree.Root.Children[1].ID != "k:item-pears" {
		t.Fatalf("unexpected keyed ids: %s %s", tree.Root.Children[0].ID, tree.Root.Children[1].ID)
	}
}

func TestLoopedElementsGetDistinctIDs(t *testing.T) {
	s, _, tree := newScope(t)
	for i := 0; i < 3; i++ {
		if err := Text(s, "row"); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[string]bool{}
	for _, c := range tree.Root.Children {
		if seen[c.ID] {
			t.Fatalf("duplicate looped id %s", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestCheckboxReadsStoredValue(t *testing.T) {
	sess := session.New()
	run := func() (string, bool) {
		tree := node.NewTree()
		s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		defer s.Close()
		v, err := Checkbox(s, "enabled", true)
		if err != nil {
			t.Fatal(err)
		}
		return tree.Root.Children[0].ID, v
	}

	id, v := run()
	if v != true {
		t.Fatal("expected default before any event")
	}
	sess.Widgets().Set(id, false, false)
	if _, v := run(); v != false {
		t.Fatal("stored value not read back")
	}
}

func TestSliderCoercesWireNumbers(t *testing.T) {
	sess := session.New()
	run := func() (string, float64) {
		tree := node.NewTree()
		s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		defer s.Close()
		v, err := Slider(s, "n", 0, 10, 5)
		if err != nil {
			t.Fatal(err)
		}
		return tree.Root.Children[0].ID, v
	}

	id, v := run()
	if v != 5 {
		t.Fatalf("expected default 5, got %v", v)
	}
	// JSON decoding turns every number into float64.
	sess.Widgets().Set(id, float64(7), false)
	if _, v := run(); v != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
}

func TestSelectBoundsStoredIndex(t *testing.T) {
	sess := session.New()
	choices := []string{"red", "green"}
	run := func() (string, string) {
		tree := node.NewTree()
		s := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		defer s.Close()
		v, err := Select(s, "color", choices)
		if err != nil {
			t.Fatal(err)
		}
		return tree.Root.Children[0].ID, v
	}

	id, _ := run()
	sess.Widgets().Set(id, float64(1), false)
	if _, v := run(); v != "green" {
		t.Fatalf("expected stored selection, got %q", v)
	}
	sess.Widgets().Set(id, float64(9), false) // stale index from an older option list
	if _, v := run(); v != "red" {
		t.Fatalf("out-of-range index must fall back to first option, got %q", v)
	}
}

func TestColumnsNestAndScope(t *testing.T) {
	s, _, tree := newScope(t)
	cols, err := Columns(s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := Text(cols[0], "left"); err != nil {
		t.Fatal(err)
	}
	if err := Text(cols[1], "right"); err != nil {
		t.Fatal(err)
	}
	if err := Text(s, "below"); err != nil {
		t.Fatal(err)
	}

	container := tree.Root.Children[0]
	if container.Type != "columns" || len(container.Children) != 2 {
		t.Fatalf("unexpected columns container: %+v", container)
	}
	if container.Children[0].Children[0].Props["body"] != "left" {
		t.Fatal("left column content misplaced")
	}
	if container.Children[1].Children[0].Props["body"] != "right" {
		t.Fatal("right column content misplaced")
	}
	if tree.Root.Children[1].Props["body"] != "below" {
		t.Fatal("content after columns must land at the parent level")
	}
}

func TestTabsAndExpander(t *testing.T) {
	s, _, tree := newScope(t)
	tabs, err := Tabs(s, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if err := Markdown(tabs[1], "# b"); err != nil {
		t.Fatal(err)
	}
	exp, err := Expander(s, "details", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := Text(exp, "hidden"); err != nil {
		t.Fatal(err)
	}

	tabStrip := tree.Root.Children[0]
	if len(tabStrip.Children) != 2 || len(tabStrip.Children[1].Children) != 1 {
		t.Fatalf("tab content misplaced: %+v", tabStrip)
	}
	expander := tree.Root.Children[1]
	if expander.Type != "expander" || len(expander.Children) != 1 {
		t.Fatalf("expander content misplaced: %+v", expander)
	}
}

func TestStatusUpdatesInPlace(t *testing.T) {
	s, _, tree := newScope(t)
	st, err := NewStatus(s, "working")
	if err != nil {
		t.Fatal(err)
	}
	if err := Text(st.Scope(), "step 1"); err != nil {
		t.Fatal(err)
	}
	st.Update("done", "complete")

	n := tree.Root.Children[0]
	if n.Props["label"] != "done" || n.Props["state"] != "complete" {
		t.Fatalf("status not updated in place: %v", n.Props)
	}
	if len(n.Children) != 1 {
		t.Fatal("status nested content missing")
	}
}
