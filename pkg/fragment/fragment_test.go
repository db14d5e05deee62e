package fragment

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reflow-ui/reflow/pkg/diff"
	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/identity"
	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
)

func site(line int) identity.Site {
	return identity.Site{File: "app.go", Line: line}
}

// counterApp is a page with one outer text node and a fragment holding a
// counter button plus its readout.
func counterApp(sess *session.Session) (runloop.Script, *string) {
	var fragID string
	script := func(s *execctx.Scope) error {
		if _, err := s.Emit(site(1), "text", map[string]any{"body": "outer"}, ""); err != nil {
			return err
		}
		n, err := Define(s, func(fs *execctx.Scope) error {
			btn, err := fs.Emit(site(4), "button", map[string]any{"label": "inc"}, "")
			if err != nil {
				return err
			}
			widgets, err := fs.Widgets()
			if err != nil {
				return err
			}
			if v, ok := widgets.Take(btn.ID); ok && v == true {
				sess.State().Set("count", sess.State().GetOr("count", 0).(int)+1)
			}
			_, err = fs.Emit(site(7), "text", map[string]any{
				"body": fmt.Sprintf("Count: %d", sess.State().GetOr("count", 0)),
			}, "")
			return err
		}, At(site(3)))
		if err != nil {
			return err
		}
		fragID = n.ID
		return nil
	}
	return script, &fragID
}

func TestDefineRegistersAndNests(t *testing.T) {
	sess := session.New()
	script, fragID := counterApp(sess)

	res, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script)
	if err != nil {
		t.Fatal(err)
	}
	if *fragID == "" {
		t.Fatal("fragment id not captured")
	}
	if _, ok := sess.Fragment(*fragID); !ok {
		t.Fatal("fragment not registered on session")
	}

	frag := res.Full.Find(*fragID)
	if frag == nil || frag.Type != NodeType {
		t.Fatalf("fragment container missing from tree: %v", frag)
	}
	if len(frag.Children) != 2 {
		t.Fatalf("fragment body not nested inside container: %+v", frag.Children)
	}
}

func TestIsolatedRerunScopesOpsToFragment(t *testing.T) {
	sess := session.New()
	script, fragID := counterApp(sess)

	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}

	// The click lands on the button inside the fragment.
	retained := sess.Retained()
	btn := retained.Find(*fragID).Children[0]
	sess.Widgets().Set(btn.ID, true, true)

	owner, ok := sess.OwningFragment(btn.ID)
	if !ok || owner != *fragID {
		t.Fatalf("expected owning fragment %s, got %s (%v)", *fragID, owner, ok)
	}

	res, err := NewRunner(0).Run(context.Background(), sess, *fragID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Ops) != 1 {
		t.Fatalf("expected one op for the readout update, got %+v", res.Ops)
	}
	op := res.Ops[0]
	if op.Op != diff.OpUpdateProps {
		t.Fatalf("unexpected op: %+v", op)
	}
	// Every op is scoped to the fragment's subtree.
	if retained.Find(*fragID).Find(op.ID) == nil {
		t.Fatalf("op %s escaped the fragment subtree", op.ID)
	}
	// The outer page saw zero ops and was never re-executed; the splice kept
	// the retained tree consistent.
	if got := sess.Retained().Find(*fragID).Children[1].Props["body"]; got != "Count: 1" {
		t.Fatalf("retained tree not spliced: %v", got)
	}
	if sess.Retained().Children[0].Props["body"] != "outer" {
		t.Fatal("outer node disturbed by fragment rerun")
	}
}

// An isolated rerun restarts occurrence counting inside the fragment body.
// A call site shared with the outer page therefore changes occurrence index
// between full and fragment-scoped runs; keyed elements avoid this.
func TestIsolatedRerunRestartsOccurrenceCounting(t *testing.T) {
	sess := session.New()
	shared := site(9)
	var fragID string
	script := func(s *execctx.Scope) error {
		if _, err := s.Emit(shared, "text", map[string]any{"body": "outer"}, ""); err != nil {
			return err
		}
		n, err := Define(s, func(fs *execctx.Scope) error {
			_, err := fs.Emit(shared, "text", map[string]any{"body": "inner"}, "")
			return err
		}, At(site(3)))
		if err != nil {
			return err
		}
		fragID = n.ID
		return nil
	}
	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}

	inner := sess.Retained().Find(fragID).Children[0]
	if inner.ID != "w:app.go:9:1" {
		t.Fatalf("full run should count the outer emit first, got %s", inner.ID)
	}

	if _, err := NewRunner(0).Run(context.Background(), sess, fragID); err != nil {
		t.Fatal(err)
	}
	got := sess.Retained().Find(fragID).Children[0].ID
	if got != "w:app.go:9:0" {
		t.Fatalf("isolated rerun should restart occurrence counting, got %s", got)
	}
}

func TestFragmentRunUnknownID(t *testing.T) {
	sess := session.New()
	_, err := NewRunner(0).Run(context.Background(), sess, "w:nope:1:0")
	if !errors.Is(err, ErrUnknownFragment) {
		t.Fatalf("expected ErrUnknownFragment, got %v", err)
	}
}

func TestFragmentNavigateEscalatesToFullRun(t *testing.T) {
	sess := session.New()
	script := func(s *execctx.Scope) error {
		_, err := Define(s, func(fs *execctx.Scope) error {
			return runloop.Navigate("about")
		}, WithKey("nav-frag"))
		// The navigate signal propagates out of Define during the full run;
		// swallow it here so the page completes.
		if err != nil && !errors.As(err, new(*runloop.Signal)) {
			return err
		}
		return nil
	}
	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}

	_, err := NewRunner(0).Run(context.Background(), sess, "k:nav-frag")
	if !errors.Is(err, ErrNeedsFullRun) {
		t.Fatalf("expected ErrNeedsFullRun, got %v", err)
	}
}

func TestFragmentRerunIsBounded(t *testing.T) {
	sess := session.New()
	script := func(s *execctx.Scope) error {
		_, err := Define(s, func(fs *execctx.Scope) error {
			if _, err := fs.Emit(site(4), "text", map[string]any{"body": "x"}, ""); err != nil {
				return err
			}
			if sess.State().GetOr("loop", false).(bool) {
				return runloop.Rerun()
			}
			return nil
		}, WithKey("loopy"))
		return err
	}
	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}

	sess.State().Set("loop", true)
	res, err := NewRunner(3).Run(context.Background(), sess, "k:loopy")
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempts != 3 || res.Status != runloop.StatusCompleted {
		t.Fatalf("expected bounded completion, got %+v", res)
	}
}

func TestSchedulerRefreshesUntilSessionCloses(t *testing.T) {
	sess := session.New()
	var fragID string
	script := func(s *execctx.Scope) error {
		n, err := Define(s, func(fs *execctx.Scope) error {
			_, err := fs.Emit(site(4), "text", map[string]any{
				"body": fmt.Sprintf("tick %d", sess.State().GetOr("ticks", 0)),
			}, "")
			sess.State().Set("ticks", sess.State().GetOr("ticks", 0).(int)+1)
			return err
		}, WithKey("clock"), Every(5*time.Millisecond))
		if err != nil {
			return err
		}
		fragID = n.ID
		return nil
	}
	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}
	if fragID != "k:clock" {
		t.Fatalf("unexpected fragment id %q", fragID)
	}

	var delivered atomic.Int64
	sc := NewScheduler(NewRunner(0))
	sc.Sync(context.Background(), sess, func(res *runloop.Result, err error) {
		if err == nil {
			delivered.Add(1)
		}
	})

	deadline := time.After(2 * time.Second)
	for delivered.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler never delivered refreshes")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sess.Close()
	time.Sleep(20 * time.Millisecond)
	after := delivered.Load()
	time.Sleep(30 * time.Millisecond)
	if delivered.Load() > after+1 {
		t.Fatal("scheduler kept refreshing after session close")
	}
}

type countingSlots struct {
	acquired atomic.Int64
	released atomic.Int64
}

func (c *countingSlots) AcquireRun(ctx context.Context) (func(), error) {
	c.acquired.Add(1)
	return func() { c.released.Add(1) }, nil
}

// Scheduled refreshes count against the run ceiling like any other run: each
// tick acquires a slot and releases it when the run ends.
func TestSchedulerRefreshHoldsRunSlot(t *testing.T) {
	sess := session.New()
	script := func(s *execctx.Scope) error {
		_, err := Define(s, func(fs *execctx.Scope) error {
			_, err := fs.Emit(site(4), "text", map[string]any{
				"body": fmt.Sprintf("tick %d", sess.State().GetOr("ticks", 0)),
			}, "")
			sess.State().Set("ticks", sess.State().GetOr("ticks", 0).(int)+1)
			return err
		}, WithKey("clock"), Every(5*time.Millisecond))
		return err
	}
	if _, err := runloop.NewRunner(runloop.Options{}).Run(context.Background(), sess, script); err != nil {
		t.Fatal(err)
	}

	slots := &countingSlots{}
	var delivered atomic.Int64
	sc := NewScheduler(NewRunner(0)).WithSlots(slots)
	sc.Sync(context.Background(), sess, func(res *runloop.Result, err error) {
		if err == nil {
			delivered.Add(1)
		}
	})

	deadline := time.After(2 * time.Second)
	for delivered.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler never delivered refreshes")
		case <-time.After(5 * time.Millisecond):
		}
	}
	sess.Close()

	if slots.acquired.Load() < 2 {
		t.Fatalf("refreshes ran without acquiring slots: %d", slots.acquired.Load())
	}
	deadline = time.After(2 * time.Second)
	for slots.acquired.Load() != slots.released.Load() {
		select {
		case <-deadline:
			t.Fatalf("slot leaked: acquired %d released %d",
				slots.acquired.Load(), slots.released.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
