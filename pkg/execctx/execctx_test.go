package execctx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reflow-ui/reflow/pkg/identity"
	"github.com/reflow-ui/reflow/pkg/node"
)

type fakeWidgets struct {
	values map[string]any
}

func (f *fakeWidgets) Value(id string) (any, bool) { v, ok := f.values[id]; return v, ok }
func (f *fakeWidgets) Take(id string) (any, bool) {
	v, ok := f.values[id]
	delete(f.values, id)
	return v, ok
}
func (f *fakeWidgets) Set(id string, v any, trigger bool) {
	if f.values == nil {
		f.values = map[string]any{}
	}
	f.values[id] = v
}

type fakeFragments struct{}

func (fakeFragments) RegisterFragment(string, FragmentFunc, time.Duration) {}

func newScope() *Scope {
	return Activate("sess-1", &fakeWidgets{}, fakeFragments{}, node.NewTree())
}

func TestEmitAppendsToCurrentContainer(t *testing.T) {
	s := newScope()
	defer s.Close()

	site := identity.Site{File: "app.go", Line: 3}
	n, err := s.Emit(site, "button", node.Props{"label": "Go"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if n.ID != "w:app.go:3:0" {
		t.Fatalf("unexpected id %q", n.ID)
	}
	tree, err := s.Tree()
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Root.Children) != 1 || tree.Root.Children[0] != n {
		t.Fatalf("node not appended to root: %+v", tree.Root.Children)
	}
}

func TestPushPopContainerNesting(t *testing.T) {
	s := newScope()
	defer s.Close()

	col, err := s.PushContainer(identity.Site{File: "app.go", Line: 1}, "columns", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	inner, err := s.Emit(identity.Site{File: "app.go", Line: 2}, "text", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PopContainer(); err != nil {
		t.Fatal(err)
	}
	after, err := s.Emit(identity.Site{File: "app.go", Line: 4}, "text", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if len(col.Children) != 1 || col.Children[0] != inner {
		t.Fatalf("inner node not nested in column: %+v", col.Children)
	}
	tree, _ := s.Tree()
	if len(tree.Root.Children) != 2 || tree.Root.Children[1] != after {
		t.Fatalf("post-pop node not at root: %+v", tree.Root.Children)
	}
}

func TestPopContainerUnderflow(t *testing.T) {
	s := newScope()
	defer s.Close()
	if err := s.PopContainer(); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestEmitAfterCloseFails(t *testing.T) {
	s := newScope()
	s.Close()
	_, err := s.Emit(identity.Site{File: "app.go", Line: 3}, "text", nil, "")
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := s.SessionID(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestForkEmitsAgainstSameRun(t *testing.T) {
	s := newScope()
	fork := s.Fork()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := fork.Emit(identity.Site{File: "bg.go", Line: 1}, "text", nil, ""); err != nil {
			t.Errorf("fork emit failed: %v", err)
		}
	}()
	wg.Wait()

	tree, err := s.Tree()
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Root.Children) != 1 {
		t.Fatalf("expected background emission in tree, got %d children", len(tree.Root.Children))
	}

	// After the run closes, the fork dies with it.
	s.Close()
	if _, err := fork.Emit(identity.Site{File: "bg.go", Line: 2}, "text", nil, ""); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected dead fork, got %v", err)
	}
}

func TestScopeToTargetsContainer(t *testing.T) {
	s := newScope()
	defer s.Close()

	col, err := s.Emit(identity.Site{File: "app.go", Line: 1}, "column", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	scoped := s.ScopeTo(col)
	if _, err := scoped.Emit(identity.Site{File: "app.go", Line: 2}, "text", nil, ""); err != nil {
		t.Fatal(err)
	}
	if len(col.Children) != 1 {
		t.Fatalf("scoped emission missed container: %+v", col.Children)
	}
}

func TestParallelRunsDoNotCrossTalk(t *testing.T) {
	s1 := Activate("sess-1", &fakeWidgets{}, fakeFragments{}, node.NewTree())
	s2 := Activate("sess-2", &fakeWidgets{}, fakeFragments{}, node.NewTree())
	defer s1.Close()
	defer s2.Close()

	var wg sync.WaitGroup
	for _, s := range []*Scope{s1, s2} {
		wg.Add(1)
		go func(s *Scope) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := s.Emit(identity.Site{File: "app.go", Line: 3}, "text", nil, ""); err != nil {
					t.Errorf("emit: %v", err)
				}
			}
		}(s)
	}
	wg.Wait()

	t1, _ := s1.Tree()
	t2, _ := s2.Tree()
	if len(t1.Root.Children) != 50 || len(t2.Root.Children) != 50 {
		t.Fatalf("cross-talk between sessions: %d / %d", len(t1.Root.Children), len(t2.Root.Children))
	}
	id1, _ := s1.SessionID()
	id2, _ := s2.SessionID()
	if id1 == id2 {
		t.Fatal("sessions share identity")
	}
}
