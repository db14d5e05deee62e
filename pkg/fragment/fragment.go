// Package fragment provides named, independently re-runnable subtrees.
//
// Wrapping node-emitting logic in Define registers the closure under a stable
// subtree id on the session. When a widget event targets a node inside a
// fragment, the runtime may re-execute only that closure and diff its new
// subtree against the previously retained one, leaving the rest of the page
// untouched. Periodic refresh is layered on the same rerun-and-diff primitive
// and dies with the session.
package fragment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reflow-ui/reflow/pkg/diff"
	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/identity"
	"github.com/reflow-ui/reflow/pkg/node"
	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
)

// NodeType is the element type of fragment container nodes.
const NodeType = "fragment"

// ErrUnknownFragment reports a fragment-scoped run for an id the session has
// no registered closure for.
var ErrUnknownFragment = errors.New("unknown fragment")

// ErrNeedsFullRun reports a signal a fragment cannot honor in isolation
// (navigation); the caller should fall back to a full-page run.
var ErrNeedsFullRun = errors.New("fragment signal requires a full run")

type options struct {
	key      string
	interval time.Duration
	site     identity.Site
	siteSet  bool
}

// Option configures Define.
type Option func(*options)

// WithKey pins the fragment's id to "k:<key>" regardless of call site.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// Every re-executes the fragment on the given interval until the session
// closes.
func Every(interval time.Duration) Option {
	return func(o *options) { o.interval = interval }
}

// At overrides the captured call site; helpers that wrap Define use it to
// name their own caller.
func At(site identity.Site) Option {
	return func(o *options) { o.site = site; o.siteSet = true }
}

// Define executes body inside its own fragment container, registers the
// closure on the session under the container's id, and returns the container
// node. Closures are re-registered on every full run since they capture that
// run's locals.
func Define(s *execctx.Scope, body execctx.FragmentFunc, opts ...Option) (*node.Node, error) {
	o := options{site: identity.Callsite(1)}
	for _, opt := range opts {
		opt(&o)
	}

	props := node.Props{}
	if o.interval > 0 {
		props["refresh_ms"] = o.interval.Milliseconds()
	}
	n, err := s.PushContainer(o.site, NodeType, props, o.key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.PopContainer() }()

	// Register before executing so the closure is known even when the body
	// raises a control-flow signal on its first run.
	registry, err := s.Fragments()
	if err != nil {
		return nil, err
	}
	registry.RegisterFragment(n.ID, body, o.interval)

	if err := body(s); err != nil {
		// Control-flow signals propagate to the execution loop untouched.
		return nil, err
	}
	return n, nil
}

// Runner re-executes single fragments in isolation.
type Runner struct {
	maxReruns int
	logger    *slog.Logger
}

// NewRunner creates a fragment runner. maxReruns bounds rerun signals raised
// inside a fragment body; zero means runloop.DefaultMaxReruns.
func NewRunner(maxReruns int) *Runner {
	if maxReruns <= 0 {
		maxReruns = runloop.DefaultMaxReruns
	}
	return &Runner{
		maxReruns: maxReruns,
		logger:    slog.Default().With("component", "fragment"),
	}
}

// Run re-executes the registered closure for fragID, diffs the new subtree
// against the retained one, splices the result back into the session's
// retained tree, and returns a patch scoped to the fragment's subtree id.
// Nodes outside the fragment are never touched or reconsidered.
//
// An isolated rerun starts a fresh occurrence counter scoped to the fragment
// body. An unkeyed call site that also emits earlier in the full page gets a
// lower occurrence index here than in a full run, which shows up as a
// remove/insert pair in the patch; such shared call sites should pass a key.
func (r *Runner) Run(ctx context.Context, sess *session.Session, fragID string) (*runloop.Result, error) {
	sess.LockRun()
	defer sess.UnlockRun()

	frag, ok := sess.Fragment(fragID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFragment, fragID)
	}
	retained := sess.Retained()
	if retained == nil {
		return nil, fmt.Errorf("%w: no retained tree", ErrUnknownFragment)
	}
	old := retained.Find(fragID)
	if old == nil {
		return nil, fmt.Errorf("%w: subtree %s not in retained tree", ErrUnknownFragment, fragID)
	}

	attempts := 0
	for {
		attempts++
		tree := node.NewTree()
		container := node.New(old.Type, old.ID, old.Props)
		if err := tree.Append(tree.Root, container); err != nil {
			return nil, err
		}
		scope := execctx.ActivateAt(sess.ID, sess.Widgets(), sess, tree, container)
		err := r.invoke(frag.Body, scope)
		scope.Close()

		var sig *runloop.Signal
		if errors.As(err, &sig) {
			switch sig.Kind {
			case runloop.SignalStop:
				return r.finalize(sess, old, container, attempts, runloop.StatusStopped), nil
			case runloop.SignalNavigate:
				return nil, fmt.Errorf("%w: navigate(%s)", ErrNeedsFullRun, sig.Target)
			case runloop.SignalRerun:
				if attempts >= r.maxReruns {
					r.logger.Warn("fragment rerun limit reached",
						"session_id", sess.ID, "fragment_id", fragID, "attempts", attempts)
					return r.finalize(sess, old, container, attempts, runloop.StatusCompleted), nil
				}
				continue
			}
		}
		if err != nil {
			res := r.finalize(sess, old, container, attempts, runloop.StatusFailed)
			res.Err = &runloop.ScriptError{SessionID: sess.ID, Err: err}
			return res, res.Err
		}
		return r.finalize(sess, old, container, attempts, runloop.StatusCompleted), nil
	}
}

func (r *Runner) invoke(body execctx.FragmentFunc, scope *execctx.Scope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fragment panic: %v", p)
		}
	}()
	return body(scope)
}

// finalize diffs the fragment subtrees, splices the new subtree into the
// retained tree in place, and advances the session revision.
func (r *Runner) finalize(sess *session.Session, old, fresh *node.Node, attempts int, status runloop.Status) *runloop.Result {
	ops := diff.Diff(old, fresh)
	*old = *fresh
	rev := sess.AdvanceRev()
	return &runloop.Result{Status: status, Rev: rev, Ops: ops, Attempts: attempts}
}
