// Package runloop drives the rerun-and-diff cycle: it executes the user
// script from the top inside an activated session, interprets control-flow
// signals, and turns the completed tree into either a full render (first run)
// or a patch against the session's retained tree.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reflow-ui/reflow/pkg/diff"
	"github.com/reflow-ui/reflow/pkg/execctx"
	"github.com/reflow-ui/reflow/pkg/node"
	"github.com/reflow-ui/reflow/pkg/session"
)

// Script is one user-authored page: an opaque callable that emits UI through
// the scope. Compilation, loading and file watching are tooling concerns.
type Script func(s *execctx.Scope) error

// DefaultMaxReruns bounds immediate-rerun loops per run request.
const DefaultMaxReruns = 5

// ErrRunTimeout marks a run failed by a supervisor-imposed wall-clock
// deadline. The loop itself never cancels an in-flight script.
var ErrRunTimeout = errors.New("script run exceeded deadline")

// ScriptError wraps an unhandled error from user script code. The loop
// finalizes its bookkeeping before returning it, so the next event still
// diffs against a coherent tree.
type ScriptError struct {
	SessionID string
	Err       error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script failed in session %s: %v", e.SessionID, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Status is the terminal state of one run request.
type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusStopped   Status = "STOPPED"
	StatusFailed    Status = "FAILED"
)

// Result is the outcome of one run request. Exactly one of Full and Ops is
// meaningful for completed runs: Full on a session's first completed run, Ops
// on every subsequent one (possibly empty).
type Result struct {
	Status   Status
	Rev      uint64
	Full     *node.Node
	Ops      []diff.PatchOp
	Attempts int
	Err      error
}

// Metrics receives run outcomes. Implemented by the observability provider.
type Metrics interface {
	ObserveRun(ctx context.Context, status Status, d time.Duration, ops int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(context.Context, Status, time.Duration, int) {}

// Runner executes scripts for sessions.
type Runner struct {
	maxReruns int
	metrics   Metrics
	logger    *slog.Logger
	clock     func() time.Time
}

// Options configures a Runner.
type Options struct {
	// MaxReruns bounds immediate reruns per request. Zero means
	// DefaultMaxReruns.
	MaxReruns int
	// Metrics receives run outcomes; nil disables.
	Metrics Metrics
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.MaxReruns <= 0 {
		opts.MaxReruns = DefaultMaxReruns
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	return &Runner{
		maxReruns: opts.MaxReruns,
		metrics:   opts.Metrics,
		logger:    slog.Default().With("component", "runloop"),
		clock:     time.Now,
	}
}

// Run executes the script for the session until it reaches a terminal state.
// The revision counter advances exactly once regardless of how many internal
// rerun attempts occurred. On script failure the partial tree is still
// adopted and the revision advanced before the error is returned.
func (r *Runner) Run(ctx context.Context, sess *session.Session, script Script) (*Result, error) {
	sess.LockRun()
	defer sess.UnlockRun()

	start := r.clock()
	attempts := 0

	for {
		attempts++
		tree := node.NewTree()
		scope := execctx.Activate(sess.ID, sess.Widgets(), sess, tree)
		err := r.invoke(script, scope)
		scope.Close()

		if ctxErr := ctx.Err(); ctxErr != nil && err == nil {
			err = fmt.Errorf("%w: %v", ErrRunTimeout, ctxErr)
		}

		var sig *Signal
		if errors.As(err, &sig) {
			switch sig.Kind {
			case SignalStop:
				res := r.finalize(sess, tree, StatusStopped, attempts)
				r.metrics.ObserveRun(ctx, StatusStopped, r.clock().Sub(start), len(res.Ops))
				return res, nil

			case SignalNavigate:
				r.recordNavigation(sess, sig.Target)
				fallthrough

			case SignalRerun:
				if attempts >= r.maxReruns {
					// Safety valve: bounded response under pathological
					// rerun loops, surfaced as whatever tree exists.
					r.logger.Warn("rerun limit reached",
						"session_id", sess.ID, "attempts", attempts)
					res := r.finalize(sess, tree, StatusCompleted, attempts)
					r.metrics.ObserveRun(ctx, StatusCompleted, r.clock().Sub(start), len(res.Ops))
					return res, nil
				}
				continue
			}
		}

		if err != nil {
			// Failure still synchronizes bookkeeping so the next event
			// diffs against a known tree.
			res := r.finalize(sess, tree, StatusFailed, attempts)
			res.Err = &ScriptError{SessionID: sess.ID, Err: err}
			r.metrics.ObserveRun(ctx, StatusFailed, r.clock().Sub(start), 0)
			r.logger.Error("script failed", "session_id", sess.ID, "error", err)
			return res, res.Err
		}

		res := r.finalize(sess, tree, StatusCompleted, attempts)
		r.metrics.ObserveRun(ctx, StatusCompleted, r.clock().Sub(start), len(res.Ops))
		return res, nil
	}
}

// invoke runs the script, converting panics in user code into errors.
func (r *Runner) invoke(script Script, scope *execctx.Scope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("script panic: %v", p)
		}
	}()
	return script(scope)
}

// finalize adopts the tree as the session's new baseline, advances the
// revision once, and computes the render result against the previous tree.
func (r *Runner) finalize(sess *session.Session, tree *node.Tree, status Status, attempts int) *Result {
	prev := sess.Retained()
	rev := sess.AdvanceRev()
	res := &Result{Status: status, Rev: rev, Attempts: attempts}
	if prev == nil {
		res.Full = tree.Root
	} else {
		res.Ops = diff.Diff(prev, tree.Root)
	}
	sess.Retain(tree.Root)
	return res
}

// recordNavigation maps the target page to the navigation control's option
// index in the previous tree and records it as that control's pending value,
// so the next run observes "the user selected this page".
func (r *Runner) recordNavigation(sess *session.Session, target string) {
	prev := sess.Retained()
	if prev == nil {
		r.logger.Warn("navigation with no previous tree", "target", target)
		return
	}
	nav := prev.FindByType("navigation")
	if nav == nil {
		r.logger.Warn("navigation signal without navigation control", "target", target)
		return
	}
	for i, name := range pageNames(nav.Props["pages"]) {
		if name == target {
			sess.Widgets().Set(nav.ID, i, false)
			return
		}
	}
	r.logger.Warn("navigation target not among pages",
		"target", target, "node_id", nav.ID)
}

// pageNames normalizes the navigation control's pages prop, which is
// []string when freshly emitted and []any after a wire round-trip.
func pageNames(v any) []string {
	switch pages := v.(type) {
	case []string:
		return pages
	case []any:
		out := make([]string, 0, len(pages))
		for _, p := range pages {
			if name, ok := p.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}
