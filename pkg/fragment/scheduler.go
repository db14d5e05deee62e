package fragment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
)

// Deliver receives the result of a scheduled fragment refresh; the transport
// wires it to push a render_patch to the client.
type Deliver func(res *runloop.Result, err error)

// RunSlots admits runs against a server-wide ceiling. session.Manager
// satisfies it; a fragment refresh counts as a run like any other.
type RunSlots interface {
	AcquireRun(ctx context.Context) (func(), error)
}

// Scheduler drives periodic fragment refreshes. One goroutine per
// (session, fragment) ticks at the fragment's interval and stops when the
// owning session closes.
type Scheduler struct {
	runner *Runner
	slots  RunSlots
	logger *slog.Logger

	mu      sync.Mutex
	started map[string]struct{} // sessionID + "\x00" + fragmentID
}

// NewScheduler creates a scheduler over the given fragment runner.
func NewScheduler(runner *Runner) *Scheduler {
	return &Scheduler{
		runner:  runner,
		logger:  slog.Default().With("component", "fragment.scheduler"),
		started: make(map[string]struct{}),
	}
}

// WithSlots bounds scheduled refreshes by the given run ceiling. Nil slots
// leave refreshes unbounded; returns the scheduler for chaining.
func (sc *Scheduler) WithSlots(slots RunSlots) *Scheduler {
	sc.slots = slots
	return sc
}

// Sync starts tickers for any of the session's fragments that declare a
// refresh interval and are not yet scheduled. Call it after every completed
// full run, since that is when fragments (re)register.
func (sc *Scheduler) Sync(ctx context.Context, sess *session.Session, deliver Deliver) {
	for _, frag := range sess.Fragments() {
		if frag.Interval <= 0 {
			continue
		}
		key := sess.ID + "\x00" + frag.ID
		sc.mu.Lock()
		if _, ok := sc.started[key]; ok {
			sc.mu.Unlock()
			continue
		}
		sc.started[key] = struct{}{}
		sc.mu.Unlock()

		go sc.tick(ctx, sess, frag.ID, frag.Interval, deliver, key)
	}
}

func (sc *Scheduler) tick(ctx context.Context, sess *session.Session, fragID string, interval time.Duration, deliver Deliver, key string) {
	defer func() {
		sc.mu.Lock()
		delete(sc.started, key)
		sc.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			res, err := sc.refresh(ctx, sess, fragID)
			if err != nil {
				sc.logger.Warn("scheduled fragment refresh failed",
					"session_id", sess.ID, "fragment_id", fragID, "error", err)
			}
			deliver(res, err)
		}
	}
}

// refresh runs one scheduled refresh, holding a run slot for its duration
// when a ceiling is configured.
func (sc *Scheduler) refresh(ctx context.Context, sess *session.Session, fragID string) (*runloop.Result, error) {
	if sc.slots != nil {
		release, err := sc.slots.AcquireRun(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	return sc.runner.Run(ctx, sess, fragID)
}
