// Package transport is the websocket surface of the runtime. Each connection
// owns one session: the server runs the script once on connect and pushes a
// full render, then feeds widget events through a bounded per-session queue
// whose single worker reruns the script (or just the owning fragment) and
// pushes patches back in order.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reflow-ui/reflow/pkg/api"
	"github.com/reflow-ui/reflow/pkg/fragment"
	"github.com/reflow-ui/reflow/pkg/protocol"
	"github.com/reflow-ui/reflow/pkg/runloop"
	"github.com/reflow-ui/reflow/pkg/session"
	"github.com/reflow-ui/reflow/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// SessionHooks receives connection lifecycle events; the observability
// provider implements it. Nil disables.
type SessionHooks interface {
	SessionOpened(ctx context.Context)
	SessionClosed(ctx context.Context)
}

// Options configures the server.
type Options struct {
	Manager    *session.Manager
	Runner     *runloop.Runner
	Fragments  *fragment.Runner
	Scheduler  *fragment.Scheduler
	Script     runloop.Script            // default app
	Apps       map[string]runloop.Script // optional named apps, selected by ?app=
	Backend    store.Backend
	Limiter    *RateLimiter
	Validator  *TokenValidator // nil disables handshake auth
	Hooks      SessionHooks    // nil disables
	RunTimeout time.Duration   // per-run deadline, zero means no deadline
	QueueLen   int             // pending widget events per session
}

// Server serves the websocket runtime endpoint.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewServer creates a server. Manager, Runner and Script are required.
func NewServer(opts Options) *Server {
	if opts.QueueLen <= 0 {
		opts.QueueLen = 32
	}
	if opts.Backend == nil {
		opts.Backend = store.NewMemoryBackend()
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The runtime serves trusted first-party frontends; deployments
			// needing stricter origin policy put a proxy in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: slog.Default().With("component", "transport"),
		tracer: otel.Tracer("reflow.transport"),
	}
}

// Handler returns the HTTP handler: /ws for clients, /healthz for probes,
// both behind the rate limiter when one is configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/healthz", s.serveHealth)

	if s.opts.Limiter != nil {
		return s.opts.Limiter.Middleware(mux)
	}
	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.opts.Manager.Len(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.opts.Validator != nil {
		token := bearerToken(r)
		if token == "" {
			api.WriteUnauthorized(w, "Missing bearer token")
			return
		}
		if _, err := s.opts.Validator.Validate(token); err != nil {
			api.WriteUnauthorized(w, "Invalid or expired token")
			return
		}
	}

	script := s.opts.Script
	if name := r.URL.Query().Get("app"); name != "" {
		named, ok := s.opts.Apps[name]
		if !ok {
			api.WriteNotFound(w, "unknown app "+name)
			return
		}
		script = named
	}

	sess, restored := s.resolveSession(r)

	// The client needs its session id to resume after a disconnect.
	ws, err := s.upgrader.Upgrade(w, r, http.Header{"X-Session-Id": {sess.ID}})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{
		server: s,
		sess:   sess,
		script: script,
		ws:     ws,
		send:   make(chan []byte, 64),
		queue:  make(chan *protocol.WidgetEvent, s.opts.QueueLen),
		done:   make(chan struct{}),
		ctx:    r.Context(),
	}

	if s.opts.Hooks != nil {
		s.opts.Hooks.SessionOpened(r.Context())
	}
	s.logger.Info("session connected",
		"session_id", sess.ID, "restored_state", restored, "remote", r.RemoteAddr)

	go c.writePump()
	go c.worker()
	c.readPump()
}

// resolveSession reuses a live session named by the client, or creates one.
// For a named but unknown session it tries to restore the last persisted
// state snapshot, so a server restart keeps user-visible state.
func (s *Server) resolveSession(r *http.Request) (*session.Session, bool) {
	if id := r.URL.Query().Get("session"); id != "" {
		if sess, ok := s.opts.Manager.Get(id); ok {
			return sess, false
		}
		sess := s.opts.Manager.Create()
		if snap, err := s.opts.Backend.LoadState(r.Context(), id); err == nil {
			sess.State().Restore(snap)
			return sess, true
		}
		return sess, false
	}
	return s.opts.Manager.Create(), false
}

// conn is one websocket connection bound to a session. The send channel is
// never closed; done tells the write pump and late fragment deliveries that
// the connection is finished.
type conn struct {
	server *Server
	sess   *session.Session
	script runloop.Script
	ws     *websocket.Conn
	send   chan []byte
	queue  chan *protocol.WidgetEvent
	done   chan struct{}
	ctx    context.Context
}

// readPump decodes inbound messages and enqueues them for the worker. A full
// queue rejects the event rather than blocking the read loop.
func (c *conn) readPump() {
	defer func() {
		close(c.queue)
		_ = c.ws.Close()
		if c.server.opts.Hooks != nil {
			c.server.opts.Hooks.SessionClosed(c.ctx)
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("read failed", "session_id", c.sess.ID, "error", err)
			}
			return
		}

		ev, err := protocol.DecodeClientMessage(data)
		if err != nil {
			c.server.logger.Warn("rejected client message",
				"session_id", c.sess.ID, "error", err)
			c.sendError("invalid message: " + err.Error())
			continue
		}

		c.sess.Touch(time.Now())
		select {
		case c.queue <- ev:
		default:
			c.server.logger.Warn("event queue full, rejecting event",
				"session_id", c.sess.ID, "widget_id", ev.ID)
			c.sendError("server busy, event dropped")
		}
	}
}

// writePump serializes all outbound writes so patches from the worker and
// from scheduled fragment refreshes never interleave.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever the worker queued before it finished.
			for {
				select {
				case data := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// worker is the session's single run loop: the initial full run, then one
// run per queued event, strictly in arrival order.
func (c *conn) worker() {
	defer close(c.done)

	c.runFull(true)

	for ev := range c.queue {
		c.sess.Widgets().Set(ev.ID, ev.Value, ev.Trigger)
		c.dispatch(ev)
	}
}

// dispatch routes an event to its owning fragment when possible, falling
// back to a full script run.
func (c *conn) dispatch(ev *protocol.WidgetEvent) {
	fragID, ok := c.sess.OwningFragment(ev.ID)
	if !ok {
		c.runFull(false)
		return
	}

	res, err := c.runFragment(fragID)
	if err != nil {
		if errors.Is(err, fragment.ErrNeedsFullRun) || errors.Is(err, fragment.ErrUnknownFragment) {
			c.runFull(false)
			return
		}
		c.server.logger.Error("fragment run failed",
			"session_id", c.sess.ID, "fragment_id", fragID, "error", err)
		c.sendError("fragment run failed")
		return
	}
	c.deliver(res)
}

// runFragment executes one fragment-scoped run under a run slot. The slot is
// released before dispatch falls back to a full run, so a ceiling of one
// cannot deadlock against itself.
func (c *conn) runFragment(fragID string) (*runloop.Result, error) {
	release, err := c.server.opts.Manager.AcquireRun(c.ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := c.runContext()
	defer cancel()

	ctx, span := c.server.tracer.Start(ctx, "fragment.run", trace.WithAttributes(
		attribute.String("session.id", c.sess.ID),
		attribute.String("fragment.id", fragID),
	))
	defer span.End()

	res, err := c.server.opts.Fragments.Run(ctx, c.sess, fragID)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// runFull executes the whole script. On the connection's first run the
// client has no tree yet, so a resumed session gets the retained tree as a
// full render instead of a patch.
func (c *conn) runFull(initial bool) {
	release, err := c.server.opts.Manager.AcquireRun(c.ctx)
	if err != nil {
		c.sendError("server at capacity")
		return
	}
	defer release()

	ctx, cancel := c.runContext()
	defer cancel()

	ctx, span := c.server.tracer.Start(ctx, "script.run",
		trace.WithAttributes(attribute.String("session.id", c.sess.ID)))
	res, err := c.server.opts.Runner.Run(ctx, c.sess, c.script)
	if err != nil {
		span.RecordError(err)
		c.server.logger.Error("script run failed", "session_id", c.sess.ID, "error", err)
	}
	span.End()
	if res == nil {
		c.sendError("run failed")
		return
	}
	if initial && res.Full == nil {
		if retained := c.sess.Retained(); retained != nil {
			res = &runloop.Result{Status: res.Status, Rev: res.Rev, Full: retained}
		}
	}
	c.deliver(res)
	c.persistState(ctx)

	if c.server.opts.Scheduler != nil {
		c.server.opts.Scheduler.Sync(c.ctx, c.sess, func(res *runloop.Result, err error) {
			if err != nil || res == nil {
				return
			}
			c.deliver(res)
		})
	}
}

func (c *conn) runContext() (context.Context, context.CancelFunc) {
	if d := c.server.opts.RunTimeout; d > 0 {
		return context.WithTimeout(c.ctx, d)
	}
	return context.WithCancel(c.ctx)
}

// deliver encodes a run result and hands it to the write pump, giving up if
// the connection or session ends first.
func (c *conn) deliver(res *runloop.Result) {
	var (
		data []byte
		err  error
	)
	if res.Full != nil {
		data, err = protocol.EncodeFull(res.Rev, res.Full)
	} else {
		data, err = protocol.EncodePatch(res.Rev, res.Ops)
	}
	if err != nil {
		c.server.logger.Error("encode render failed", "session_id", c.sess.ID, "error", err)
		return
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	case <-c.sess.Done():
	}
}

func (c *conn) persistState(ctx context.Context) {
	snap := c.sess.State().Snapshot()
	if err := c.server.opts.Backend.SaveState(ctx, c.sess.ID, snap); err != nil {
		c.server.logger.Warn("state snapshot failed", "session_id", c.sess.ID, "error", err)
	}
}

func (c *conn) sendError(detail string) {
	data, err := json.Marshal(map[string]any{"type": "error", "detail": detail})
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
