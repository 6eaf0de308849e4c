// ABOUTME: Per-tenant session wrapping one live adapter connection
// ABOUTME: Single goroutine consumes adapter events and drives the state machine

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/dedupe"
)

// Backends redeliver recent messages on reconnect; the seen-cache keeps
// those out of the relay within this window.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 4096
)

// State is the authoritative connection state of a session.
type State string

const (
	StateInitializing State = "initializing"
	StateAwaitingQR   State = "awaiting_qr"
	StateReady        State = "ready"
	StateAuthFailed   State = "auth_failed"
	StateDisconnected State = "disconnected"
	StateDestroyed    State = "destroyed"
)

// MessageSink receives message events that survive the session's relay
// filter. Publish must not block for long; the session event loop is the
// only goroutine delivering a given tenant's messages, which is what keeps
// per-tenant ordering intact.
type MessageSink interface {
	Publish(tenantID string, msg adapter.Message)
}

// Session owns one adapter connection for one tenant. State reads never
// block on adapter activity; all mutation happens on the event loop.
type Session struct {
	tenantID string
	adapter  adapter.Adapter
	sink     MessageSink
	seen     *dedupe.Cache
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
	qr    string

	// runCtx is the session's own lifetime, cancelled by destroy. The
	// adapter connects against it, never against a request context:
	// pairing and the backend event pumps must outlive the HTTP request
	// that created the session.
	runCtx   context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func newSession(tenantID string, a adapter.Adapter, sink MessageSink, logger *slog.Logger) *Session {
	runCtx, cancel := context.WithCancel(context.Background())
	return &Session{
		tenantID: tenantID,
		adapter:  a,
		sink:     sink,
		seen:     dedupe.New(dedupeTTL, dedupeMaxSize),
		logger:   logger.With("component", "session", "tenant", tenantID),
		state:    StateInitializing,
		runCtx:   runCtx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
}

// start launches the event loop and asks the adapter to connect.
func (s *Session) start() error {
	go s.run()
	if err := s.adapter.Start(s.runCtx); err != nil {
		s.setState(StateAuthFailed, "")
		return err
	}
	return nil
}

// run consumes adapter lifecycle and message events until both channels
// close. Lifecycle events are the only writer of session state.
func (s *Session) run() {
	defer close(s.loopDone)

	lifecycle := s.adapter.Lifecycle()
	messages := s.adapter.Messages()

	for lifecycle != nil || messages != nil {
		select {
		case evt, ok := <-lifecycle:
			if !ok {
				lifecycle = nil
				continue
			}
			s.applyLifecycle(evt)
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			if s.seen.SeenOrMark(msg.ChatID + "\x00" + msg.ID) {
				s.logger.Debug("dropping redelivered message", "message_id", msg.ID)
				continue
			}
			if s.sink != nil {
				s.sink.Publish(s.tenantID, msg)
			}
		}
	}

	s.mu.Lock()
	if s.state != StateDestroyed {
		s.state = StateDisconnected
		s.qr = ""
	}
	s.mu.Unlock()
	s.logger.Debug("session event loop stopped")
}

func (s *Session) applyLifecycle(evt adapter.LifecycleEvent) {
	switch evt.Kind {
	case adapter.LifecycleQR:
		// A QR after Ready means the account was unlinked remotely and
		// the backend is re-challenging; fold back to awaiting.
		s.setState(StateAwaitingQR, evt.Payload)
		s.logger.Info("pairing challenge received")
	case adapter.LifecycleReady:
		s.setState(StateReady, "")
		s.logger.Info("session ready")
	case adapter.LifecycleAuthFailed:
		s.setState(StateAuthFailed, "")
		s.logger.Warn("authentication failed", "reason", evt.Payload)
	case adapter.LifecycleDisconnected:
		s.setState(StateDisconnected, "")
		s.logger.Warn("session disconnected", "reason", evt.Payload)
	default:
		s.logger.Debug("ignoring lifecycle event", "kind", evt.Kind)
	}
}

func (s *Session) setState(state State, qr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDestroyed {
		return
	}
	s.state = state
	s.qr = qr
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsReady reports whether the session can serve backend operations.
func (s *Session) IsReady() bool {
	return s.State() == StateReady
}

// CurrentQR returns the pending pairing artifact, or "" outside AwaitingQR.
func (s *Session) CurrentQR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// TenantID returns the tenant this session belongs to.
func (s *Session) TenantID() string {
	return s.tenantID
}

// Adapter exposes the underlying connection for backend operations. Callers
// must gate ready-only operations on IsReady themselves.
func (s *Session) Adapter() adapter.Adapter {
	return s.adapter
}

// destroy marks the session dead and closes the adapter. Idempotent.
func (s *Session) destroy() {
	s.mu.Lock()
	already := s.state == StateDestroyed
	s.state = StateDestroyed
	s.qr = ""
	s.mu.Unlock()
	if already {
		return
	}
	s.cancel()
	if err := s.adapter.Close(); err != nil {
		s.logger.Warn("adapter close failed", "error", err)
	}
	<-s.loopDone
	s.seen.Close()
}
