// ABOUTME: Tenant-to-session registry with single-flight creation
// ABOUTME: Owns session lifetime, credential directories and teardown

package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/warelay/warelay/internal/adapter"
)

// RegistryConfig wires a Registry's collaborators.
type RegistryConfig struct {
	Connector adapter.Connector
	Sink      MessageSink
	// CredentialRoot is the directory under which each tenant gets a
	// credential subdirectory.
	CredentialRoot string
	// LogoutTimeout bounds the graceful logout attempt during Remove.
	LogoutTimeout time.Duration
	Logger        *slog.Logger
}

// Registry maps tenant IDs to live sessions. Creation is single-flighted
// per tenant so concurrent callers share one connection attempt; at most
// one adapter connection ever exists per tenant.
type Registry struct {
	connector      adapter.Connector
	sink           MessageSink
	credentialRoot string
	logoutTimeout  time.Duration
	logger         *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	creating singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.LogoutTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{
		connector:      cfg.Connector,
		sink:           cfg.Sink,
		credentialRoot: cfg.CredentialRoot,
		logoutTimeout:  timeout,
		logger:         logger.With("component", "registry"),
		sessions:       make(map[string]*Session),
	}
}

// GetOrCreate returns the tenant's session, creating and starting one if
// none exists. The call returns once the session is registered; connection
// progress is observable through the session's state.
func (r *Registry) GetOrCreate(ctx context.Context, tenantID string) (*Session, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", adapter.ErrInvalidRequest)
	}

	r.mu.RLock()
	if s, ok := r.sessions[tenantID]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.creating.Do(tenantID, func() (any, error) {
		// Re-check under the flight: a racing caller may have finished
		// creation between the read above and this closure running.
		r.mu.RLock()
		if s, ok := r.sessions[tenantID]; ok {
			r.mu.RUnlock()
			return s, nil
		}
		r.mu.RUnlock()
		return r.create(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (r *Registry) create(ctx context.Context, tenantID string) (*Session, error) {
	credDir := r.credentialDir(tenantID)
	if err := os.MkdirAll(credDir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	a, err := r.connector.Connect(ctx, tenantID, credDir)
	if err != nil {
		return nil, fmt.Errorf("connect tenant %s: %w", tenantID, err)
	}

	s := newSession(tenantID, a, r.sink, r.logger)
	if err := s.start(); err != nil {
		s.destroy()
		return nil, fmt.Errorf("start session %s: %w", tenantID, err)
	}

	r.mu.Lock()
	r.sessions[tenantID] = s
	r.mu.Unlock()

	r.logger.Info("session created", "tenant", tenantID)
	return s, nil
}

// Get returns the tenant's session without creating one.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

// Remove logs the tenant out, destroys its session and wipes the tenant's
// credential directory. Logout failures degrade to a hard destroy; the
// registry entry and credentials are removed regardless.
func (r *Registry) Remove(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	delete(r.sessions, tenantID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no session for tenant %s", adapter.ErrNotFound, tenantID)
	}

	logoutCtx, cancel := context.WithTimeout(ctx, r.logoutTimeout)
	defer cancel()
	if err := s.Adapter().Logout(logoutCtx); err != nil {
		r.logger.Warn("graceful logout failed, destroying session", "tenant", tenantID, "error", err)
	}
	s.destroy()

	if err := os.RemoveAll(r.credentialDir(tenantID)); err != nil {
		r.logger.Warn("credential wipe failed", "tenant", tenantID, "error", err)
	}

	r.logger.Info("session removed", "tenant", tenantID)
	return nil
}

// Tenants lists tenants with a live session.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		out = append(out, t)
	}
	return out
}

// Close destroys every session without logging tenants out, for shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.destroy()
	}
}

func (r *Registry) credentialDir(tenantID string) string {
	return filepath.Join(r.credentialRoot, tenantID)
}
