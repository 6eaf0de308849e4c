// ABOUTME: Gateway orchestrator wiring sessions, relay, media and HTTP
// ABOUTME: Manages listeners (TCP or Tailscale), startup and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/warelay/warelay/internal/adapter"
	"github.com/warelay/warelay/internal/auth"
	"github.com/warelay/warelay/internal/config"
	"github.com/warelay/warelay/internal/enrich"
	"github.com/warelay/warelay/internal/media"
	"github.com/warelay/warelay/internal/relay"
	"github.com/warelay/warelay/internal/session"
	"github.com/warelay/warelay/internal/wameow"
)

const amqpDialRetries = 5

// Gateway orchestrates the warelay server components: the session registry,
// the event relay, the enrichment pipeline, the media cache and the HTTP API.
type Gateway struct {
	config      *config.Config
	registry    *session.Registry
	relay       *relay.Relay
	enrich      *enrich.Pipeline
	media       *media.Cache
	amqpSink    *relay.AMQPSink
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Options override collaborators for testing. Zero value uses production wiring.
type Options struct {
	// Connector overrides the backend connector.
	Connector adapter.Connector
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions creates a Gateway, letting tests swap the backend connector.
func NewWithOptions(cfg *config.Config, logger *slog.Logger, opts Options) (*Gateway, error) {
	mediaCache, err := media.NewCache(cfg.Storage.MediaDBPath, cfg.Storage.MediaBlobDir, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing media cache: %w", err)
	}

	var amqpSink *relay.AMQPSink
	var egress relay.EgressSink
	if cfg.Relay.AMQPEnabled {
		amqpSink, err = relay.DialAMQP(cfg.Relay.AMQPURL, cfg.Relay.Exchange, amqpDialRetries, logger)
		if err != nil {
			mediaCache.Close()
			return nil, fmt.Errorf("connecting relay egress: %w", err)
		}
		egress = amqpSink
	}

	eventRelay := relay.New(egress, logger)

	connector := opts.Connector
	if connector == nil {
		connector = wameow.NewConnector(logger)
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Connector:      connector,
		Sink:           eventRelay,
		CredentialRoot: cfg.Storage.CredentialDir,
		LogoutTimeout:  cfg.Sessions.LogoutTimeout,
		Logger:         logger,
	})

	pipeline := enrich.NewPipeline(cfg.Sessions.EnrichmentBatchSize, cfg.Sessions.PictureTimeout, logger)

	g := &Gateway{
		config:   cfg,
		registry: registry,
		relay:    eventRelay,
		enrich:   pipeline,
		media:    mediaCache,
		amqpSink: amqpSink,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	g.registerAPIRoutes(mux, cfg, logger)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerAPIRoutes mounts the session API, wrapped in auth middleware when a
// JWT secret is configured.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	api := http.NewServeMux()
	api.HandleFunc("GET /sessions/{tenant}/login", g.handleLogin)
	api.HandleFunc("DELETE /sessions/{tenant}", g.handleRemoveSession)
	api.HandleFunc("GET /sessions/{tenant}/conversations", g.handleConversations)
	api.HandleFunc("GET /sessions/{tenant}/messages/{chatID}", g.handleGetMessages)
	api.HandleFunc("POST /sessions/{tenant}/messages/{chatID}", g.handleSendMessage)
	api.HandleFunc("POST /sessions/{tenant}/messages/{chatID}/media", g.handleSendMedia)
	api.HandleFunc("GET /sessions/{tenant}/messages/{messageID}/media", g.handleGetMedia)
	api.HandleFunc("GET /sessions/{tenant}/events", g.handleEvents)

	if cfg.Auth.JWTSecret != "" {
		verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		mux.Handle("/sessions/", auth.HTTPAuthMiddleware(verifier)(api))
		logger.Info("HTTP auth middleware enabled")
		return
	}
	mux.Handle("/sessions/", api)
	logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// Handler exposes the HTTP handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "warelay", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.registry.Close()
	g.relay.Close()

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.amqpSink != nil {
		errs = appendCloseError(errs, "amqp close", g.amqpSink.Close())
	}
	errs = appendCloseError(errs, "media cache close", g.media.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
