// ABOUTME: Gateway orchestrator that wires store, registry, answer model and HTTP server
// ABOUTME: Manages listeners (TCP or tailscale), health endpoints and graceful shutdown

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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/handoff-gateway/internal/answer"
	"github.com/2389/handoff-gateway/internal/auth"
	"github.com/2389/handoff-gateway/internal/config"
	"github.com/2389/handoff-gateway/internal/conversation"
	"github.com/2389/handoff-gateway/internal/dedupe"
	"github.com/2389/handoff-gateway/internal/knowledge"
	"github.com/2389/handoff-gateway/internal/metrics"
	"github.com/2389/handoff-gateway/internal/registry"
	"github.com/2389/handoff-gateway/internal/store"
)

// knowledgeConnectTimeout bounds the startup ping of the knowledge database.
const knowledgeConnectTimeout = 10 * time.Second

// Retried POST /api/v1/qa requests carrying the same Idempotency-Key within
// idempotencyTTL are refused.
const (
	idempotencyTTL     = 10 * time.Minute
	idempotencyMaxKeys = 10000
)

// Gateway owns the HTTP server and every component behind it.
type Gateway struct {
	config       *config.Config
	store        store.Store
	registry     *registry.Registry
	conversation *conversation.Service
	auth         *auth.Authenticator
	knowledge    *pgxpool.Pool
	embeddings   EmbeddingUsage
	idempotency  *dedupe.Window
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// serverID identifies this gateway instance
	serverID string

	// draining is set once shutdown starts; readiness reports 503 after that
	draining atomic.Bool
}

// EmbeddingUsage reports the tokens spent embedding the knowledge base.
type EmbeddingUsage interface {
	EmbeddingTokens(ctx context.Context) (int64, error)
}

// Options replaces components New would otherwise build from config.
type Options struct {
	Store          store.Store
	Generator      answer.Generator
	EmbeddingUsage EmbeddingUsage
}

// initStore creates and returns a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("HANDOFF_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initKnowledge connects to the knowledge base. Failure is logged and the
// bot answers without retrieved context.
func initKnowledge(cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, answer.Retriever) {
	if cfg.Knowledge.DatabaseURL == "" {
		logger.Info("knowledge base disabled")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), knowledgeConnectTimeout)
	defer cancel()

	pool, err := knowledge.Connect(ctx, cfg.Knowledge.DatabaseURL)
	if err != nil {
		logger.Warn("knowledge base unavailable, answering without retrieval", "error", err)
		return nil, nil
	}
	return pool, knowledge.NewPGRetriever(pool, logger)
}

// newAuthenticator enables token checks when a JWT secret is configured.
func newAuthenticator(cfg *config.Config, logger *slog.Logger) *auth.Authenticator {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, channels and operator API are unauthenticated")
		return auth.NewAuthenticator(nil)
	}
	return auth.NewAuthenticator(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)))
}

// New creates a Gateway from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, Options{}, logger)
}

// NewWithOptions creates a Gateway, using any components set in opts in
// place of the configured ones.
func NewWithOptions(cfg *config.Config, opts Options, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := opts.Store
	if s == nil {
		var err error
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	reg := registry.New(logger)

	var pool *pgxpool.Pool
	generator := opts.Generator
	if generator == nil {
		var retriever answer.Retriever
		pool, retriever = initKnowledge(cfg, logger)
		generator = answer.NewOpenAIGenerator(answer.OpenAIConfig{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.Model,
			EmbeddingModel: cfg.OpenAI.EmbeddingModel,
			TopK:           cfg.Knowledge.TopK,
			Timeout:        cfg.OpenAI.Timeout,
		}, s, retriever, logger)
	}

	embeddings := opts.EmbeddingUsage
	if embeddings == nil && pool != nil {
		embeddings = knowledge.NewPGRetriever(pool, logger)
	}

	convService := conversation.New(conversation.Config{
		EscalationThreshold: cfg.Escalation.Threshold,
	}, s, reg, generator, logger)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		registry:     reg,
		conversation: convService,
		auth:         newAuthenticator(cfg, logger),
		knowledge:    pool,
		embeddings:   embeddings,
		idempotency:  dedupe.New(idempotencyTTL, idempotencyMaxKeys),
		logger:       logger.With("component", "gateway"),
		serverID:     uuid.New().String(),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway initialized",
		"server_id", gw.serverID,
		"escalation_threshold", convService.Threshold(),
		"auth", gw.auth.Enabled(),
		"knowledge", pool != nil,
	)
	return gw, nil
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Channels authenticate during the handshake
	mux.HandleFunc("GET /ws/user/{sess_id}", g.handleUserChannel)
	mux.HandleFunc("GET /ws/agent/{agent_id}", g.handleAgentChannel)

	operatorOnly := g.auth.RequireKind(auth.KindAgent)
	mux.Handle("GET /api/v1/support-alerts", operatorOnly(http.HandlerFunc(g.handleSupportAlerts)))
	mux.Handle("GET /api/v1/conversations/{sess_id}/turns", operatorOnly(http.HandlerFunc(g.handleConversationTurns)))
	mux.Handle("GET /api/v1/chat/summary", operatorOnly(http.HandlerFunc(g.handleChatSummary)))
	mux.Handle("GET /api/v1/dashboard", operatorOnly(http.HandlerFunc(g.handleDashboard)))
	mux.Handle("POST /api/v1/qa", g.auth.RequireKind(auth.KindUser)(http.HandlerFunc(g.handleQA)))

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, metrics.Handler())
	}

	return mux
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Registry returns the live channel registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("server error", "error", err)
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled by the time this is called.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
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
	return filepath.Join(homeDir, ".local", "share", "handoff-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
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

// setupTailscaleListener joins the tailnet and listens on port 80 there.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
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

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, closes every live channel and releases
// the store and knowledge pool.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.draining.Store(true)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if n := g.registry.CloseAll("server shutting down"); n > 0 {
		g.logger.Info("closed live channels", "count", n)
	}

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.knowledge != nil {
		g.knowledge.Close()
	}
	g.idempotency.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users, %d agents)",
		g.registry.Count(registry.KindUser),
		g.registry.Count(registry.KindAgent),
	)
}
