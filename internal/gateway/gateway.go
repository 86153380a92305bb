// ABOUTME: Gateway orchestrator that wires the tool catalog to every transport binding
// ABOUTME: Owns the HTTP server, optional gRPC health server, cache, and shutdown lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/market-gateway/internal/agent"
	"github.com/2389/market-gateway/internal/bridge"
	"github.com/2389/market-gateway/internal/config"
	"github.com/2389/market-gateway/internal/finance"
	"github.com/2389/market-gateway/internal/mcp"
	"github.com/2389/market-gateway/internal/metrics"
	"github.com/2389/market-gateway/internal/session"
	"github.com/2389/market-gateway/internal/tools"
)

// Gateway owns the registry, the bindings built on it, and the servers exposing them.
type Gateway struct {
	config   *config.Config
	registry *tools.Registry
	executor *tools.Executor
	finance  *finance.Service
	cache    *session.Cache
	metrics  *metrics.Metrics
	loop     *agent.Loop
	webhook  *bridge.Webhook
	logger   *slog.Logger

	mux         *http.ServeMux
	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	// serverID identifies this gateway instance
	serverID string

	// mcpEndpoint is the base URL of the synchronous binding, used by the remote bridge invoker
	mcpEndpoint string
}

// Option customizes collaborators, mainly for tests.
type Option func(*options)

type options struct {
	market   finance.MarketData
	provider agent.Provider
	sender   bridge.Sender
}

// WithMarket replaces the simulated market backend.
func WithMarket(m finance.MarketData) Option {
	return func(o *options) { o.market = m }
}

// WithProvider supplies the model provider instead of building one from agent config.
func WithProvider(p agent.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithSender replaces the WhatsApp sender used by the bridge.
func WithSender(s bridge.Sender) Option {
	return func(o *options) { o.sender = s }
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.market == nil {
		o.market = finance.NewSimulatedMarket(cfg.Market.Seed)
	}

	gw := &Gateway{
		config:   cfg,
		logger:   logger.With("component", "gateway"),
		mux:      http.NewServeMux(),
		serverID: "market-gateway-" + uuid.NewString()[:8],
	}
	gw.mcpEndpoint = determineMCPEndpoint(cfg)

	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New(true)
	}

	gw.registry = tools.NewRegistry(logger)
	gw.finance = finance.NewService(o.market, logger)
	gw.finance.Register(gw.registry)

	var execOpts []tools.ExecutorOption
	if gw.metrics != nil {
		execOpts = append(execOpts, tools.WithRecorder(gw.metrics))
	}
	gw.executor = tools.NewExecutor(gw.registry, logger, execOpts...)

	if err := gw.initCache(); err != nil {
		return nil, err
	}
	if err := gw.initAgent(o.provider); err != nil {
		gw.closeCache()
		return nil, err
	}
	if err := gw.initMCP(); err != nil {
		gw.closeCache()
		return nil, err
	}
	if err := gw.initBridge(o.sender); err != nil {
		gw.closeCache()
		return nil, err
	}

	gw.mux.HandleFunc("GET /health", gw.handleHealth)
	gw.mux.HandleFunc("GET /health/ready", gw.handleReady)
	if gw.metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		gw.mux.Handle("GET "+path, gw.metrics.Handler())
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
	}

	gw.logger.Info("gateway assembled",
		"server_id", gw.serverID,
		"tools", gw.registry.Len(),
		"cache", cfg.Cache.Backend,
		"agent", gw.loop != nil,
		"bridge", gw.webhook != nil,
	)
	return gw, nil
}

// initCache opens the session cache. An empty backend leaves caching disabled.
func (g *Gateway) initCache() error {
	if g.config.Cache.Backend == "" {
		return nil
	}
	store, err := session.Open(session.Options{
		Backend:     g.config.Cache.Backend,
		Path:        g.config.Cache.Path,
		RedisURL:    g.config.Cache.RedisURL,
		RedisPrefix: g.config.Cache.RedisPrefix,
		MaxEntries:  g.config.Cache.MaxEntries,
	}, g.logger)
	if err != nil {
		return fmt.Errorf("opening session cache: %w", err)
	}
	g.cache = session.NewCache(store, g.config.Cache.TTL, g.logger)
	return nil
}

// initAgent builds the dispatch loop when a provider is available and points the
// chat tool at it.
func (g *Gateway) initAgent(provider agent.Provider) error {
	cfg := g.config.Agent
	if provider == nil && cfg.BaseURL == "" {
		g.mux.HandleFunc("POST /api/chat", agent.Unavailable)
		return nil
	}
	if provider == nil {
		p, err := agent.NewOpenAI(agent.OpenAIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return fmt.Errorf("creating model provider: %w", err)
		}
		provider = p
	}

	loopCfg := agent.Config{
		Provider:     provider,
		Executor:     g.executor,
		MaxSteps:     cfg.MaxSteps,
		MaxParallel:  cfg.MaxParallel,
		SystemPrompt: cfg.SystemPrompt,
		Exclude:      []string{finance.Chat.String()},
		Logger:       g.logger,
	}
	if g.metrics != nil {
		loopCfg.Recorder = g.metrics
	}
	loop, err := agent.New(loopCfg)
	if err != nil {
		return fmt.Errorf("creating agent loop: %w", err)
	}
	g.loop = loop
	g.finance.SetChat(loop.Chat)
	agent.NewHandler(loop, g.logger).RegisterRoutes(g.mux)
	return nil
}

func (g *Gateway) initMCP() error {
	mcpCfg := mcp.Config{
		Executor: g.executor,
		Cache:    g.cache,
		Logger:   g.logger,
	}
	if g.metrics != nil {
		mcpCfg.Recorder = g.metrics
	}
	server, err := mcp.NewServer(mcpCfg)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	server.RegisterRoutes(g.mux)
	return nil
}

func (g *Gateway) initBridge(sender bridge.Sender) error {
	cfg := g.config.Bridge
	if !cfg.Enabled {
		return nil
	}

	if sender == nil {
		s, err := bridge.NewWhatsAppSender(bridge.WhatsAppConfig{
			APIBaseURL:    cfg.APIBaseURL,
			AccessToken:   cfg.AccessToken,
			PhoneNumberID: cfg.PhoneNumberID,
		})
		if err != nil {
			return fmt.Errorf("creating whatsapp sender: %w", err)
		}
		sender = s
	}

	var invoker bridge.Invoker = bridge.NewInProcess(g.executor)
	if cfg.Remote {
		invoker = bridge.NewRemote(g.mcpEndpoint, nil)
	}

	bridgeCfg := bridge.Config{
		Invoker:   invoker,
		Formatter: bridge.NewFormatter(cfg.MaxReplyBytes),
		Sender:    sender,
		Logger:    g.logger,
	}
	if g.cache != nil {
		bridgeCfg.Dedupe = g.cache.Store()
	}
	b, err := bridge.New(bridgeCfg)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	g.webhook = bridge.NewWebhook(b, cfg.VerifyToken, g.logger)
	g.webhook.RegisterRoutes(g.mux)
	return nil
}

// determineMCPEndpoint resolves the synchronous endpoint URL.
// Priority: MARKET_GATEWAY_URL env > tailscale hostname > server.http_addr.
func determineMCPEndpoint(cfg *config.Config) string {
	if envURL := os.Getenv("MARKET_GATEWAY_URL"); envURL != "" {
		return envURL + "/mcp"
	}
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname + "/mcp"
	}
	return "http://" + cfg.Server.HTTPAddr + "/mcp"
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Registry returns the tool registry.
func (g *Gateway) Registry() *tools.Registry {
	return g.registry
}

// Executor returns the tool executor.
func (g *Gateway) Executor() *tools.Executor {
	return g.executor
}

// ServerID returns the identifier of this gateway instance.
func (g *Gateway) ServerID() string {
	return g.serverID
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if configured, gRPC.
func (g *Gateway) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"grpc_addr", g.config.Server.GRPCAddr,
	)

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if g.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	return httpLn, grpcLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts the servers in goroutines, returning an error channel.
func (g *Gateway) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	httpListener, grpcListener, err := g.setupListeners(ctx)
	if err != nil {
		g.closeCache()
		return err
	}

	errCh := g.startServers(httpListener, grpcListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context since the run context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	if g.grpcServer == nil {
		return
	}
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

func (g *Gateway) closeCache() {
	if g.cache != nil {
		if err := g.cache.Close(); err != nil {
			g.logger.Warn("closing session cache", "error", err)
		}
		g.cache = nil
	}
}

// Shutdown stops the servers, waits for in-flight bridge work, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.webhook != nil {
		g.webhook.Close()
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.cache != nil {
		errs = appendCloseError(errs, "cache close", g.cache.Close())
		g.cache = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when tools are registered and the cache, if any, answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	if g.cache != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.cache.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("session cache unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", n)
}
