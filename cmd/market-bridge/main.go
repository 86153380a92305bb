// ABOUTME: Entry point for market-bridge
// ABOUTME: Connects Matrix rooms and a WhatsApp webhook to the market tools

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/market-gateway/internal/bridge"
	"github.com/2389/market-gateway/internal/finance"
	"github.com/2389/market-gateway/internal/session"
	"github.com/2389/market-gateway/internal/tools"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │         market-bridge            │
    │   chat rooms ⇄ market tools      │
    │                                  │
    ╰──────────────────────────────────╯
`

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "init" {
		err = runInit(os.Args[2:])
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	if cfg.Gateway.Mode == ModeInProcess {
		fmt.Printf("Tools:      in-process (seed %d)\n", cfg.Gateway.Seed)
	} else {
		fmt.Printf("Gateway:    %s\n", cfg.Gateway.URL)
	}
	if cfg.MatrixEnabled() {
		green.Print("    ▶ ")
		fmt.Printf("Matrix:     %s\n", cfg.Matrix.Homeserver)
	}
	if cfg.Webhook.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("WhatsApp:   %s\n", cfg.Webhook.ListenAddr)
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	invoker, err := buildInvoker(cfg, logger)
	if err != nil {
		return err
	}

	dedupe := session.NewMemory()
	defer dedupe.Close()

	bridgeCfg := bridge.Config{
		Invoker: invoker,
		Dedupe:  dedupe,
		Logger:  logger,
	}
	if cfg.Bridge.MaxReplyBytes > 0 {
		bridgeCfg.Formatter = bridge.NewFormatter(cfg.Bridge.MaxReplyBytes)
	}
	if cfg.Webhook.Enabled {
		sender, err := bridge.NewWhatsAppSender(bridge.WhatsAppConfig{
			APIBaseURL:    cfg.Webhook.APIBaseURL,
			AccessToken:   cfg.Webhook.AccessToken,
			PhoneNumberID: cfg.Webhook.PhoneNumberID,
		})
		if err != nil {
			return fmt.Errorf("creating whatsapp sender: %w", err)
		}
		bridgeCfg.Sender = sender
	}
	b, err := bridge.New(bridgeCfg)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MatrixEnabled() {
		channel, err := NewMatrixChannel(cfg.Matrix, cfg.Bridge, b, logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return channel.Run(ctx) })
	}

	if cfg.Webhook.Enabled {
		g.Go(func() error { return serveWebhook(ctx, cfg.Webhook, b, logger) })
	}

	logger.Info("market-bridge running", "mode", cfg.Gateway.Mode)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("market-bridge stopped")
	return nil
}

// buildInvoker returns the tool invoker for the configured mode.
func buildInvoker(cfg *Config, logger *slog.Logger) (bridge.Invoker, error) {
	if cfg.Gateway.Mode == ModeRemote {
		return bridge.NewRemote(cfg.Gateway.URL, nil), nil
	}

	registry := tools.NewRegistry(logger)
	finance.NewService(finance.NewSimulatedMarket(cfg.Gateway.Seed), logger).Register(registry)
	if registry.Len() == 0 {
		return nil, errors.New("no tools registered")
	}
	return bridge.NewInProcess(tools.NewExecutor(registry, logger)), nil
}

func serveWebhook(ctx context.Context, cfg WebhookConfig, b *bridge.Bridge, logger *slog.Logger) error {
	webhook := bridge.NewWebhook(b, cfg.VerifyToken, logger)
	mux := http.NewServeMux()
	webhook.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		webhook.Close()
		if ok {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	webhook.Close()
	return err
}

func runInit(args []string) error {
	path := getConfigPath()
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", path)
	return nil
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
