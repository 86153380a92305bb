// ABOUTME: Entry point for market-gateway
// ABOUTME: Serves the tool catalog and offers client commands against a running gateway

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/market-gateway/internal/bridge"
	"github.com/2389/market-gateway/internal/config"
	"github.com/2389/market-gateway/internal/gateway"
	"github.com/2389/market-gateway/internal/jsonrpc"
	"github.com/2389/market-gateway/internal/mcp"
)

// Version is set at build time.
var version = "dev"

const banner = `
                       _        _                   _
  _ __ ___   __ _ _ __| | _____| |_      __ _  __ _| |_ _____      ____ _ _   _
 | '_ ' _ \ / _' | '__| |/ / _ \ __|____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | | (_| | |  |   <  __/ ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_| |_| |_|\__,_|_|  |_|\_\___|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                         |___/                             |___/
`

func usage() {
	fmt.Println("Usage: market-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                     Start the gateway server")
	fmt.Println("  init [path]               Write an example config file")
	fmt.Println("  health                    Check gateway readiness")
	fmt.Println("  tools                     List the tools a running gateway exposes")
	fmt.Println("  call <tool> [json-args]   Invoke a tool on a running gateway")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "tools":
		err = runTools(ctx)
	case "call":
		err = runCall(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	if cfg.Cache.Backend == "" {
		fmt.Print("Cache:     ")
		gray.Println("disabled")
	} else {
		fmt.Printf("Cache:     %s (ttl %s)\n", cfg.Cache.Backend, cfg.Cache.TTL)
	}
	green.Print("    ▶ ")
	if cfg.Agent.BaseURL == "" {
		fmt.Print("Agent:     ")
		yellow.Println("no provider, chat falls back to guidance")
	} else {
		fmt.Printf("Agent:     %s @ %s\n", cfg.Agent.Model, cfg.Agent.BaseURL)
	}
	if cfg.Bridge.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Bridge:    whatsapp (%s)\n", cfg.Bridge.PhoneNumberID)
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting market-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runInit(args []string) error {
	path := config.DefaultPath()
	if len(args) > 0 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil {
		reader := bufio.NewReader(os.Stdin)
		fmt.Printf("%s exists. Overwrite? [no]: ", path)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "yes" && answer != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Example), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", path)
	fmt.Println()
	fmt.Println("  Next:")
	fmt.Println("    market-gateway serve")
	return nil
}

// gatewayURL returns the base URL of the configured gateway.
// Priority: MARKET_GATEWAY_URL env > http://server.http_addr from config.
func gatewayURL() (string, error) {
	if env := os.Getenv("MARKET_GATEWAY_URL"); env != "" {
		return strings.TrimRight(env, "/"), nil
	}
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}

func runHealth(ctx context.Context) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

func runTools(ctx context.Context) error {
	base, err := gatewayURL()
	if err != nil {
		return err
	}

	rpcReq, err := jsonrpc.NewRequest(jsonrpc.StringID("cli-tools"), jsonrpc.MethodToolsList, nil)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rpcReq)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/mcp", strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	defer resp.Body.Close()

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(rpcResp.Result, &list); err != nil {
		return fmt.Errorf("decoding tools: %w", err)
	}

	cyan := color.New(color.FgCyan)
	for _, d := range list.Tools {
		cyan.Printf("  %-24s", d.Name)
		fmt.Println(d.Description)
	}
	return nil
}

func runCall(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: market-gateway call <tool> [json-args]")
	}
	base, err := gatewayURL()
	if err != nil {
		return err
	}

	arguments := map[string]any{}
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &arguments); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	result, err := bridge.NewRemote(base, nil).Invoke(ctx, args[0], arguments)
	if err != nil {
		return err
	}
	if result.IsError {
		return fmt.Errorf("%s reported a failure: %s", args[0], result.Text())
	}
	fmt.Println(result.Text())
	return nil
}
