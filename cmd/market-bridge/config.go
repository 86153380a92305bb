// ABOUTME: Configuration loading for market-bridge
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Gateway invocation modes.
const (
	ModeRemote    = "remote"
	ModeInProcess = "in-process"
)

type Config struct {
	Gateway GatewayConfig `toml:"gateway"`
	Webhook WebhookConfig `toml:"webhook"`
	Matrix  MatrixConfig  `toml:"matrix"`
	Bridge  BridgeConfig  `toml:"bridge"`
	Logging LoggingConfig `toml:"logging"`
}

type GatewayConfig struct {
	URL  string `toml:"url"`
	Mode string `toml:"mode"`
	// Seed feeds the simulated market in in-process mode
	Seed uint64 `toml:"seed"`
}

type WebhookConfig struct {
	Enabled       bool   `toml:"enabled"`
	ListenAddr    string `toml:"listen_addr"`
	VerifyToken   string `toml:"verify_token"`
	AccessToken   string `toml:"access_token"`
	PhoneNumberID string `toml:"phone_number_id"`
	APIBaseURL    string `toml:"api_base_url"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

type BridgeConfig struct {
	AllowedRooms    []string `toml:"allowed_rooms"`
	CommandPrefix   string   `toml:"command_prefix"`
	TypingIndicator bool     `toml:"typing_indicator"`
	MaxReplyBytes   int      `toml:"max_reply_bytes"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// MatrixEnabled reports whether a Matrix homeserver is configured.
func (c *Config) MatrixEnabled() bool {
	return c.Matrix.Homeserver != ""
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML content, applies defaults, and validates.
func Parse(data string) (*Config, error) {
	expanded := expandEnvVars(data)

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = ModeRemote
	}
	if cfg.Webhook.ListenAddr == "" {
		cfg.Webhook.ListenAddr = "127.0.0.1:8090"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	switch c.Gateway.Mode {
	case ModeRemote:
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url is required in remote mode")
		}
		u, err := url.Parse(c.Gateway.URL)
		if err != nil {
			return fmt.Errorf("gateway.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("gateway.url must use http or https scheme")
		}
	case ModeInProcess:
	default:
		return fmt.Errorf("gateway.mode must be %q or %q", ModeRemote, ModeInProcess)
	}

	if !c.Webhook.Enabled && !c.MatrixEnabled() {
		return fmt.Errorf("nothing to bridge: enable [webhook] or configure [matrix]")
	}

	if c.Webhook.Enabled {
		if c.Webhook.VerifyToken == "" {
			return fmt.Errorf("webhook.verify_token is required")
		}
		if c.Webhook.AccessToken == "" || c.Webhook.PhoneNumberID == "" {
			return fmt.Errorf("webhook.access_token and webhook.phone_number_id are required")
		}
	}

	if c.MatrixEnabled() {
		if _, err := url.Parse(c.Matrix.Homeserver); err != nil {
			return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
		}
		hasToken := c.Matrix.AccessToken != "" && c.Matrix.UserID != ""
		hasPassword := c.Matrix.Username != "" && c.Matrix.Password != ""
		if !hasToken && !hasPassword {
			return fmt.Errorf("matrix needs user_id and access_token, or username and password")
		}
	}
	return nil
}

// getConfigPath returns the path to the bridge config file.
// Priority: MARKET_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/market-gateway/bridge.toml > ~/.config/market-gateway/bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("MARKET_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "market-gateway", "bridge.toml")
}

const exampleConfig = `# market-bridge configuration

[gateway]
url = "http://127.0.0.1:8080"
mode = "remote"          # or "in-process" to run the tools inside the bridge
seed = 42

[webhook]
enabled = false
listen_addr = "127.0.0.1:8090"
verify_token = "${WHATSAPP_VERIFY_TOKEN}"
access_token = "${WHATSAPP_ACCESS_TOKEN}"
phone_number_id = "${WHATSAPP_PHONE_NUMBER_ID}"

[matrix]
homeserver = "https://matrix.org"
user_id = "@markets:matrix.org"
access_token = "${MATRIX_ACCESS_TOKEN}"

[bridge]
allowed_rooms = []
command_prefix = "!mkt"
typing_indicator = true
max_reply_bytes = 4000

[logging]
level = "info"
`
