// ABOUTME: Configuration loading and parsing for market-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete market-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Market    MarketConfig    `yaml:"market"`
	Cache     CacheConfig     `yaml:"cache"`
	Agent     AgentConfig     `yaml:"agent"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration. GRPCAddr is optional and only
// serves the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// MarketConfig selects the simulated market data seed
type MarketConfig struct {
	Seed uint64 `yaml:"seed"`
}

// CacheConfig holds session result cache configuration. An empty backend disables
// the cache entirely.
type CacheConfig struct {
	Backend     string        `yaml:"backend"`
	Path        string        `yaml:"path"`
	RedisURL    string        `yaml:"redis_url"`
	RedisPrefix string        `yaml:"redis_prefix"`
	MaxEntries  int           `yaml:"max_entries"`
	TTL         time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// AgentConfig holds the model provider used by the dispatch loop. The loop is
// disabled when BaseURL is empty.
type AgentConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	MaxSteps     int           `yaml:"max_steps"`
	MaxParallel  int           `yaml:"max_parallel"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// BridgeConfig holds the WhatsApp webhook bridge configuration
type BridgeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	VerifyToken   string `yaml:"verify_token"`
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIBaseURL    string `yaml:"api_base_url"`
	MaxReplyBytes int    `yaml:"max_reply_bytes"`
	// Remote routes bridge calls through the JSON-RPC endpoint instead of the executor
	Remote bool `yaml:"remote"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location.
// Priority: MARKET_GATEWAY_CONFIG > $XDG_CONFIG_HOME/market-gateway/gateway.yaml > ~/.config/market-gateway/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("MARKET_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "market-gateway", "gateway.yaml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Cache.Backend == "sqlite" && c.Cache.Path == "" {
		c.Cache.Path = "market-gateway.db"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 2 * time.Minute
	}
	if c.Bridge.APIBaseURL == "" {
		c.Bridge.APIBaseURL = "https://graph.facebook.com/v21.0"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Cache.Backend {
	case "", "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for the sqlite backend")
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not one of memory, sqlite, redis", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.Agent.BaseURL != "" {
		u, err := url.Parse(c.Agent.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("agent.base_url must be an http or https URL")
		}
		if c.Agent.Model == "" {
			return fmt.Errorf("agent.model is required when agent.base_url is set")
		}
	}
	if c.Agent.MaxSteps < 0 || c.Agent.MaxParallel < 0 {
		return fmt.Errorf("agent.max_steps and agent.max_parallel must not be negative")
	}

	if c.Bridge.Enabled {
		if c.Bridge.VerifyToken == "" {
			return fmt.Errorf("bridge.verify_token is required when the bridge is enabled")
		}
		if c.Bridge.AccessToken == "" || c.Bridge.PhoneNumberID == "" {
			return fmt.Errorf("bridge.access_token and bridge.phone_number_id are required when the bridge is enabled")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	return nil
}

// Example is the annotated config written by `market-gateway init`.
const Example = `# market-gateway configuration

server:
  http_addr: "127.0.0.1:8080"
  # grpc_addr: "127.0.0.1:50051"   # optional gRPC health service

tailscale:
  enabled: false
  hostname: "market-gateway"
  auth_key: "${TS_AUTHKEY}"

market:
  seed: 42

cache:
  backend: "memory"   # memory | sqlite | redis, empty disables caching
  # path: "market-gateway.db"
  # redis_url: "redis://localhost:6379/0"
  ttl: "1h"

agent:
  # base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o-mini"
  max_steps: 15
  max_parallel: 4
  timeout: "2m"

bridge:
  enabled: false
  verify_token: "${WHATSAPP_VERIFY_TOKEN}"
  access_token: "${WHATSAPP_ACCESS_TOKEN}"
  phone_number_id: "${WHATSAPP_PHONE_NUMBER_ID}"
  max_reply_bytes: 4000

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`
