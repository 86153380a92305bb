// ABOUTME: Tests for market-bridge config parsing and validation

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExampleConfig(t *testing.T) {
	t.Setenv("MATRIX_ACCESS_TOKEN", "syt_abc")

	cfg, err := Parse(exampleConfig)
	require.NoError(t, err)

	assert.Equal(t, ModeRemote, cfg.Gateway.Mode)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Gateway.URL)
	assert.Equal(t, uint64(42), cfg.Gateway.Seed)
	assert.True(t, cfg.MatrixEnabled())
	assert.Equal(t, "syt_abc", cfg.Matrix.AccessToken)
	assert.Equal(t, "!mkt", cfg.Bridge.CommandPrefix)
	assert.Equal(t, 4000, cfg.Bridge.MaxReplyBytes)
	assert.False(t, cfg.Webhook.Enabled)
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(`
[gateway]
mode = "in-process"

[webhook]
enabled = true
verify_token = "v"
access_token = "a"
phone_number_id = "123"
`)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8090", cfg.Webhook.ListenAddr)
	assert.False(t, cfg.MatrixEnabled())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{
			name:    "missing url in remote mode",
			toml:    "[matrix]\nhomeserver = \"https://m.org\"\nuser_id = \"@a:m.org\"\naccess_token = \"t\"\n",
			wantErr: "gateway.url is required",
		},
		{
			name:    "bad scheme",
			toml:    "[gateway]\nurl = \"ftp://x\"\n[matrix]\nhomeserver = \"https://m.org\"\nuser_id = \"@a:m.org\"\naccess_token = \"t\"\n",
			wantErr: "http or https",
		},
		{
			name:    "unknown mode",
			toml:    "[gateway]\nmode = \"carrier-pigeon\"\n",
			wantErr: "gateway.mode must be",
		},
		{
			name:    "no channels",
			toml:    "[gateway]\nmode = \"in-process\"\n",
			wantErr: "nothing to bridge",
		},
		{
			name:    "webhook without tokens",
			toml:    "[gateway]\nmode = \"in-process\"\n[webhook]\nenabled = true\nverify_token = \"v\"\n",
			wantErr: "phone_number_id are required",
		},
		{
			name:    "matrix without credentials",
			toml:    "[gateway]\nmode = \"in-process\"\n[matrix]\nhomeserver = \"https://m.org\"\nuser_id = \"@a:m.org\"\n",
			wantErr: "matrix needs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.toml)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPasswordLoginIsAccepted(t *testing.T) {
	cfg, err := Parse(`
[gateway]
mode = "in-process"

[matrix]
homeserver = "https://m.org"
username = "markets"
password = "hunter2"
`)
	require.NoError(t, err)
	assert.Empty(t, cfg.Matrix.AccessToken)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("MARKET_BRIDGE_CONFIG", "/etc/bridge.toml")
	assert.Equal(t, "/etc/bridge.toml", getConfigPath())

	t.Setenv("MARKET_BRIDGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "market-gateway", "bridge.toml"), getConfigPath())
}

func TestRunInitWritesExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bridge.toml")
	require.NoError(t, runInit([]string{path}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, exampleConfig, string(data))

	assert.Error(t, runInit([]string{path}), "refuses to overwrite")
}

func TestBuildInvokerInProcess(t *testing.T) {
	cfg, err := Parse(`
[gateway]
mode = "in-process"
seed = 7

[matrix]
homeserver = "https://m.org"
username = "u"
password = "p"
`)
	require.NoError(t, err)

	invoker, err := buildInvoker(cfg, setupLogger("error"))
	require.NoError(t, err)

	result, err := invoker.Invoke(t.Context(), "echo", map[string]any{"message": "ping"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "Echo: ping", result.Text())
}
