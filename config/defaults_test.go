package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, SandboxConfig{}, cfg.Sandbox)
	assert.NotEqual(t, ToolsConfig{}, cfg.Tools)
	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
}

// --- Individual Default*Config functions ---

func TestDefaultSandboxConfig(t *testing.T) {
	cfg := DefaultSandboxConfig()
	assert.Equal(t, 30_000, cfg.TimeoutMs)
	assert.Equal(t, int64(10_000_000), cfg.MemoryBytes)
	assert.Equal(t, 4_000, cfg.MaxScriptTokens)
}

func TestDefaultToolsConfig(t *testing.T) {
	cfg := DefaultToolsConfig()
	assert.Empty(t, cfg.AllowedHosts)
	assert.NotEmpty(t, cfg.EssentialJSONKeys)
	assert.Equal(t, 5_000, cfg.HTTPTimeoutMs)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.True(t, cfg.EnableDocs)
	assert.Equal(t, 64, cfg.MaxConcurrentExecutions)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "SCRIPTEXEC_JWT_KEY", cfg.JWT.SigningKeyEnv)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "scriptexec", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
