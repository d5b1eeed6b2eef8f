// =============================================================================
// 📦 沙箱执行服务默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Sandbox:   DefaultSandboxConfig(),
		Tools:     DefaultToolsConfig(),
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultSandboxConfig 返回默认沙箱资源限制配置
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		TimeoutMs:       30_000,
		MemoryBytes:     10_000_000,
		MaxScriptTokens: 4_000,
	}
}

// DefaultToolsConfig 返回默认工具中介层配置
func DefaultToolsConfig() ToolsConfig {
	return ToolsConfig{
		AllowedHosts:      []string{},
		EssentialJSONKeys: []string{"id", "name", "url", "height", "weight", "base_experience"},
		HTTPTimeoutMs:     5_000,
		MaxRetries:        2,
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:              ":8080",
		EnableDocs:              true,
		MaxConcurrentExecutions: 64,
		ReadTimeout:             30 * time.Second,
		WriteTimeout:            30 * time.Second,
		ShutdownTimeout:         15 * time.Second,
		JWT: JWTConfig{
			SigningKeyEnv: "SCRIPTEXEC_JWT_KEY",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "scriptexec",
		SampleRate:   0.1,
	}
}
