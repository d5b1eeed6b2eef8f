// =============================================================================
// 📦 沙箱执行服务配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTSANDBOX").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是沙箱执行服务的完整配置结构
type Config struct {
	// Sandbox 脚本执行资源限制
	Sandbox SandboxConfig `yaml:"sandbox" env:"SANDBOX"`

	// Tools 工具中介层配置
	Tools ToolsConfig `yaml:"tools" env:"TOOLS"`

	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// SandboxConfig 控制单次脚本执行允许消耗的资源上限
type SandboxConfig struct {
	// TimeoutMs 单次执行的墙钟超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	// MemoryBytes 单次执行允许增长的堆内存上限（近似值，采样得出）
	MemoryBytes int64 `yaml:"memory_bytes" env:"MEMORY_BYTES"`
	// MaxScriptTokens 校验阶段对脚本源码长度的防御性上限（按 token 计）
	MaxScriptTokens int `yaml:"max_script_tokens" env:"MAX_SCRIPT_TOKENS"`
}

// ToolsConfig 控制脚本通过工具中介层可以触达的外部世界
type ToolsConfig struct {
	// AllowedHosts 脚本发起的 HTTP 请求允许访问的主机白名单
	AllowedHosts []string `yaml:"allowed_hosts" env:"ALLOWED_HOSTS"`
	// EssentialJSONKeys 响应精简策略保留的 JSON 字段名
	EssentialJSONKeys []string `yaml:"essential_json_keys" env:"ESSENTIAL_JSON_KEYS"`
	// HTTPTimeoutMs 工具发起的单次出站 HTTP 调用超时（毫秒）
	HTTPTimeoutMs int `yaml:"http_timeout_ms" env:"HTTP_TIMEOUT_MS"`
	// MaxRetries 出站 HTTP 调用的最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// ListenAddr 监听地址
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// EnableDocs 是否暴露 OpenAPI 文档
	EnableDocs bool `yaml:"enable_docs" env:"ENABLE_DOCS"`
	// MaxConcurrentExecutions 并发执行信号量容量
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions" env:"MAX_CONCURRENT_EXECUTIONS"`
	// ReadTimeout 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// JWT 鉴权配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// RateLimit 基于 IP 的请求限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
}

// RateLimitConfig 控制 /v1/* 路由的按 IP 令牌桶限流
type RateLimitConfig struct {
	// Enabled 是否启用限流
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// RequestsPerSecond 每个访问者的稳定速率
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	// Burst 令牌桶容量
	Burst int `yaml:"burst" env:"BURST"`
}

// JWTConfig 控制 /v1/* 路由的 Bearer 鉴权
type JWTConfig struct {
	// SigningKeyEnv 存放对称签名密钥的环境变量名（密钥本身从不写入配置文件）
	SigningKeyEnv string `yaml:"signing_key_env" env:"SIGNING_KEY_ENV"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别
	Level string `yaml:"level" env:"LEVEL"`
	// Format 日志格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller 是否记录调用位置
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace 是否记录堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// Enabled 是否启用 OTel 导出
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint OTLP gRPC 导出端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName 上报的服务名
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate 采样率 [0,1]
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	dotenvPath string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTSANDBOX",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithDotenv 设置 .env 文件路径，加载时先写入进程环境变量
func (l *Loader) WithDotenv(path string) *Loader {
	l.dotenvPath = path
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 0. 可选地将 .env 文件内容载入进程环境（不覆盖已存在的变量）
	if l.dotenvPath != "" {
		if err := godotenv.Load(l.dotenvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithDotenv(".env").Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Load 是包级便捷函数：从给定路径加载 YAML 配置，env 变量覆盖，并在加载前尝试 .env
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).WithDotenv(".env").WithValidator((*Config).Validate).Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Sandbox.TimeoutMs <= 0 {
		errs = append(errs, "sandbox.timeout_ms must be positive")
	}
	if c.Sandbox.MemoryBytes <= 0 {
		errs = append(errs, "sandbox.memory_bytes must be positive")
	}
	if c.Sandbox.MaxScriptTokens <= 0 {
		errs = append(errs, "sandbox.max_script_tokens must be positive")
	}

	if c.Tools.HTTPTimeoutMs <= 0 {
		errs = append(errs, "tools.http_timeout_ms must be positive")
	}
	if c.Tools.MaxRetries < 0 {
		errs = append(errs, "tools.max_retries must not be negative")
	}

	if c.Server.ListenAddr == "" {
		errs = append(errs, "server.listen_addr must not be empty")
	}
	if c.Server.MaxConcurrentExecutions <= 0 {
		errs = append(errs, "server.max_concurrent_executions must be positive")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, "server.rate_limit.requests_per_second must be positive")
		}
		if c.Server.RateLimit.Burst <= 0 {
			errs = append(errs, "server.rate_limit.burst must be positive")
		}
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
