package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BaSui01/scriptexec/api"
	"github.com/BaSui01/scriptexec/config"
	"github.com/BaSui01/scriptexec/internal/metrics"
	"github.com/BaSui01/scriptexec/internal/telemetry"
	"github.com/BaSui01/scriptexec/sandbox"
	"github.com/BaSui01/scriptexec/sandbox/governor"
	"github.com/BaSui01/scriptexec/sandbox/toolmediator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scriptexec HTTP server",
	RunE:  runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to config file (YAML)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting scriptexec",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	signingKey := os.Getenv(cfg.Server.JWT.SigningKeyEnv)
	if signingKey == "" {
		logger.Warn("JWT signing key env var is unset; every /v1/* request will be rejected",
			zap.String("env", cfg.Server.JWT.SigningKeyEnv))
	}

	collector := metrics.NewCollector("scriptexec", logger)

	executor := sandbox.New(sandbox.Config{
		MaxScriptTokens: cfg.Sandbox.MaxScriptTokens,
		Tools: toolmediator.Config{
			AllowedHosts:      cfg.Tools.AllowedHosts,
			EssentialJSONKeys: cfg.Tools.EssentialJSONKeys,
			HTTPTimeout:       time.Duration(cfg.Tools.HTTPTimeoutMs) * time.Millisecond,
			MaxRetries:        cfg.Tools.MaxRetries,
		},
		DefaultLimits: governor.Limits{
			Timeout:     time.Duration(cfg.Sandbox.TimeoutMs) * time.Millisecond,
			MemoryBytes: cfg.Sandbox.MemoryBytes,
		},
	})

	gateway := api.NewGateway(api.Config{
		ListenAddr:              cfg.Server.ListenAddr,
		EnableDocs:              cfg.Server.EnableDocs,
		MaxConcurrentExecutions: cfg.Server.MaxConcurrentExecutions,
		ReadTimeout:             cfg.Server.ReadTimeout,
		WriteTimeout:            cfg.Server.WriteTimeout,
		ShutdownTimeout:         cfg.Server.ShutdownTimeout,
		JWTSigningKey:           []byte(signingKey),
		RateLimitEnabled:        cfg.Server.RateLimit.Enabled,
		RateLimitRPS:            cfg.Server.RateLimit.RequestsPerSecond,
		RateLimitBurst:          cfg.Server.RateLimit.Burst,
	}, executor, collector, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := gateway.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server exited unexpectedly", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := gateway.Stop(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("scriptexec stopped")
	return nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
