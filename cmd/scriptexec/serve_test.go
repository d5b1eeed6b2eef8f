package main

import (
	"testing"

	"github.com/BaSui01/scriptexec/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_JSONProductionEncoding(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stdout"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestInitLogger_ConsoleDevelopmentEncoding(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stdout"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "not-a-level", Format: "json", OutputPaths: []string{"stdout"}})
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLogger_FallsBackToProductionLoggerOnBuildFailure(t *testing.T) {
	// An output path pointing at an invalid target fails zapConfig.Build;
	// initLogger must still return a usable logger rather than nil.
	logger := initLogger(config.LogConfig{Level: "info", Format: "json", OutputPaths: []string{"/nonexistent-dir/does-not-exist.log"}})
	assert.NotNil(t, logger)
}
