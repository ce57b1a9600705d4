package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLevelFromEnv(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"":        zap.InfoLevel,
		"info":    zap.InfoLevel,
		"debug":   zap.DebugLevel,
		"warn":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"verbose": zap.InfoLevel,
	}
	for in, want := range testCases {
		assert.Equal(t, want, levelFromEnv(in), "LOG_LEVEL=%q", in)
	}
}

func TestWithKeepsGlobalLogger(t *testing.T) {
	child := With("backend", "google")
	assert.NotNil(t, child)
	assert.NotSame(t, Logger, child)
}
