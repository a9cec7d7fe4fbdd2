package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_LevelOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	log, err := NewLogger("consolidation-service", false)
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestNewLogger_InvalidLevelKeepsDefault(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	log, err := NewLogger("consolidation-service", true)
	require.NoError(t, err)

	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
