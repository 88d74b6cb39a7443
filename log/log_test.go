package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vladlpavlov/Pythagoras-sub001/log"
)

func TestLogEff_RoutesLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx, teardown := log.WithZapLogEffectHandler(context.Background(), 8, zap.New(core))

	log.LogEff(ctx, log.LogDebug, "d", nil)
	log.LogEff(ctx, log.LogInfo, "i", nil)
	log.LogEff(ctx, log.LogWarn, "w", map[string]interface{}{"key": "k1"})
	log.LogEff(ctx, log.LogError, "e", nil)
	teardown()

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "k1", entries[2].ContextMap()["key"])
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestLogEff_NoHandlerIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.False(t, log.Enabled(ctx))
	assert.NotPanics(t, func() {
		log.LogEff(ctx, log.LogWarn, "nobody listens", nil)
	})
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := log.NewLogger("loud")
	assert.Error(t, err)

	l, err := log.NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
}
