package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rabbittail/pkg/logging"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		log, err := New(Options{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.NotNil(t, log)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewFromCore(core)
	log.(*SugaredLogger).SetServiceName("rabbit-tail")

	ctx := logging.WithRoutingKey(context.Background(), "orders.created")
	log.ErrorwCtx(ctx, "Failed to decode message", "error", "bad json")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	fields := entry.ContextMap()
	assert.Equal(t, "orders.created", fields["routing_key"])
	assert.Equal(t, "rabbit-tail", fields["service_name"])
	assert.Equal(t, "bad json", fields["error"])
}
