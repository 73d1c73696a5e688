package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithTraceID(ctx, "4bf92f3577b34da6a3ce929d0e0e4736")
	ctx = WithRoutingKey(ctx, "orders.created")
	ctx = WithExchange(ctx, "orders")

	assert.Equal(t, []interface{}{
		"trace_id", "4bf92f3577b34da6a3ce929d0e0e4736",
		"exchange", "orders",
		"routing_key", "orders.created",
	}, GetLogFields(ctx))
	assert.Equal(t, "orders.created", GetRoutingKey(ctx))
	assert.Empty(t, GetMessageID(ctx))
}

func TestEarlyLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewEarlyLogTo(&buf)

	l.Error("failed to load config: %v", "missing binding")
	l.Warn("ignoring %s", "--exchange")

	assert.Equal(t, "ERROR: failed to load config: missing binding\nWARN: ignoring --exchange\n", buf.String())
}
