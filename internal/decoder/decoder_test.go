package decoder

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

func TestDecodeJSON(t *testing.T) {
	env := models.NewEnvelopeBuilder().
		WithBody(`{"a":1}`).
		WithContentType("application/json").
		WithRoutingKey("orders.created").
		Build()

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": json.Number("1")}, msg.Content)
	assert.Equal(t, "orders.created", msg.RoutingKeyMatched)
	assert.Equal(t, "application/json", msg.Properties["contentType"])
}

func TestDecodePassThrough(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
	}{
		{"no content type", ""},
		{"plain text", "text/plain"},
		{"binary", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := models.NewEnvelopeBuilder().WithBody(`{"a":1}`).WithContentType(tt.contentType).Build()

			msg, err := Decode(env)
			require.NoError(t, err)
			assert.Equal(t, `{"a":1}`, msg.Content)
		})
	}
}

func TestDecodeContentTypeFromHeader(t *testing.T) {
	env := models.NewEnvelopeBuilder().
		WithBody(`[1,2]`).
		WithHeader("Content-Type", "application/json; charset=utf-8").
		Build()

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{json.Number("1"), json.Number("2")}, msg.Content)
}

func TestContentTypePrefersLowerCaseHeader(t *testing.T) {
	headers := map[string]interface{}{
		"Content-Type": "text/plain",
		"CONTENT-TYPE": "text/csv",
		"content-type": []byte("application/json"),
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, "application/json", ContentType("", headers))
	}

	delete(headers, "content-type")
	for i := 0; i < 20; i++ {
		assert.Equal(t, "text/csv", ContentType("", headers))
	}

	assert.Equal(t, "text/plain", ContentType("", map[string]interface{}{"Content-Type": " text/plain ", "content-type": ""}))
}

func TestDecodePropertyWinsOverHeader(t *testing.T) {
	env := models.NewEnvelopeBuilder().
		WithBody(`not json`).
		WithContentType("text/plain").
		WithHeader("content-type", "application/json").
		Build()

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, "not json", msg.Content)
}

func TestDecodeMalformedJSON(t *testing.T) {
	for _, body := range []string{`{"a":`, ``, `{"a":1} trailing`} {
		env := models.NewEnvelopeBuilder().WithBody(body).WithContentType("application/json").Build()

		msg, err := Decode(env)
		require.Error(t, err, body)
		assert.Nil(t, msg)
		assert.True(t, apperrors.IsDecode(err))
		assert.False(t, apperrors.IsFatal(err))
	}
}

func TestDecodeDoesNotAliasEnvelope(t *testing.T) {
	env := models.NewEnvelopeBuilder().
		WithBody("hello").
		WithHeader("x-meta", map[string]interface{}{"attempt": 1}).
		Build()

	msg, err := Decode(env)
	require.NoError(t, err)

	headers := msg.Properties["headers"].(map[string]interface{})
	headers["x-meta"].(map[string]interface{})["attempt"] = 2
	headers["x-new"] = true

	assert.Equal(t, 1, env.Headers["x-meta"].(map[string]interface{})["attempt"])
	assert.NotContains(t, env.Headers, "x-new")
	assert.Equal(t, []byte("hello"), env.Payload)
}

func TestDecodeProperties(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env := &models.Envelope{
		Payload:      []byte("x"),
		Exchange:     "orders",
		RoutingKey:   "orders.created",
		DeliveryMode: 2,
		MessageID:    "m-1",
		Timestamp:    ts,
		AppID:        "checkout",
	}

	msg, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"deliveryMode": json.Number("2"),
		"messageId":    "m-1",
		"timestamp":    "2024-03-01T12:00:00Z",
		"appId":        "checkout",
	}, msg.Properties)
	assert.Equal(t, "orders", msg.Exchange)
}

func TestIsJSON(t *testing.T) {
	assert.True(t, IsJSON("application/json"))
	assert.True(t, IsJSON("Application/JSON; charset=utf-8"))
	assert.True(t, IsJSON("application/vnd.api+json"))
	assert.True(t, IsJSON("text/json"))
	assert.False(t, IsJSON("text/plain"))
	assert.False(t, IsJSON(""))
}

func TestDecodeNil(t *testing.T) {
	_, err := Decode(nil)
	assert.True(t, apperrors.IsDecode(err))
}
