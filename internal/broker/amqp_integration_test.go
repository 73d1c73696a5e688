//go:build integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"rabbittail/internal/config"
	"rabbittail/internal/logger"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

func setupRabbitMQ(t *testing.T) config.RabbitMQConfig {
	t.Helper()
	ctx := context.Background()

	if os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-alpine",
			ExposedPorts: []string{"5672/tcp"},
			WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start rabbitmq container: %v", err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672/tcp")
	require.NoError(t, err)

	return config.RabbitMQConfig{
		Host:      host,
		Port:      port.Int(),
		VHost:     "/",
		Heartbeat: 10 * time.Second,
		Retry: config.RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			Multiplier:      2,
		},
	}
}

func publisher(t *testing.T, cfg config.RabbitMQConfig, exchange string) *amqp.Channel {
	t.Helper()
	url, _ := connectionURL(cfg)
	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)
	require.NoError(t, ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, false, true, false, false, nil))
	return ch
}

func TestAMQPTransportEndToEnd(t *testing.T) {
	cfg := setupRabbitMQ(t)
	pub := publisher(t, cfg, "orders")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := DialAMQP(ctx, cfg, logger.NopLogger())
	require.NoError(t, err)
	defer tr.Close()

	ok, err := tr.Exists(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	sub, err := tr.CreateSubscription(ctx, "orders.it", SubscriptionOptions{AutoDelete: true, Exclusive: true, MaxBacklog: 10})
	require.NoError(t, err)

	require.NoError(t, tr.Bind(ctx, sub, "orders", "order.*"))
	assert.Error(t, tr.Bind(ctx, sub, "missing", "#"))
	require.NoError(t, tr.Bind(ctx, sub, "orders", "invoice.#"))

	got := make(chan *models.Envelope, 4)
	require.NoError(t, tr.Consume(ctx, sub, func(_ context.Context, env *models.Envelope) {
		got <- env
	}))

	publish := func(key, body string) {
		require.NoError(t, pub.PublishWithContext(ctx, "orders", key, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(body),
			Headers:     amqp.Table{"tenant": "acme", "attempt": int32(1)},
		}))
	}
	publish("order.created", `{"id":1}`)
	publish("audit.created", `{"id":2}`)
	publish("invoice.paid.eu", `{"id":3}`)

	var keys []string
	for i := 0; i < 2; i++ {
		select {
		case env := <-got:
			keys = append(keys, env.RoutingKey)
			assert.Equal(t, "orders", env.Exchange)
			assert.Equal(t, "acme", env.Headers["tenant"])
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	assert.Equal(t, []string{"order.created", "invoice.paid.eu"}, keys)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.True(t, tr.IsClosed())
}

func TestDialAMQPBadCredentials(t *testing.T) {
	cfg := setupRabbitMQ(t)
	cfg.User, cfg.Password = "nobody", "wrong"

	_, err := DialAMQP(context.Background(), cfg, logger.NopLogger())
	require.Error(t, err)
	assert.True(t, apperrors.IsConnection(err))
}
