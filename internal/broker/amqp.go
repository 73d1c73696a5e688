package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"rabbittail/internal/config"
	"rabbittail/internal/constants"
	"rabbittail/internal/logger"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/metrics"
	"rabbittail/pkg/models"
	"rabbittail/pkg/retry"
)

// AMQPTransport maps the Transport operations onto a single AMQP 0-9-1
// connection: destinations are exchanges and subscriptions are
// exclusive, auto-deleted queues owned by that connection.
type AMQPTransport struct {
	conn   *amqp.Connection
	logger logger.Logger

	lost      chan error
	closing   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	consumers []*amqp.Channel
}

// DialAMQP connects to the broker, retrying transient failures according to
// cfg.Retry. Authentication failures are not retried.
func DialAMQP(ctx context.Context, cfg config.RabbitMQConfig, log logger.Logger) (*AMQPTransport, error) {
	url, vhost := connectionURL(cfg)

	amqpCfg := amqp.Config{
		Heartbeat:  cfg.Heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if vhost != "" {
		amqpCfg.Vhost = vhost
	}
	amqpCfg.Properties.SetClientConnectionName(constants.ServiceName)

	policy := retry.Policy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
	}

	var conn *amqp.Connection
	err := retry.Do(ctx, policy, func() error {
		c, err := amqp.DialConfig(url, amqpCfg)
		if err != nil {
			var amqpErr *amqp.Error
			if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncConnectionRetries()
		log.Warnw("Broker connection failed, retrying",
			"host", cfg.Host,
			"attempt", attempt,
			"next_retry_in", next,
			"error", err,
		)
	})
	if err != nil {
		return nil, apperrors.ErrConnection.
			WithMessagef("failed to connect to %s", describeEndpoint(cfg)).
			WithCause(err)
	}

	t := &AMQPTransport{
		conn:   conn,
		logger: log,
		lost:   make(chan error, 1),
	}
	go t.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	log.Debugw("Connected to broker",
		"endpoint", describeEndpoint(cfg),
	)

	return t, nil
}

func connectionURL(cfg config.RabbitMQConfig) (string, string) {
	if cfg.URL != "" {
		return cfg.URL, ""
	}

	user, password := cfg.User, cfg.Password
	if user == "" {
		user, password = constants.DefaultUser, constants.DefaultPassword
	}

	port := cfg.Port
	if port == 0 {
		port = constants.DefaultPort
	}

	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     port,
		Username: user,
		Password: password,
		Vhost:    "/",
	}
	return uri.String(), cfg.VHost
}

func describeEndpoint(cfg config.RabbitMQConfig) string {
	if cfg.URL != "" {
		if uri, err := amqp.ParseURI(cfg.URL); err == nil {
			return fmt.Sprintf("%s:%d%s", uri.Host, uri.Port, vhostSuffix(uri.Vhost))
		}
		return "configured URL"
	}
	return fmt.Sprintf("%s:%d%s", cfg.Host, cfg.Port, vhostSuffix(cfg.VHost))
}

func vhostSuffix(vhost string) string {
	if vhost == "" || vhost == "/" {
		return ""
	}
	return "/" + vhost
}

func (t *AMQPTransport) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed
	if t.closing.Load() {
		return
	}
	var err error = amqp.ErrClosed
	if ok && amqpErr != nil {
		err = amqpErr
	}
	t.lost <- apperrors.ErrConnection.WithMessage("broker connection lost").WithCause(err)
}

// Lost yields an error when the connection drops without Close being called.
func (t *AMQPTransport) Lost() <-chan error {
	return t.lost
}

// Exists uses a passive declare on a throwaway channel, since the broker
// closes the channel when the exchange is missing.
func (t *AMQPTransport) Exists(ctx context.Context, destination string) (bool, error) {
	if destination == "" {
		// The default exchange always exists and cannot be declared.
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return false, apperrors.ErrConnection.WithMessage("failed to open channel").WithCause(err)
	}
	// A NotFound reply has already closed ch; the second Close is a no-op.
	defer ch.Close()

	err = ch.ExchangeDeclarePassive(destination, amqp.ExchangeTopic, false, false, false, false, nil)
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check exchange %s: %w", destination, err)
	}

	return true, nil
}

func (t *AMQPTransport) CreateSubscription(ctx context.Context, name string, opts SubscriptionOptions) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	args := amqp.Table{}
	if opts.MaxBacklog > 0 {
		args[constants.MaxLengthArgument] = int32(opts.MaxBacklog)
	}

	q, err := ch.QueueDeclare(name, false, opts.AutoDelete, opts.Exclusive, false, args)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}

	t.logger.Debugw("Declared queue",
		"queue", q.Name,
		"max_length", opts.MaxBacklog,
		"exclusive", opts.Exclusive,
		"auto_delete", opts.AutoDelete,
	)

	return &Subscription{Name: q.Name, MaxBacklog: opts.MaxBacklog}, nil
}

// Bind opens its own channel so that one refused binding does not take
// the others down with it.
func (t *AMQPTransport) Bind(ctx context.Context, sub *Subscription, destination, pattern string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	return ch.QueueBind(sub.Name, pattern, destination, false, nil)
}

// Consume starts a no-ack consumer on sub. Deliveries are handed to
// handler from one goroutine until ctx is done or the channel closes.
func (t *AMQPTransport) Consume(ctx context.Context, sub *Subscription, handler HandlerFunc) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	tag := constants.ServiceName + "-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, sub.Name, tag, true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to consume from %s: %w", sub.Name, err)
	}

	t.mu.Lock()
	t.consumers = append(t.consumers, ch)
	t.mu.Unlock()

	t.logger.Debugw("Started consuming",
		"queue", sub.Name,
		"consumer_tag", tag,
	)

	go func() {
		for d := range deliveries {
			if ctx.Err() != nil {
				return
			}
			handler(ctx, toEnvelope(d))
		}
	}()

	return nil
}

func (t *AMQPTransport) IsClosed() bool {
	return t.conn.IsClosed()
}

// Close tears down consumer channels and the connection. The exclusive
// queue goes with it. Safe to call more than once.
func (t *AMQPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)

		t.mu.Lock()
		for _, ch := range t.consumers {
			_ = ch.Close()
		}
		t.consumers = nil
		t.mu.Unlock()

		if !t.conn.IsClosed() {
			t.closeErr = t.conn.Close()
		}
	})
	return t.closeErr
}

func toEnvelope(d amqp.Delivery) *models.Envelope {
	return &models.Envelope{
		Payload:         d.Body,
		ContentType:     d.ContentType,
		ContentEncoding: d.ContentEncoding,
		Headers:         normalizeTable(d.Headers),
		Exchange:        d.Exchange,
		RoutingKey:      d.RoutingKey,
		ConsumerTag:     d.ConsumerTag,
		DeliveryTag:     d.DeliveryTag,
		Redelivered:     d.Redelivered,
		DeliveryMode:    d.DeliveryMode,
		Priority:        d.Priority,
		CorrelationID:   d.CorrelationId,
		ReplyTo:         d.ReplyTo,
		Expiration:      d.Expiration,
		MessageID:       d.MessageId,
		Timestamp:       d.Timestamp,
		Type:            d.Type,
		UserID:          d.UserId,
		AppID:           d.AppId,
	}
}
