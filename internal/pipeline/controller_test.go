package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rabbittail/internal/binding"
	"rabbittail/internal/broker/brokertest"
	"rabbittail/internal/filter"
	"rabbittail/internal/logger"
	"rabbittail/internal/output"
	"rabbittail/internal/subscription"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

type fixture struct {
	transport  *brokertest.MemoryTransport
	controller *Controller
	sink       *output.Recorder
	logs       *observer.ObservedLogs
}

type fixtureOptions struct {
	bindings []string
	filter   string
	where    string
	pipeline Options
	sink     output.Sink
	setup    func(*brokertest.MemoryTransport)
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()

	if len(opts.bindings) == 0 {
		opts.bindings = []string{"orders:order.*"}
	}
	specs, err := binding.DefaultParser().ParseAll(opts.bindings)
	require.NoError(t, err)

	tr := brokertest.NewMemoryTransport("orders")
	if opts.setup != nil {
		opts.setup(tr)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	log := logger.NewFromCore(core)

	f, err := filter.Compile(opts.filter, filter.WithWhere(opts.where))
	require.NoError(t, err)

	rec := output.NewRecorder()
	var sink output.Sink = rec
	if opts.sink != nil {
		sink = opts.sink
	}

	mgr := subscription.New(tr, specs, subscription.Options{MaxBacklog: 100}, log)
	return &fixture{
		transport:  tr,
		controller: New(mgr, f, sink, opts.pipeline, log),
		sink:       rec,
		logs:       logs,
	}
}

func jsonEnvelope(body string) *models.Envelope {
	return models.NewEnvelopeBuilder().
		WithBody(body).
		WithContentType("application/json").
		Build()
}

func TestControllerAutoStop(t *testing.T) {
	fx := newFixture(t, fixtureOptions{filter: "content.id", pipeline: Options{AutoStop: 3}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, fx.controller.Start(ctx))
	assert.Equal(t, StateConsuming, fx.controller.State())

	for i := 1; i <= 5; i++ {
		fx.transport.Publish("orders", "order.created", jsonEnvelope(fmt.Sprintf(`{"id":%d}`, i)))
		if i == 3 {
			select {
			case <-fx.controller.Stopped():
			default:
				t.Fatal("controller should be stopped after the third message")
			}
			assert.Equal(t, StateStopped, fx.controller.State())
		}
	}

	assert.Equal(t, []string{"1", "2", "3"}, fx.sink.Messages())
	assert.Equal(t, 3, fx.controller.Consumed())
	require.NoError(t, fx.controller.Wait(ctx))
}

func TestControllerDropsDoNotCountTowardsAutoStop(t *testing.T) {
	fx := newFixture(t, fixtureOptions{filter: "content.name=^a", pipeline: Options{AutoStop: 2}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	for _, name := range []string{"alpha", "beta", "gamma", "anna"} {
		fx.transport.Publish("orders", "order.created", jsonEnvelope(fmt.Sprintf(`{"name":%q}`, name)))
	}

	assert.Len(t, fx.sink.Messages(), 2)
	assert.Equal(t, StateStopped, fx.controller.State())
}

func TestControllerPartialBindFailure(t *testing.T) {
	fx := newFixture(t, fixtureOptions{
		bindings: []string{"orders:order.*,secret.#"},
		filter:   "routingKeyMatched",
		setup: func(tr *brokertest.MemoryTransport) {
			tr.FailBind("orders", "secret.#", errors.New("access refused"))
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, fx.controller.Start(ctx))
	assert.Equal(t, StateConsuming, fx.controller.State())
	assert.Equal(t, 1, fx.logs.FilterMessage("Failed to bind").Len())
	assert.Len(t, fx.controller.BindReport().Failed(), 1)

	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{}`))
	fx.transport.Publish("orders", "secret.plans", jsonEnvelope(`{}`))
	assert.Equal(t, []string{`"order.created"`}, fx.sink.Messages())
}

func TestControllerMalformedJSONContinues(t *testing.T) {
	fx := newFixture(t, fixtureOptions{filter: "content.id"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{"a":`))
	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{"id":7}`))

	assert.Equal(t, []string{"7"}, fx.sink.Messages())
	errLogs := fx.logs.FilterMessage("Failed to decode message").All()
	require.Len(t, errLogs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errLogs[0].Level)
	assert.Equal(t, "order.created", errLogs[0].ContextMap()["routing_key"])
	assert.Equal(t, StateConsuming, fx.controller.State())
}

func TestControllerMissingDestination(t *testing.T) {
	fx := newFixture(t, fixtureOptions{bindings: []string{"orders", "audit"}})

	err := fx.controller.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsMissingDestination(err))
	assert.Equal(t, StateFailed, fx.controller.State())
	assert.Empty(t, fx.transport.Subscriptions())
}

func TestControllerSubscriptionFailure(t *testing.T) {
	fx := newFixture(t, fixtureOptions{setup: func(tr *brokertest.MemoryTransport) {
		tr.FailCreate(errors.New("resource locked"))
	}})

	err := fx.controller.Start(context.Background())
	assert.True(t, apperrors.IsSubscription(err))
	assert.Equal(t, StateFailed, fx.controller.State())
}

func TestControllerFullMessage(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{"id":1}`))

	assert.Equal(t,
		[]string{`{"content":{"id":1},"properties":{"contentType":"application/json"},"routingKeyMatched":"order.created","exchange":"orders"}`},
		fx.sink.Messages())
}

func TestControllerWhere(t *testing.T) {
	fx := newFixture(t, fixtureOptions{filter: "content.id", where: "content.total > 100"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{"id":1,"total":50}`))
	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{"id":2,"total":150}`))

	assert.Equal(t, []string{"2"}, fx.sink.Messages())
}

func TestControllerWaitOnCancel(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fx.controller.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- fx.controller.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	assert.Equal(t, StateStopped, fx.controller.State())

	fx.controller.Stop()
	<-fx.controller.Stopped()
}

type panicSink struct{ calls int }

func (p *panicSink) Message(text string) error {
	p.calls++
	if p.calls == 1 {
		panic("sink exploded")
	}
	return nil
}

func TestControllerRecoversFromPanic(t *testing.T) {
	sink := &panicSink{}
	fx := newFixture(t, fixtureOptions{sink: sink})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{}`))
	fx.transport.Publish("orders", "order.created", jsonEnvelope(`{}`))

	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, 1, fx.controller.Consumed())
	assert.Equal(t, 1, fx.logs.FilterMessage("Recovered from panic while handling message").Len())
}

func TestControllerTraceIDInLogs(t *testing.T) {
	fx := newFixture(t, fixtureOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	env := models.NewEnvelopeBuilder().
		WithBody(`not json`).
		WithContentType("application/json").
		WithHeader("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01").
		WithMessageID("m-42").
		Build()
	fx.transport.Publish("orders", "order.created", env)

	entries := fx.logs.FilterMessage("Failed to decode message").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "m-42", fields["message_id"])
}

func TestControllerRateLimit(t *testing.T) {
	fx := newFixture(t, fixtureOptions{filter: "content.id", pipeline: Options{Rate: 50}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fx.controller.Start(ctx))

	start := time.Now()
	for i := 0; i < 4; i++ {
		fx.transport.Publish("orders", "order.created", jsonEnvelope(fmt.Sprintf(`{"id":%d}`, i)))
	}

	assert.Len(t, fx.sink.Messages(), 4)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "consuming", StateConsuming.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
