package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"rabbittail/internal/broker"
	"rabbittail/internal/filter"
	"rabbittail/internal/logger"
	"rabbittail/internal/output"
	"rabbittail/internal/subscription"
	"rabbittail/pkg/metrics"
	"rabbittail/pkg/ratelimit"
)

type Options struct {
	// AutoStop stops the pipeline after that many emitted messages.
	// Zero disables it.
	AutoStop int
	// Rate caps emitted messages per second. Zero means unlimited.
	Rate float64
}

// Controller drives the subscription lifecycle and runs every delivery
// through decode, filter and emit.
type Controller struct {
	manager *subscription.Manager
	filter  *filter.Filter
	sink    output.Sink
	logger  logger.Logger

	autoStop int
	throttle *ratelimit.Throttle

	state    atomic.Int32
	consumed atomic.Int64

	stopped  chan struct{}
	stopOnce sync.Once

	sub    *broker.Subscription
	report subscription.BindReport
}

func New(manager *subscription.Manager, f *filter.Filter, sink output.Sink, opts Options, log logger.Logger) *Controller {
	c := &Controller{
		manager:  manager,
		filter:   f,
		sink:     sink,
		logger:   log,
		autoStop: opts.AutoStop,
		throttle: ratelimit.New(ratelimit.Config{RPS: opts.Rate}),
		stopped:  make(chan struct{}),
	}
	c.setState(StateIdle)
	return c
}

// Start verifies destinations, creates the subscription, binds every
// pattern and registers the handler. Bind failures are logged and do not
// prevent consuming; any other failure leaves the controller Failed.
func (c *Controller) Start(ctx context.Context) error {
	c.setState(StateVerifying)
	if err := c.manager.EnsureDestinationsExist(ctx); err != nil {
		return c.fail(err)
	}

	sub, err := c.manager.CreateSubscription(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.sub = sub
	c.logger.Debugw("Created transient subscription", "subscription", sub.Name)

	c.setState(StateBinding)
	c.report = c.manager.BindAll(ctx, sub)
	if failed := len(c.report.Failed()); failed > 0 {
		c.logger.Warnw("Some bindings failed",
			"bound", c.report.BoundCount(),
			"failed", failed,
		)
	}

	if err := c.manager.RegisterConsumer(ctx, sub, c.handle); err != nil {
		return c.fail(err)
	}

	c.setState(StateConsuming)
	c.logger.Info("Consuming messages...")
	return nil
}

// Wait blocks until auto-stop fires or ctx is cancelled. Both are clean
// stops.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case <-c.stopped:
	case <-ctx.Done():
		c.Stop()
	}
	return nil
}

// Stop moves the controller to Stopped. Later deliveries are ignored.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		if c.State() != StateFailed {
			c.setState(StateStopped)
		}
		close(c.stopped)
		c.logger.Debugw("Pipeline stopped", "consumed", c.consumed.Load())
	})
}

// Stopped is closed exactly once, when the controller stops.
func (c *Controller) Stopped() <-chan struct{} {
	return c.stopped
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Consumed is the number of emitted messages.
func (c *Controller) Consumed() int {
	return int(c.consumed.Load())
}

func (c *Controller) Subscription() *broker.Subscription {
	return c.sub
}

func (c *Controller) BindReport() subscription.BindReport {
	return c.report
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetPipelineState(int(s))
}

func (c *Controller) fail(err error) error {
	c.setState(StateFailed)
	return err
}

func (c *Controller) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}
