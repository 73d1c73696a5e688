package subscription

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"rabbittail/internal/binding"
	"rabbittail/internal/broker"
	"rabbittail/internal/constants"
	"rabbittail/internal/logger"
	"rabbittail/pkg/circuitbreaker"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/logging"
	"rabbittail/pkg/metrics"
)

type Options struct {
	// Prefix names the subscription; empty means the first destination.
	Prefix          string
	MaxBacklog      int
	IncludeHost     bool
	BindConcurrency int
	// Breaker guards the startup calls (exists, create, consume). Binds
	// never go through it.
	Breaker *circuitbreaker.Config
}

// Manager owns the subscription lifecycle: verify destinations, create the
// private subscription, bind every pattern and register the consumer.
type Manager struct {
	transport broker.Transport
	specs     []binding.Spec
	opts      Options
	breaker   *circuitbreaker.Wrapper
	logger    logger.Logger

	now      func() time.Time
	hostname func() (string, error)
}

func New(transport broker.Transport, specs []binding.Spec, opts Options, log logger.Logger) *Manager {
	if opts.BindConcurrency <= 0 {
		opts.BindConcurrency = constants.DefaultBindConcurrency
	}

	m := &Manager{
		transport: transport,
		specs:     specs,
		opts:      opts,
		logger:    log,
		now:       time.Now,
		hostname:  os.Hostname,
	}

	if opts.Breaker != nil {
		cfg := *opts.Breaker
		if cfg.Name == "" {
			cfg.Name = "startup"
		}
		if cfg.OnStateChange == nil {
			cfg.OnStateChange = func(name string, from, to gobreaker.State) {
				log.Warnw("Circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			}
		}
		m.breaker = circuitbreaker.NewWrapper(cfg)
	}

	return m
}

// EnsureDestinationsExist checks every distinct destination in order and
// fails on the first one that is missing.
func (m *Manager) EnsureDestinationsExist(ctx context.Context) error {
	for _, dest := range binding.Destinations(m.specs) {
		var ok bool
		err := m.guard(ctx, func() (err error) {
			ok, err = m.transport.Exists(ctx, dest)
			return err
		})
		if err != nil {
			if apperrors.IsConnection(err) {
				return err
			}
			return apperrors.ErrMissingDestination.
				WithMessagef("failed to verify destination '%s'", dest).
				WithDetail("destination", dest).
				WithCause(err)
		}
		if !ok {
			return apperrors.ErrMissingDestination.
				WithMessagef("destination '%s' does not exist", dest).
				WithDetail("destination", dest)
		}
		m.logger.Debugw("Destination verified", "destination", dest)
	}
	return nil
}

// SubscriptionName builds "<prefix>[.<host>].<unix-millis>".
func (m *Manager) SubscriptionName() string {
	parts := []string{m.prefix()}
	if m.opts.IncludeHost {
		if host, err := m.hostname(); err == nil && host != "" {
			parts = append(parts, host)
		}
	}
	parts = append(parts, strconv.FormatInt(m.now().UnixMilli(), 10))
	return strings.Join(parts, ".")
}

func (m *Manager) prefix() string {
	if m.opts.Prefix != "" {
		return m.opts.Prefix
	}
	if len(m.specs) > 0 && m.specs[0].Destination != "" {
		return m.specs[0].Destination
	}
	return constants.ServiceName
}

func (m *Manager) CreateSubscription(ctx context.Context) (*broker.Subscription, error) {
	name := m.SubscriptionName()

	var sub *broker.Subscription
	err := m.guard(ctx, func() (err error) {
		sub, err = m.transport.CreateSubscription(ctx, name, broker.SubscriptionOptions{
			AutoDelete: true,
			Exclusive:  true,
			MaxBacklog: m.opts.MaxBacklog,
		})
		return err
	})
	if err != nil {
		if apperrors.IsConnection(err) {
			return nil, err
		}
		return nil, apperrors.ErrSubscription.
			WithMessagef("failed to create subscription '%s'", name).
			WithDetail("subscription", name).
			WithCause(err)
	}

	m.logger.Debugw("Subscription created",
		"subscription", sub.Name,
		"max_backlog", sub.MaxBacklog,
	)
	return sub, nil
}

// BindResult is the outcome of one (destination, pattern) bind.
type BindResult struct {
	Destination string
	Pattern     string
	Err         error
}

type BindReport struct {
	Results []BindResult
}

func (r BindReport) Failed() []BindResult {
	var failed []BindResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

func (r BindReport) BoundCount() int {
	return len(r.Results) - len(r.Failed())
}

// BindAll issues every bind concurrently and waits for all of them. A
// failed bind is logged and recorded; it never cancels the others.
func (m *Manager) BindAll(ctx context.Context, sub *broker.Subscription) BindReport {
	type job struct {
		index       int
		destination string
		pattern     string
	}

	var jobs []job
	for _, spec := range m.specs {
		for _, pattern := range spec.Patterns {
			jobs = append(jobs, job{index: len(jobs), destination: spec.Destination, pattern: pattern})
		}
	}

	results := make([]BindResult, len(jobs))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(m.opts.BindConcurrency)

	for _, j := range jobs {
		g.Go(func() error {
			err := m.bind(ctx, sub, j.destination, j.pattern)

			mu.Lock()
			results[j.index] = BindResult{Destination: j.destination, Pattern: j.pattern, Err: err}
			mu.Unlock()

			metrics.IncBinding(j.destination, err == nil)

			bindCtx := logging.WithRoutingKey(logging.WithExchange(ctx, j.destination), j.pattern)
			if err != nil {
				m.logger.ErrorwCtx(bindCtx, "Failed to bind",
					"error", err,
					"subscription", sub.Name,
				)
				return nil
			}
			m.logger.DebugwCtx(bindCtx, "Bound", "subscription", sub.Name)
			return nil
		})
	}
	_ = g.Wait()

	return BindReport{Results: results}
}

// bind calls the transport exactly once per pattern. Binds are
// independent, so one failure never short-circuits another.
func (m *Manager) bind(ctx context.Context, sub *broker.Subscription, destination, pattern string) error {
	err := m.transport.Bind(ctx, sub, destination, pattern)
	if err == nil {
		return nil
	}

	return apperrors.ErrBind.
		WithMessagef("failed to bind '%s' on '%s'", pattern, destination).
		WithDetail("destination", destination).
		WithDetail("pattern", pattern).
		WithCause(err)
}

// RegisterConsumer attaches the single fan-in handler to sub.
func (m *Manager) RegisterConsumer(ctx context.Context, sub *broker.Subscription, handler broker.HandlerFunc) error {
	err := m.guard(ctx, func() error {
		return m.transport.Consume(ctx, sub, handler)
	})
	if err != nil {
		if apperrors.IsConnection(err) {
			return err
		}
		return apperrors.ErrSubscription.
			WithMessagef("failed to consume from '%s'", sub.Name).
			WithDetail("subscription", sub.Name).
			WithCause(err)
	}
	return nil
}

// guard runs a startup call through the breaker when one is configured.
func (m *Manager) guard(ctx context.Context, fn func() error) error {
	if m.breaker == nil {
		return fn()
	}
	err := m.breaker.ExecuteWithContext(ctx, fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		m.logger.Warnw("Broker calls suspended",
			"breaker", m.breaker.Name(),
			"state", m.breaker.State().String(),
		)
	}
	return err
}
