// Package brokertest provides an in-process broker.Transport for tests.
package brokertest

import (
	"context"
	"sync"

	"rabbittail/internal/broker"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

var _ broker.Transport = (*MemoryTransport)(nil)

// MemoryTransport is an in-process Transport with topic routing. Every
// destination behaves like a topic exchange. Failures can be injected per
// operation, for tests.
type MemoryTransport struct {
	mu           sync.Mutex
	destinations map[string]struct{}
	subs         map[string]*memorySubscription
	order        []string

	existsErr    error
	createErr    error
	bindFailures map[bindKey]error

	lost     chan error
	closed   bool
	severed  bool
	declared []string
}

type bindKey struct {
	destination string
	pattern     string
}

type memorySubscription struct {
	name       string
	maxBacklog int
	bindings   []bindKey
	backlog    []*models.Envelope

	deliverMu sync.Mutex
	handler   broker.HandlerFunc
	ctx       context.Context
}

func NewMemoryTransport(destinations ...string) *MemoryTransport {
	t := &MemoryTransport{
		destinations: make(map[string]struct{}),
		subs:         make(map[string]*memorySubscription),
		bindFailures: make(map[bindKey]error),
		lost:         make(chan error, 1),
	}
	for _, d := range destinations {
		t.destinations[d] = struct{}{}
	}
	return t
}

func (t *MemoryTransport) DeclareDestination(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destinations[name] = struct{}{}
}

// FailExists makes every Exists call return err.
func (t *MemoryTransport) FailExists(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.existsErr = err
}

// FailCreate makes every CreateSubscription call return err.
func (t *MemoryTransport) FailCreate(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createErr = err
}

// FailBind makes binding pattern on destination return err.
func (t *MemoryTransport) FailBind(destination, pattern string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindFailures[bindKey{destination, pattern}] = err
}

// Sever simulates an unexpected connection loss.
func (t *MemoryTransport) Sever(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.severed {
		return
	}
	t.severed = true
	t.lost <- apperrors.ErrConnection.WithMessage("broker connection lost").WithCause(err)
}

func (t *MemoryTransport) Exists(ctx context.Context, destination string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.usable(); err != nil {
		return false, err
	}
	if t.existsErr != nil {
		return false, t.existsErr
	}
	_, ok := t.destinations[destination]
	return ok, nil
}

func (t *MemoryTransport) CreateSubscription(ctx context.Context, name string, opts broker.SubscriptionOptions) (*broker.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.usable(); err != nil {
		return nil, err
	}
	if t.createErr != nil {
		return nil, t.createErr
	}
	if _, ok := t.subs[name]; ok && opts.Exclusive {
		return nil, apperrors.ErrSubscription.WithMessagef("subscription %s is locked by another owner", name)
	}

	t.subs[name] = &memorySubscription{name: name, maxBacklog: opts.MaxBacklog}
	t.order = append(t.order, name)
	t.declared = append(t.declared, name)

	return &broker.Subscription{Name: name, MaxBacklog: opts.MaxBacklog}, nil
}

func (t *MemoryTransport) Bind(ctx context.Context, sub *broker.Subscription, destination, pattern string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := t.bindFailures[bindKey{destination, pattern}]; ok {
		return err
	}
	if _, ok := t.destinations[destination]; !ok {
		return apperrors.ErrMissingDestination.WithDetail("destination", destination)
	}
	s, ok := t.subs[sub.Name]
	if !ok {
		return apperrors.ErrSubscription.WithMessagef("subscription %s does not exist", sub.Name)
	}

	key := bindKey{destination, pattern}
	for _, b := range s.bindings {
		if b == key {
			return nil
		}
	}
	s.bindings = append(s.bindings, key)
	return nil
}

// Consume registers handler and replays anything queued before it, in
// publish order, ahead of later publishes.
func (t *MemoryTransport) Consume(ctx context.Context, sub *broker.Subscription, handler broker.HandlerFunc) error {
	t.mu.Lock()
	if err := t.usable(); err != nil {
		t.mu.Unlock()
		return err
	}
	s, ok := t.subs[sub.Name]
	if !ok {
		t.mu.Unlock()
		return apperrors.ErrSubscription.WithMessagef("subscription %s does not exist", sub.Name)
	}
	s.deliverMu.Lock()
	s.handler = handler
	s.ctx = ctx
	backlog := s.backlog
	s.backlog = nil
	t.mu.Unlock()

	go func() {
		defer s.deliverMu.Unlock()
		for _, env := range backlog {
			if ctx.Err() != nil {
				return
			}
			handler(ctx, env)
		}
	}()

	return nil
}

// Publish routes env to every subscription with a binding on destination
// whose pattern matches routingKey, and returns how many received it.
func (t *MemoryTransport) Publish(destination, routingKey string, env *models.Envelope) int {
	t.mu.Lock()
	if t.closed || t.severed {
		t.mu.Unlock()
		return 0
	}

	var targets []*memorySubscription
	for _, name := range t.order {
		s, ok := t.subs[name]
		if !ok {
			continue
		}
		for _, b := range s.bindings {
			if b.destination == destination && broker.MatchTopic(b.pattern, routingKey) {
				targets = append(targets, s)
				break
			}
		}
	}

	var live []*memorySubscription
	for _, s := range targets {
		delivery := routed(env, destination, routingKey)
		if s.handler == nil {
			s.backlog = append(s.backlog, delivery)
			if s.maxBacklog > 0 && len(s.backlog) > s.maxBacklog {
				s.backlog = s.backlog[len(s.backlog)-s.maxBacklog:]
			}
			continue
		}
		live = append(live, s)
	}
	t.mu.Unlock()

	for _, s := range live {
		s.deliverMu.Lock()
		if s.ctx.Err() == nil {
			s.handler(s.ctx, routed(env, destination, routingKey))
		}
		s.deliverMu.Unlock()
	}

	return len(targets)
}

// Backlog returns how many envelopes wait for a consumer on name.
func (t *MemoryTransport) Backlog(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subs[name]; ok {
		return len(s.backlog)
	}
	return 0
}

// Bindings lists the patterns bound from destination to the named
// subscription.
func (t *MemoryTransport) Bindings(name, destination string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subs[name]
	if !ok {
		return nil
	}
	var patterns []string
	for _, b := range s.bindings {
		if b.destination == destination {
			patterns = append(patterns, b.pattern)
		}
	}
	return patterns
}

// Subscriptions lists every subscription name ever declared.
func (t *MemoryTransport) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.declared...)
}

func (t *MemoryTransport) Lost() <-chan error {
	return t.lost
}

func (t *MemoryTransport) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed || t.severed
}

// Close drops all subscriptions, as an auto-deleted queue would be.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = make(map[string]*memorySubscription)
	t.order = nil
	return nil
}

func (t *MemoryTransport) usable() error {
	if t.closed || t.severed {
		return apperrors.ErrConnection.WithMessage("transport is closed")
	}
	return nil
}

func routed(env *models.Envelope, destination, routingKey string) *models.Envelope {
	out := *env
	out.Exchange = destination
	out.RoutingKey = routingKey
	out.Headers = models.CloneMap(env.Headers)
	if env.Payload != nil {
		out.Payload = append([]byte(nil), env.Payload...)
	}
	return &out
}
