package broker

import (
	"context"

	"rabbittail/pkg/models"
)

// Transport is the slice of a message bus the tailer needs. Implementations
// must invoke a registered handler from a single goroutine, one envelope at
// a time.
type Transport interface {
	// Exists reports whether destination can be bound to.
	Exists(ctx context.Context, destination string) (bool, error)
	// CreateSubscription declares a private receive point.
	CreateSubscription(ctx context.Context, name string, opts SubscriptionOptions) (*Subscription, error)
	// Bind routes messages published to destination with a key matching
	// pattern into sub. Each call succeeds or fails independently.
	Bind(ctx context.Context, sub *Subscription, destination, pattern string) error
	// Consume registers handler on sub and returns once the registration
	// is acknowledged. Delivery stops when ctx is done.
	Consume(ctx context.Context, sub *Subscription, handler HandlerFunc) error
	// Lost yields an error if the transport fails without Close being
	// called.
	Lost() <-chan error
	IsClosed() bool
	Close() error
}

type HandlerFunc func(ctx context.Context, env *models.Envelope)

type SubscriptionOptions struct {
	AutoDelete bool
	Exclusive  bool
	// MaxBacklog bounds the number of queued messages; the oldest are
	// dropped by the broker when exceeded. Zero means unbounded.
	MaxBacklog int
}

type Subscription struct {
	Name       string
	MaxBacklog int
}
