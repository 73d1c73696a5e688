package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"rabbittail/internal/broker"
	"rabbittail/internal/config"
	"rabbittail/internal/logger"
)

// Base holds what every command needs: configuration, the logger and the
// bus transport.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Transport broker.Transport

	dial func(ctx context.Context, cfg config.BrokerConfig, log logger.Logger) (broker.Transport, error)
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
		dial:   broker.NewTransport,
	}
}

// WithTransport uses t instead of dialing the configured broker.
func (b *Base) WithTransport(t broker.Transport) *Base {
	b.dial = func(context.Context, config.BrokerConfig, logger.Logger) (broker.Transport, error) {
		return t, nil
	}
	return b
}

func (b *Base) InitTransport(ctx context.Context) error {
	t, err := b.dial(ctx, b.Config.Broker, b.Logger)
	if err != nil {
		return err
	}
	b.Transport = t
	return nil
}

func (b *Base) ShutdownTransport() []error {
	var errs []error

	if b.Transport != nil {
		if err := b.Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport close error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Debug("Shutting down...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownTransport()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Debug("Shutdown complete")
	return nil
}
