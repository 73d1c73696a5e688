package broker

import (
	"context"

	"rabbittail/internal/config"
	"rabbittail/internal/logger"
	apperrors "rabbittail/pkg/errors"
)

func NewTransport(ctx context.Context, cfg config.BrokerConfig, log logger.Logger) (Transport, error) {
	switch cfg.Type {
	case "", "rabbitmq", "amqp":
		t, err := DialAMQP(ctx, cfg.RabbitMQ, log)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, apperrors.ErrConfiguration.WithMessagef("unknown broker type: %s", cfg.Type)
	}
}
