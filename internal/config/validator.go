package config

import (
	"errors"
	"fmt"

	apperrors "rabbittail/pkg/errors"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks values that can be verified without a broker. The
// returned error is a ConfigurationError joining every problem found.
func ValidateStatic(cfg *Config) error {
	var errs []error

	if err := validateBroker(cfg.Broker); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateTail(cfg.Tail)...)

	if err := validateLogging(cfg.Logging); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return apperrors.ErrConfiguration.
			WithMessage("configuration validation failed").
			WithCause(errors.Join(errs...))
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "", "rabbitmq", "amqp":
		return validateRabbitMQ(cfg.RabbitMQ)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: rabbitmq)", cfg.Type),
		}
	}
}

func validateRabbitMQ(cfg RabbitMQConfig) error {
	if cfg.URL != "" {
		return nil
	}

	if cfg.Host == "" {
		return &ValidationError{
			Field:   "broker.rabbitmq.host",
			Message: "RabbitMQ host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "broker.rabbitmq.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.rabbitmq.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	return nil
}

func validateTail(cfg TailConfig) []error {
	var errs []error

	if len(cfg.Bindings) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "tail.bindings",
			Message: "at least one binding is required (--binding destination:key1,key2 or --exchange)",
		})
	}

	if cfg.MaxLength < 0 {
		errs = append(errs, &ValidationError{
			Field:   "tail.max_length",
			Message: "max length must be non-negative",
		})
	}

	if cfg.AutoStop < 0 {
		errs = append(errs, &ValidationError{
			Field:   "tail.auto_stop",
			Message: "auto stop must be non-negative",
		})
	}

	if cfg.Rate < 0 {
		errs = append(errs, &ValidationError{
			Field:   "tail.rate",
			Message: "rate must be non-negative",
		})
	}

	if len(cfg.BindingDelimiter) != 1 || cfg.BindingDelimiter == "," {
		errs = append(errs, &ValidationError{
			Field:   "tail.binding_delimiter",
			Message: fmt.Sprintf("delimiter must be a single character other than ',', got %q", cfg.BindingDelimiter),
		})
	}

	return errs
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Format {
	case "", "console", "json":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown log format: %s (supported: console, json)", cfg.Format),
		}
	}
	return nil
}
