package config

import (
	"time"
)

type Config struct {
	Broker         BrokerConfig         `mapstructure:"broker"`
	Tail           TailConfig           `mapstructure:"tail"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

type RabbitMQConfig struct {
	// URL, when set, wins over Host/Port/VHost/User/Password.
	URL       string        `mapstructure:"url"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	VHost     string        `mapstructure:"vhost"`
	Auth      string        `mapstructure:"auth"` // "user:password"
	User      string        `mapstructure:"user"`
	Password  string        `mapstructure:"password"`
	Heartbeat time.Duration `mapstructure:"heartbeat"`
	Retry     RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

type TailConfig struct {
	Bindings         []string `mapstructure:"bindings"`
	Exchange         string   `mapstructure:"exchange"`
	RoutingKeys      string   `mapstructure:"routing_keys"`
	BindingDelimiter string   `mapstructure:"binding_delimiter"`
	QueuePrefix      string   `mapstructure:"queue_prefix"`
	IncludeHost      bool     `mapstructure:"include_host"`
	MaxLength        int      `mapstructure:"max_length"`
	BindConcurrency  int      `mapstructure:"bind_concurrency"`
	Filter           string   `mapstructure:"filter"`
	Where            string   `mapstructure:"where"`
	AutoStop         int      `mapstructure:"auto_stop"`
	Pretty           bool     `mapstructure:"pretty"`
	Rate             float64  `mapstructure:"rate"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
	Verbose bool   `mapstructure:"verbose"`
}

type MetricsConfig struct {
	// Addr enables the /metrics and /health endpoint when non-empty.
	Addr string `mapstructure:"addr"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}
