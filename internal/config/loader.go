package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"rabbittail/internal/binding"
	"rabbittail/internal/constants"
)

const envPrefix = "RABBIT_TAIL"

// flagKeys maps CLI flag names onto configuration keys.
var flagKeys = map[string]string{
	"url":               "broker.rabbitmq.url",
	"host":              "broker.rabbitmq.host",
	"vhost":             "broker.rabbitmq.vhost",
	"auth":              "broker.rabbitmq.auth",
	"exchange":          "tail.exchange",
	"routing-keys":      "tail.routing_keys",
	"binding-delimiter": "tail.binding_delimiter",
	"queue-prefix":      "tail.queue_prefix",
	"include-host":      "tail.include_host",
	"max-length":        "tail.max_length",
	"filter":            "tail.filter",
	"where":             "tail.where",
	"auto-stop":         "tail.auto_stop",
	"pretty":            "tail.pretty",
	"rate":              "tail.rate",
	"verbose":           "logging.verbose",
	"log-format":        "logging.format",
	"no-color":          "logging.no_color",
	"metrics-addr":      "metrics.addr",
}

// Load reads configuration with precedence flags > env > file > defaults.
// flags may be nil and configFile may be empty.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := applyFlagOverrides(flags, &cfg); err != nil {
		return nil, err
	}

	if err := normalize(&cfg); err != nil {
		return nil, err
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.type", "rabbitmq")
	v.SetDefault("broker.rabbitmq.host", constants.DefaultHost)
	v.SetDefault("broker.rabbitmq.vhost", constants.DefaultVHost)
	v.SetDefault("broker.rabbitmq.heartbeat", constants.DefaultHeartbeat)
	v.SetDefault("broker.rabbitmq.retry.max_attempts", 3)
	v.SetDefault("broker.rabbitmq.retry.initial_interval", constants.DefaultRetryInitialInterval)
	v.SetDefault("broker.rabbitmq.retry.max_interval", constants.DefaultRetryMaxInterval)
	v.SetDefault("broker.rabbitmq.retry.multiplier", 2.0)

	v.SetDefault("tail.binding_delimiter", binding.DefaultDelimiter)
	v.SetDefault("tail.max_length", constants.DefaultMaxLength)
	v.SetDefault("tail.bind_concurrency", constants.DefaultBindConcurrency)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("circuit_breaker.enabled", true)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.interval", 0)
	v.SetDefault("circuit_breaker.timeout", constants.DefaultBreakerTimeout)
	v.SetDefault("circuit_breaker.failure_ratio", 1.0)
	v.SetDefault("circuit_breaker.min_requests", constants.DefaultBreakerMinRequests)
}

func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("broker.rabbitmq.url", "RABBIT_TAIL_URL", "AMQP_URL")
	v.BindEnv("broker.rabbitmq.host", "RABBIT_TAIL_HOST")
	v.BindEnv("broker.rabbitmq.vhost", "RABBIT_TAIL_VHOST")
	v.BindEnv("broker.rabbitmq.auth", "RABBIT_TAIL_AUTH")
	v.BindEnv("broker.rabbitmq.user", "RABBIT_TAIL_USER")
	v.BindEnv("broker.rabbitmq.password", "RABBIT_TAIL_PASSWORD")

	v.BindEnv("tail.exchange", "RABBIT_TAIL_EXCHANGE")
	v.BindEnv("tail.routing_keys", "RABBIT_TAIL_ROUTING_KEYS")
	v.BindEnv("tail.queue_prefix", "RABBIT_TAIL_QUEUE_PREFIX")
	v.BindEnv("tail.max_length", "RABBIT_TAIL_MAX_LENGTH")
	v.BindEnv("tail.filter", "RABBIT_TAIL_FILTER")
	v.BindEnv("tail.where", "RABBIT_TAIL_WHERE")
	v.BindEnv("tail.auto_stop", "RABBIT_TAIL_AUTO_STOP")

	v.BindEnv("logging.level", "RABBIT_TAIL_LOG_LEVEL")
	v.BindEnv("logging.format", "RABBIT_TAIL_LOG_FORMAT")
	v.BindEnv("metrics.addr", "RABBIT_TAIL_METRICS_ADDR")
}

// applyEnvOverrides handles values that viper's comma splitting would
// mangle: binding specs contain commas themselves, so the env form
// separates bindings with whitespace or ';'.
func applyEnvOverrides(cfg *Config) {
	raw := os.Getenv("RABBIT_TAIL_BINDINGS")
	if raw == "" {
		return
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ' ' || r == '\n' || r == '\t'
	})
	if len(fields) > 0 {
		cfg.Tail.Bindings = fields
	}
}

func applyFlagOverrides(flags *pflag.FlagSet, cfg *Config) error {
	if flags == nil {
		return nil
	}
	if f := flags.Lookup("binding"); f != nil && f.Changed {
		bindings, err := flags.GetStringArray("binding")
		if err != nil {
			return fmt.Errorf("failed to read --binding: %w", err)
		}
		cfg.Tail.Bindings = bindings
	}
	if f := flags.Lookup("field"); f != nil && f.Changed && cfg.Tail.Filter == "" {
		cfg.Tail.Filter = f.Value.String()
	}
	return nil
}

func normalize(cfg *Config) error {
	rmq := &cfg.Broker.RabbitMQ

	if host, port, err := net.SplitHostPort(rmq.Host); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil {
			return &ValidationError{Field: "broker.rabbitmq.host", Message: fmt.Sprintf("invalid port in %q", rmq.Host)}
		}
		rmq.Host = host
		rmq.Port = p
	}
	if rmq.Port == 0 {
		rmq.Port = constants.DefaultPort
	}

	if rmq.Auth != "" {
		user, password, _ := strings.Cut(rmq.Auth, ":")
		rmq.User = user
		rmq.Password = password
	}

	if cfg.Tail.Exchange != "" {
		cfg.Tail.Bindings = append(cfg.Tail.Bindings, binding.FromLegacy(cfg.Tail.Exchange, cfg.Tail.RoutingKeys, cfg.Tail.BindingDelimiter))
	}

	if cfg.Logging.Verbose {
		cfg.Logging.Level = "debug"
	}

	return nil
}
