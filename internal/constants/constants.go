package constants

import "time"

const (
	ServiceName = "rabbit-tail"
)

const (
	DefaultHost      = "localhost"
	DefaultPort      = 5672
	DefaultVHost     = "/"
	DefaultUser      = "guest"
	DefaultPassword  = "guest"
	DefaultHeartbeat = 10 * time.Second
)

const (
	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxInterval     = 5 * time.Second
)

const (
	DefaultMaxLength       = 100
	DefaultBindConcurrency = 8
	MaxLengthArgument      = "x-max-length"
)

const (
	DefaultBreakerTimeout     = 30 * time.Second
	DefaultBreakerMinRequests = 3
)

const (
	ShutdownTimeout      = 5 * time.Second
	MetricsServerTimeout = 10 * time.Second
)

const HeaderContentType = "content-type"
