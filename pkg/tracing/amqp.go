package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// headerPropagator always speaks W3C trace context, whether or not Init
// has replaced the global no-op propagator.
var headerPropagator = Propagator()

// ExtractTraceContext reads W3C trace headers from AMQP message headers.
func ExtractTraceContext(ctx context.Context, headers map[string]interface{}) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	return headerPropagator.Extract(ctx, HeaderCarrier(headers))
}

// InjectTraceContext writes the span context of ctx into headers.
func InjectTraceContext(ctx context.Context, headers map[string]interface{}) {
	headerPropagator.Inject(ctx, HeaderCarrier(headers))
}

// RemoteTraceID returns the trace id carried by headers, if any.
func RemoteTraceID(ctx context.Context, headers map[string]interface{}) (string, bool) {
	sc := trace.SpanContextFromContext(ExtractTraceContext(ctx, headers))
	if !sc.IsValid() {
		return "", false
	}
	return sc.TraceID().String(), true
}

func StartSpanFromHeaders(ctx context.Context, operationName string, headers map[string]interface{}) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, headers)
	return GetTracer("rabbit-tail-amqp").Start(ctx, operationName, trace.WithSpanKind(trace.SpanKindConsumer))
}

// HeaderCarrier adapts AMQP headers to propagation.TextMapCarrier. Keys
// are matched case-insensitively; values may be strings or bytes.
type HeaderCarrier map[string]interface{}

func (c HeaderCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		return headerString(v)
	}
	for k, v := range c {
		if strings.EqualFold(k, key) {
			return headerString(v)
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	if c == nil {
		return
	}
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func headerString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		return ""
	}
}
