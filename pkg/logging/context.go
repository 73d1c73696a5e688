package logging

import (
	"context"
)

type ctxKey string

const (
	TraceIDKey     = "trace_id"
	MessageIDKey   = "message_id"
	RoutingKeyKey  = "routing_key"
	ExchangeKey    = "exchange"
	ServiceNameKey = "service_name"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, ctxKey(MessageIDKey), messageID)
}

func WithRoutingKey(ctx context.Context, routingKey string) context.Context {
	return context.WithValue(ctx, ctxKey(RoutingKeyKey), routingKey)
}

func WithExchange(ctx context.Context, exchange string) context.Context {
	return context.WithValue(ctx, ctxKey(ExchangeKey), exchange)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return getString(ctx, MessageIDKey)
}

func GetRoutingKey(ctx context.Context) string {
	return getString(ctx, RoutingKeyKey)
}

func GetExchange(ctx context.Context) string {
	return getString(ctx, ExchangeKey)
}

func GetServiceName(ctx context.Context) string {
	return getString(ctx, ServiceNameKey)
}

func getString(ctx context.Context, key string) string {
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the context values as zap key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, MessageIDKey, ExchangeKey, RoutingKeyKey, ServiceNameKey} {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
