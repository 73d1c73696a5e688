package models

import "time"

type EnvelopeBuilder struct {
	envelope *Envelope
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{
		envelope: &Envelope{
			Headers: make(map[string]interface{}),
		},
	}
}

func (b *EnvelopeBuilder) WithBody(body string) *EnvelopeBuilder {
	b.envelope.Payload = []byte(body)
	return b
}

func (b *EnvelopeBuilder) WithContentType(contentType string) *EnvelopeBuilder {
	b.envelope.ContentType = contentType
	return b
}

func (b *EnvelopeBuilder) WithHeader(key string, value interface{}) *EnvelopeBuilder {
	b.envelope.Headers[key] = value
	return b
}

func (b *EnvelopeBuilder) WithHeaders(headers map[string]interface{}) *EnvelopeBuilder {
	b.envelope.Headers = headers
	return b
}

func (b *EnvelopeBuilder) WithExchange(exchange string) *EnvelopeBuilder {
	b.envelope.Exchange = exchange
	return b
}

func (b *EnvelopeBuilder) WithRoutingKey(routingKey string) *EnvelopeBuilder {
	b.envelope.RoutingKey = routingKey
	return b
}

func (b *EnvelopeBuilder) WithMessageID(id string) *EnvelopeBuilder {
	b.envelope.MessageID = id
	return b
}

func (b *EnvelopeBuilder) WithTimestamp(timestamp time.Time) *EnvelopeBuilder {
	b.envelope.Timestamp = timestamp
	return b
}

func (b *EnvelopeBuilder) Build() *Envelope {
	return b.envelope
}
