package models

import "time"

// Envelope is one delivery as handed over by the transport. The pipeline
// treats it as read-only.
type Envelope struct {
	Payload         []byte
	ContentType     string
	ContentEncoding string
	Headers         map[string]interface{}

	Exchange    string
	RoutingKey  string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool

	DeliveryMode  uint8
	Priority      uint8
	CorrelationID string
	ReplyTo       string
	Expiration    string
	MessageID     string
	Timestamp     time.Time
	Type          string
	UserID        string
	AppID         string
}

// DecodedMessage is the operator-facing view of an Envelope. Field order
// here is the serialization order.
type DecodedMessage struct {
	Content           interface{}            `json:"content"`
	Properties        map[string]interface{} `json:"properties"`
	RoutingKeyMatched string                 `json:"routingKeyMatched"`
	Exchange          string                 `json:"exchange,omitempty"`
}

// Value returns the message as a generic tree for path lookups and
// expression evaluation. Nested values are shared with m, not copied.
func (m *DecodedMessage) Value() map[string]interface{} {
	v := map[string]interface{}{
		"content":           m.Content,
		"properties":        m.Properties,
		"routingKeyMatched": m.RoutingKeyMatched,
	}
	if m.Exchange != "" {
		v["exchange"] = m.Exchange
	}
	return v
}
