// Package decoder turns raw deliveries into DecodedMessages, parsing the
// payload when the declared content type is JSON.
package decoder

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"rabbittail/internal/constants"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/models"
)

// Decode builds a DecodedMessage from env without mutating it. A JSON
// payload that fails to parse yields a DecodeError.
func Decode(env *models.Envelope) (*models.DecodedMessage, error) {
	if env == nil {
		return nil, apperrors.ErrDecode.WithMessage("nil envelope")
	}

	headers := models.CloneMap(env.Headers)
	text := string(env.Payload)

	msg := &models.DecodedMessage{
		Content:           text,
		Properties:        properties(env, headers),
		RoutingKeyMatched: env.RoutingKey,
		Exchange:          env.Exchange,
	}

	contentType := ContentType(env.ContentType, headers)
	if !IsJSON(contentType) {
		return msg, nil
	}

	content, err := parseJSON(env.Payload)
	if err != nil {
		return nil, apperrors.ErrDecode.
			WithCause(err).
			WithDetail("content_type", contentType).
			WithDetail("routing_key", env.RoutingKey)
	}
	msg.Content = content
	return msg, nil
}

// ContentType picks the message property first, then a content-type
// header. The lower-case key wins over other spellings.
func ContentType(property string, headers map[string]interface{}) string {
	if ct := strings.TrimSpace(property); ct != "" {
		return ct
	}
	if ct := headerText(headers[constants.HeaderContentType]); ct != "" {
		return ct
	}

	// Fall back to other spellings in sorted key order so the result does
	// not depend on map iteration.
	var keys []string
	for k := range headers {
		if k != constants.HeaderContentType && strings.EqualFold(k, constants.HeaderContentType) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if ct := headerText(headers[k]); ct != "" {
			return ct
		}
	}
	return ""
}

func headerText(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case []byte:
		return strings.TrimSpace(string(s))
	}
	return ""
}

// IsJSON reports whether contentType names a JSON encoding, including
// structured-syntax suffixes such as application/vnd.api+json.
func IsJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	return mediaType == "application/json" || mediaType == "text/json" || strings.HasSuffix(mediaType, "+json")
}

func parseJSON(payload []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var trailing interface{}
	if err := dec.Decode(&trailing); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after top-level JSON value")
	}
	return v, nil
}

func properties(env *models.Envelope, headers map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{})

	setString := func(key, value string) {
		if value != "" {
			props[key] = value
		}
	}

	setString("contentType", env.ContentType)
	setString("contentEncoding", env.ContentEncoding)
	if len(headers) > 0 {
		props["headers"] = headers
	}
	if env.DeliveryMode != 0 {
		props["deliveryMode"] = json.Number(fmt.Sprint(env.DeliveryMode))
	}
	if env.Priority != 0 {
		props["priority"] = json.Number(fmt.Sprint(env.Priority))
	}
	setString("correlationId", env.CorrelationID)
	setString("replyTo", env.ReplyTo)
	setString("expiration", env.Expiration)
	setString("messageId", env.MessageID)
	if !env.Timestamp.IsZero() {
		props["timestamp"] = env.Timestamp.UTC().Format(time.RFC3339)
	}
	setString("type", env.Type)
	setString("userId", env.UserID)
	setString("appId", env.AppID)

	return props
}
