package broker

import (
	"math/big"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// normalizeTable converts AMQP field values into the plain JSON-like types
// the decoder and filters work with.
func normalizeTable(t amqp.Table) map[string]interface{} {
	if len(t) == 0 {
		return nil
	}
	return normalizeMap(t)
}

func normalizeMap(t map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for k, v := range t {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case amqp.Table:
		return normalizeMap(val)
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case amqp.Decimal:
		return decimalNumber(val)
	default:
		return val
	}
}

func decimalNumber(d amqp.Decimal) json.Number {
	if d.Scale == 0 {
		return json.Number(strconv.FormatInt(int64(d.Value), 10))
	}
	r := new(big.Rat).SetFrac(big.NewInt(int64(d.Value)), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(d.Scale)), nil))
	return json.Number(r.FloatString(int(d.Scale)))
}
