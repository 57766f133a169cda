package rabbitmq

import (
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = TableCarrier{}

// TableCarrier adapts AMQP message headers to propagation.TextMapCarrier.
type TableCarrier amqp.Table

// Get returns string and []byte header values; anything else reads as "".
func (c TableCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// Set stores the key-value pair
func (c TableCarrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the header keys, sorted
func (c TableCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
