// Package kafka carries trace context and message metadata across Kafka
// records produced and consumed with sarama.
package kafka

import (
	"sort"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/propagation"
)

var (
	_ propagation.TextMapCarrier = (*ProducerMessageCarrier)(nil)
	_ propagation.TextMapCarrier = ConsumerMessageCarrier{}
)

// ProducerMessageCarrier writes propagation headers into an outgoing record.
// Set replaces an existing header with the same key.
type ProducerMessageCarrier struct {
	msg *sarama.ProducerMessage
}

// NewProducerMessageCarrier wraps msg.
func NewProducerMessageCarrier(msg *sarama.ProducerMessage) *ProducerMessageCarrier {
	return &ProducerMessageCarrier{msg: msg}
}

// Get returns the value of the first header named key.
func (c *ProducerMessageCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}

	return ""
}

// Set stores the key-value pair
func (c *ProducerMessageCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if string(h.Key) == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}

	c.msg.Headers = append(c.msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

// Keys lists the header keys, sorted
func (c *ProducerMessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, string(h.Key))
	}

	sort.Strings(keys)

	return keys
}

// ConsumerMessageCarrier reads propagation headers from a received record.
type ConsumerMessageCarrier struct {
	msg *sarama.ConsumerMessage
}

// NewConsumerMessageCarrier wraps msg.
func NewConsumerMessageCarrier(msg *sarama.ConsumerMessage) ConsumerMessageCarrier {
	return ConsumerMessageCarrier{msg: msg}
}

// Get returns the value of the first header named key.
func (c ConsumerMessageCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}

	return ""
}

// Set is a no-op: received records are read-only.
func (c ConsumerMessageCarrier) Set(string, string) {}

// Keys lists the header keys, sorted
func (c ConsumerMessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}

	sort.Strings(keys)

	return keys
}
