// Package mq delivers serialized analysis events to a message broker.
package mq

import (
	"context"
	"strings"
)

// Publisher sends payload under a per-user routing key or topic suffix.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// routingSegment replaces characters that carry meaning in AMQP routing
// keys and MQTT topics.
func routingSegment(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return strings.NewReplacer(".", "_", "/", "_", "#", "_", "*", "_", "+", "_", " ", "_").Replace(key)
}
