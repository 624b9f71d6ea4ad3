package mq

import (
	"context"
	"sync"
)

// Message is one payload captured by MockPublisher.
type Message struct {
	Key     string
	Payload []byte
}

// MockPublisher records published messages. PublishFunc, when set, decides
// the result of each Publish.
type MockPublisher struct {
	PublishFunc func(ctx context.Context, key string, payload []byte) error
	CloseFunc   func() error

	mu       sync.Mutex
	messages []Message
}

func (m *MockPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, key, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.messages = append(m.messages, Message{Key: key, Payload: append([]byte(nil), payload...)})
	m.mu.Unlock()
	return nil
}

func (m *MockPublisher) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Messages returns a copy of everything published so far.
func (m *MockPublisher) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}
