package sink

import (
	"context"
	"sync"

	"component-deployer/internal/config"
	"component-deployer/internal/notify"
)

func init() {
	notify.RegisterSink("mock", func(config.SinkConfig) (notify.Sink, error) {
		return &MockSink{}, nil
	})
}

// MockSink records published messages for tests and dry runs.
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	mu         sync.Mutex
}

// MockMessage represents a published message.
type MockMessage struct {
	Topic string
	Key   string
	ID    string
	Value []byte
}

func (m *MockSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	id, _ := notify.MessageID(ctx)
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, ID: id, Value: value})
	return nil
}

func (m *MockSink) Close() error { return nil }

// Snapshot returns a copy of the recorded messages.
func (m *MockSink) Snapshot() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}
