package sink

import (
	"context"
	"sync"

	"github.com/maxpert/livefeed/publisher"
)

// MockSink is an in-memory Sink for tests and dry runs
type MockSink struct {
	Messages   []publisher.Message
	PublishErr error
	mu         sync.Mutex
}

// Publish records the message, or fails with PublishErr when set
func (m *MockSink) Publish(ctx context.Context, msg publisher.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

// Close is a no-op for MockSink
func (m *MockSink) Close() error {
	return nil
}

// SetError makes every following Publish fail with err (nil to recover)
func (m *MockSink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishErr = err
}

// Len returns the number of recorded messages
func (m *MockSink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// Snapshot returns a copy of the recorded messages
func (m *MockSink) Snapshot() []publisher.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publisher.Message, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
