package delivery

import (
	"context"
	"sync"
)

// SentMessage records one Send call made against MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender is a test double for the Sender interface.
type MockSender struct {
	mu   sync.Mutex
	Err  error
	Sent []SentMessage
}

// Send records the call and returns the configured error, if any.
func (m *MockSender) Send(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
