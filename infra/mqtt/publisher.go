package mqtt

import (
	"fmt"
	"sync"

	coremqtt "github.com/kilianp07/cityfleet/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// Published is one message captured by MockClient.
type Published struct {
	Topic   string
	Payload []byte
}

// MockClient is an in-memory client used in tests. Publishing to a topic in
// FailTopics fails; Deliver feeds subscribed handlers.
type MockClient struct {
	mu         sync.Mutex
	Messages   []Published
	FailTopics map[string]bool
	handlers   map[string]coremqtt.Handler
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{FailTopics: map[string]bool{}, handlers: map[string]coremqtt.Handler{}}
}

// Publish records the message or fails for configured topics.
func (m *MockClient) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("%w: %s", coremqtt.ErrPublishFailed, topic)
	}
	m.Messages = append(m.Messages, Published{Topic: topic, Payload: append([]byte(nil), payload...)})
	return nil
}

// Subscribe stores the handler for exact topic matches.
func (m *MockClient) Subscribe(topic string, h coremqtt.Handler) error {
	m.mu.Lock()
	m.handlers[topic] = h
	m.mu.Unlock()
	return nil
}

// Deliver invokes the handler subscribed to topic, if any.
func (m *MockClient) Deliver(topic string, payload []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		h(topic, payload)
	}
	return ok
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.Messages...)
}

// Disconnect is a no-op.
func (m *MockClient) Disconnect() {}
