package mqtt

import (
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type call struct {
	topic string
	qos   byte
}

// fakePaho stands in for the paho client; OnConnect runs on Connect like a
// real session would.
type fakePaho struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	subscribed  []call
	handlers    []paho.MessageHandler
	published   []call
	publishErrs []error
}

func useFake(t *testing.T, f *fakePaho) {
	t.Helper()
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		f.opts = o
		return f
	}
	t.Cleanup(func() { newMQTTClient = prev })
}

func (f *fakePaho) IsConnected() bool { return true }

func (f *fakePaho) Connect() paho.Token {
	if f.opts != nil && f.opts.OnConnect != nil {
		f.opts.OnConnect(nil)
	}
	return doneToken{}
}

func (f *fakePaho) Disconnect(uint) {}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, call{topic, qos})
	if len(f.publishErrs) == 0 {
		return doneToken{}
	}
	err := f.publishErrs[0]
	f.publishErrs = f.publishErrs[1:]
	return doneToken{err: err}
}

func (f *fakePaho) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, call{topic, qos})
	f.handlers = append(f.handlers, h)
	return doneToken{}
}

type doneToken struct{ err error }

func (d doneToken) Wait() bool                     { return true }
func (d doneToken) WaitTimeout(time.Duration) bool { return true }
func (d doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (d doneToken) Error() error { return d.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}
