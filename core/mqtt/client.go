// Package mqtt defines the broker port used to publish fleet events and to
// receive external triggers.
package mqtt

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Publisher publishes raw payloads.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Client is a connected broker session.
type Client interface {
	Publisher
	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error
	Disconnect()
}
