package mqtt

import "errors"

var (
	// ErrPublishFailed is returned when a publish still fails after retries.
	ErrPublishFailed = errors.New("mqtt publish failed")
	// ErrNotConnected is returned when the client has no broker session.
	ErrNotConnected = errors.New("mqtt client not connected")
)
