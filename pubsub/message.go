package pubsub

import "time"

// Message is what subscribers receive. It is treated as immutable once
// published; subscribers must not mutate Payload.
type Message struct {
	// ID uniquely identifies this publish.
	ID string `json:"id"`
	// Topic the message was published to (empty for broadcasts).
	Topic string `json:"topic"`
	// Event names the kind of event.
	Event string `json:"event"`
	// Payload is the opaque event body.
	Payload []byte `json:"payload,omitempty"`
	// From identifies the publisher.
	From string `json:"from,omitempty"`
	// Time is when the message was published.
	Time time.Time `json:"time"`
}
