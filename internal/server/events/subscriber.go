package events

// Subscriber consumes the event stream for one transport.
type Subscriber interface {
	// Send delivers an event. Implementations must not block.
	Send(Event) error

	// Close shuts the subscriber down.
	Close() error
}
