package server

import "github.com/zeldanerd24/ircdd/server/bus"

// MessageBus is the subset of *bus.Bus the core depends on. Declaring it
// as an interface, rather than importing the concrete type everywhere,
// lets tests substitute an in-process fake instead of dialing NSQ.
type MessageBus interface {
	Publish(topic string, body interface{})
	Subscribe(topic string, handler bus.Handler) error
	Unsubscribe(topic string)
}
