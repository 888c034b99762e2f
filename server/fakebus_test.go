package server

import (
	"encoding/json"
	"sync"

	"github.com/zeldanerd24/ircdd/server/bus"
)

// fakeBus is an in-process, single-node MessageBus. Every test using it
// represents one node, so Publish never invokes local handlers: per
// invariant I3 a node's own publishes are always self-origin and would
// be dropped by the real bus before reaching any Subscribe callback.
// Tests that need to simulate an inbound message from another node call
// deliverRemote directly instead.
type fakeBus struct {
	mu        sync.Mutex
	handlers  map[string][]bus.Handler
	published map[string][]json.RawMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		handlers:  make(map[string][]bus.Handler),
		published: make(map[string][]json.RawMessage),
	}
}

func (b *fakeBus) Publish(topic string, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	b.published[topic] = append(b.published[topic], raw)
	b.mu.Unlock()
}

// deliverRemote simulates a message arriving on topic from another node:
// it invokes every handler currently subscribed to topic.
func (b *fakeBus) deliverRemote(topic string, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	handlers := append([]bus.Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

func (b *fakeBus) Subscribe(topic string, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
}

func (b *fakeBus) publishedOn(topic string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]json.RawMessage(nil), b.published[topic]...)
}
