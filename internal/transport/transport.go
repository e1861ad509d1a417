// Package transport abstracts the publish/subscribe message bus the
// pipeline runs on. The bus itself — topic routing, wire encoding,
// broker connection — is an external collaborator outside this
// module's scope; this package defines the seam the rest of
// the pipeline is coded against, plus a minimal in-memory bus that
// satisfies it for wiring and tests.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one bus message: a topic, a JSON body, and the broker
// properties it was stamped with (or should be stamped with, for an
// outbound send). The "application" property carries the tenant id
// used for broker-side selector filtering.
type Message struct {
	Topic      string
	Body       []byte
	Properties map[string]string
}

// Handler processes one inbound Message. It returns nothing, so a
// handler deals with its own failures; the bus does not retry.
type Handler func(Message)

// Publisher sends outbound messages.
type Publisher interface {
	Publish(topic string, body []byte, properties map[string]string) error
}

// Subscriber registers inbound handlers, with the broker-side selector
// equivalent to `application = tenant` applied by the implementation.
type Subscriber interface {
	Subscribe(topic string, tenant string, handler Handler) (unsubscribe func(), err error)
}

// Transport is the full seam a component needs.
type Transport interface {
	Publisher
	Subscriber
	Close() error
}

// PublishJSON marshals v and publishes it on topic, stamping the
// tenant property every envelope carries.
func PublishJSON(p Publisher, topic, tenant string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for topic %q: %w", topic, err)
	}
	return p.Publish(topic, body, map[string]string{"application": tenant})
}

// subscription is one registered handler on the in-memory bus.
type subscription struct {
	id      uint64
	tenant  string
	wildcard bool // topic ends in a "." prefix-match root
	handler Handler
}

// InMemory is a Transport that delivers synchronously within the
// process, useful for wiring the pipeline in tests and for the
// reference CLI entry point before a real broker client is plugged
// in.
type InMemory struct {
	mu   sync.Mutex
	subs map[string][]subscription
	next uint64
}

// NewInMemory returns an empty in-memory bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]subscription)}
}

func (b *InMemory) Publish(topic string, body []byte, properties map[string]string) error {
	b.mu.Lock()
	var matched []subscription
	for root, subs := range b.subs {
		for _, s := range subs {
			if !topicMatches(root, topic) {
				continue
			}
			if s.tenant != "" && properties["application"] != s.tenant {
				continue
			}
			matched = append(matched, s)
		}
	}
	b.mu.Unlock()

	msg := Message{Topic: topic, Body: body, Properties: properties}
	for _, s := range matched {
		s.handler(msg)
	}
	return nil
}

func (b *InMemory) Subscribe(topic, tenant string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs[topic] = append(b.subs[topic], subscription{id: id, tenant: tenant, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s.id == id {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}, nil
}

func (b *InMemory) Close() error { return nil }

// topicMatches treats a subscribed root ending in "." as a wildcard
// prefix match (the monitoring.predicted.<metricName> convention);
// otherwise it is an exact match.
func topicMatches(root, topic string) bool {
	if len(root) > 0 && root[len(root)-1] == '.' {
		return len(topic) >= len(root) && topic[:len(root)] == root
	}
	return root == topic
}
