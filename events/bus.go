package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Topic names a process wide notification. Topics carry no payload.
type Topic string

const (
	// TokenExpired is published by any request layer consumer that detects an
	// unusable access token. The session manager reacts by ending the session.
	TokenExpired Topic = "AUTH_TOKEN_EXPIRED"

	// SessionStarted is published after a successful login.
	SessionStarted Topic = "SESSION_STARTED"

	// SessionEnded is published whenever an active session is cleared.
	SessionEnded Topic = "SESSION_ENDED"
)

type Handler func(topic Topic)

// Bus is an observer registry. Delivery is synchronous, in subscription
// order, on the publishing goroutine. Handlers may publish or (un)subscribe.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Topic][]subscription
}

type subscription struct {
	id      int
	handler Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Topic][]subscription)}
}

// Subscribe registers handler for topic. The returned func removes it and is
// safe to call more than once.
func (b *Bus) Subscribe(topic Topic, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

// Publish delivers topic to every current subscriber and returns how many
// were notified. A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(topic Topic) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[topic]))
	copy(subs, b.handlers[topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		log.Debug().Str("topic", string(topic)).Msg("events: no listeners")
	}
	for _, s := range subs {
		deliver(topic, s.handler)
	}
	return len(subs)
}

func deliver(topic Topic, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", string(topic)).Interface("panic", r).Msg("events: handler panicked")
		}
	}()
	h(topic)
}
