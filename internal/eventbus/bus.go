// Package eventbus decouples the Synthesizer/Change Detector from the
// Delivery Planner/Dispatcher (§4.10): an in-process, ordered, fan-out,
// bounded channel per topic, with an optional external mirror so
// out-of-process consumers (chat bot processes) can subscribe too.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

const defaultQueueLen = 64

// Mirror publishes an already-accepted event to an external pub/sub so
// processes outside this binary can subscribe to the same topics.
// Satisfied by *RedisMirror; nil is a valid Bus field (mirror disabled).
type Mirror interface {
	Publish(topic Topic, event Event)
}

// subscription is one consumer's bounded, coalescing view of a topic.
type subscription struct {
	ch chan Event
}

// Bus is the in-process fan-out bus. Each topic fans out independently
// to every subscriber registered on it; publishing never blocks past
// the channel bound — on overflow the oldest queued event for the same
// CoalesceKey is dropped and replaced.
type Bus struct {
	log    zerolog.Logger
	mirror Mirror

	mu   sync.RWMutex
	subs map[Topic][]*subscription
}

// New builds a Bus. mirror may be nil to run purely in-process.
func New(log zerolog.Logger, mirror Mirror) *Bus {
	return &Bus{
		log:    log.With().Str("component", "event_bus").Logger(),
		mirror: mirror,
		subs:   make(map[Topic][]*subscription),
	}
}

// Subscribe registers a new consumer for topic and returns the channel
// it should range over. The channel is never closed — callers
// are expected to live for the process lifetime (the Delivery Planner
// and position monitor are both long-running loops).
func (b *Bus) Subscribe(topic Topic) <-chan Event {
	sub := &subscription{ch: make(chan Event, defaultQueueLen)}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub.ch
}

// Publish fans event out to every subscriber of its topic and, if a
// mirror is configured, forwards it externally with at-most-once
// semantics (§4.10) — the mirror publish never blocks or retries.
func (b *Bus) Publish(event Event) {
	topic := event.Topic()

	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		b.emit(sub.ch, event)
	}

	if b.mirror != nil {
		b.mirror.Publish(topic, event)
	}
}

// emit delivers event onto ch, coalescing on overflow: if the queue is
// full, the oldest queued event with the same CoalesceKey is dropped
// and replaced (mirrors the scheduler's tick-queue coalescing).
func (b *Bus) emit(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}

	drainOneMatching(ch, event.CoalesceKey())
	select {
	case ch <- event:
	default:
		// still full after dropping a same-key entry: queue is under
		// sustained pressure from other streams. Drop the new event
		// rather than block the publisher.
		b.log.Warn().Str("topic", string(event.Topic())).Str("key", event.CoalesceKey()).
			Msg("event bus subscriber queue saturated; dropping event")
	}
}

// drainOneMatching removes at most one queued event with the given
// coalesce key, preserving the order of everything else.
func drainOneMatching(ch chan Event, key string) {
	pending := make([]Event, 0, len(ch))
	dropped := false
	for {
		select {
		case e := <-ch:
			if !dropped && e.CoalesceKey() == key {
				dropped = true
				continue
			}
			pending = append(pending, e)
		default:
			for _, e := range pending {
				ch <- e
			}
			return
		}
	}
}
