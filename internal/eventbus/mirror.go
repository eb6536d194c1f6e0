package eventbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// publishTimeout bounds each external mirror publish so a slow or
// unreachable Redis never backs up the in-process Bus.
const publishTimeout = 2 * time.Second

// envelope is the wire shape published to the external mirror: the
// topic is redundant with the Redis channel name but kept alongside
// the payload so a consumer subscribing with a pattern can still route.
type envelope struct {
	Topic   string `msgpack:"topic"`
	Payload any    `msgpack:"payload"`
}

// RedisMirror publishes accepted events onto an external Redis pub/sub
// channel per topic, msgpack-encoded, giving out-of-process consumers
// (chat bot processes) the same topic names as in-process subscribers
// (§4.10, §6's `trading-signals` topic family).
type RedisMirror struct {
	client *redis.Client
	log    zerolog.Logger
	prefix string
}

// NewRedisMirror wraps an existing Redis client. prefix namespaces the
// channel name ("<prefix>:<topic>"), matching AIFX_EXTERNAL_BUS_TOPIC.
func NewRedisMirror(client *redis.Client, prefix string, log zerolog.Logger) *RedisMirror {
	return &RedisMirror{
		client: client,
		log:    log.With().Str("component", "event_bus_mirror").Logger(),
		prefix: prefix,
	}
}

// Publish mirrors event externally with at-most-once semantics: a
// publish failure is logged and dropped, never retried, so a Redis
// outage cannot back up or block the in-process bus (§4.10).
func (m *RedisMirror) Publish(topic Topic, event Event) {
	payload, err := msgpack.Marshal(envelope{Topic: string(topic), Payload: event})
	if err != nil {
		m.log.Error().Err(err).Str("topic", string(topic)).Msg("event bus mirror: encoding failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channel := m.prefix + ":" + string(topic)
	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		m.log.Warn().Err(err).Str("channel", channel).Msg("event bus mirror: publish failed")
	}
}
