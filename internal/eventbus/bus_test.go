package eventbus_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/eventbus"
)

func changeEvent(pair domain.Pair, confidence float64) eventbus.SignalChangeEvent {
	return eventbus.SignalChangeEvent{
		Change: domain.SignalChange{
			Pair:          pair,
			Timeframe:     domain.Timeframe1h,
			NewConfidence: confidence,
			DetectedAt:    time.Now(),
		},
	}
}

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	ch := bus.Subscribe(eventbus.TopicSignalChange)

	bus.Publish(changeEvent("EUR/USD", 0.8))

	select {
	case got := <-ch:
		sc, ok := got.(eventbus.SignalChangeEvent)
		require.True(t, ok)
		assert.Equal(t, domain.Pair("EUR/USD"), sc.Change.Pair)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	a := bus.Subscribe(eventbus.TopicSignalChange)
	b := bus.Subscribe(eventbus.TopicSignalChange)

	bus.Publish(changeEvent("GBP/USD", 0.7))

	for _, ch := range []<-chan eventbus.Event{a, b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive fan-out event")
		}
	}
}

func TestOverflowCoalescesSameStreamEvents(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	ch := bus.Subscribe(eventbus.TopicSignalChange)

	const queueLen = 64
	for i := 0; i < queueLen; i++ {
		bus.Publish(changeEvent("EUR/USD", 0.1))
	}
	// one more publish for the same stream should coalesce, not block
	bus.Publish(changeEvent("EUR/USD", 0.99))

	var lastConfidence float64
	drained := 0
	for {
		select {
		case e := <-ch:
			drained++
			lastConfidence = e.(eventbus.SignalChangeEvent).Change.NewConfidence
		default:
			assert.LessOrEqual(t, drained, queueLen)
			assert.Equal(t, 0.99, lastConfidence, "the freshest event for the stream should survive coalescing")
			return
		}
	}
}

func TestDifferentStreamsDoNotCoalesceAgainstEachOther(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	ch := bus.Subscribe(eventbus.TopicSignalChange)

	bus.Publish(changeEvent("EUR/USD", 0.5))
	bus.Publish(changeEvent("GBP/USD", 0.6))

	seen := map[domain.Pair]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			seen[e.(eventbus.SignalChangeEvent).Change.Pair] = true
		case <-time.After(time.Second):
			t.Fatal("expected both distinct-stream events to be delivered")
		}
	}
	assert.True(t, seen["EUR/USD"])
	assert.True(t, seen["GBP/USD"])
}
