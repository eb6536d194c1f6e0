package eventbus

import "github.com/aifx/signalcore/internal/domain"

// Topic names a logical publish/subscribe channel. Topic strings are
// shared verbatim between the in-process bus and the external mirror
// (§4.10, §6) so auxiliary consumers subscribing to the mirror see the
// same names as in-process subscribers.
type Topic string

const (
	TopicSignalChange   Topic = "signal.change"
	TopicPositionUpdate Topic = "position.update"
)

// Event is anything publishable on the bus. CoalesceKey identifies the
// logical stream a message belongs to, so an overflowing queue only
// ever drops the stalest message for the *same* stream (§4.10's
// "dropped with a logged warning, consistent with scheduler coalescing").
type Event interface {
	Topic() Topic
	CoalesceKey() string
}

// SignalChangeEvent carries a notifiable change plus the signal it was
// detected against, published once the Change Detector marks a
// transition notifiable.
type SignalChangeEvent struct {
	Change domain.SignalChange
	Signal domain.Signal
}

func (e SignalChangeEvent) Topic() Topic { return TopicSignalChange }

func (e SignalChangeEvent) CoalesceKey() string {
	return string(e.Change.Pair) + "|" + string(e.Change.Timeframe)
}

// PositionUpdateEvent carries a position whose monitored state changed
// (SL/TP hit, status transition), published by the position monitoring
// loop (§4.12).
type PositionUpdateEvent struct {
	Position domain.Position
}

func (e PositionUpdateEvent) Topic() Topic { return TopicPositionUpdate }

func (e PositionUpdateEvent) CoalesceKey() string { return e.Position.ID }
