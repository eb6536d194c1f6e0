// Package scheduler fires periodic triggers for each active
// (pair, timeframe) stream, coalescing missed ticks and desynchronizing
// streams with jitter.
package scheduler

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/domain"
)

// minEffectivePeriod is the coalesced floor for 1m streams (§4.1), which
// would otherwise hammer market data providers once per minute per pair.
const minEffectivePeriod = 15 * time.Second

// jitterFraction is the uniform [0, 10%] desync jitter applied to every
// stream's period.
const jitterFraction = 0.10

// Tick is emitted for one (pair, timeframe) stream coming due.
type Tick struct {
	Pair        domain.Pair
	Timeframe   domain.Timeframe
	ScheduledAt time.Time
}

// streamKey identifies one scheduled (pair, timeframe) stream.
type streamKey struct {
	pair domain.Pair
	tf   domain.Timeframe
}

// EffectivePeriod returns the scheduler's native fire period for a
// timeframe: the bar length, floored at minEffectivePeriod for 1m.
func EffectivePeriod(tf domain.Timeframe) (time.Duration, error) {
	d, err := tf.Duration()
	if err != nil {
		return 0, err
	}
	if d < minEffectivePeriod {
		return minEffectivePeriod, nil
	}
	return d, nil
}

// Scheduler fires a Tick for every active (pair, timeframe) stream on a
// period equal to its timeframe's bar length, jittered to desynchronize
// pairs. Emitted ticks land on a bounded, coalescing queue: at most one
// deferred tick per stream survives an overflow.
type Scheduler struct {
	log   zerolog.Logger
	ticks chan Tick

	mu      sync.Mutex
	streams map[streamKey]*stream
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	rand *rand.Rand
}

type stream struct {
	pair    domain.Pair
	tf      domain.Timeframe
	paused  bool
	stopped chan struct{}
}

// New creates a Scheduler. queueCapacity should be 2x the number of
// active streams per §4.1; callers pass it explicitly because the
// subscription set is known before streams are registered.
func New(log zerolog.Logger, queueCapacity int) *Scheduler {
	if queueCapacity < 1 {
		queueCapacity = 1
	}
	return &Scheduler{
		log:     log.With().Str("component", "scheduler").Logger(),
		ticks:   make(chan Tick, queueCapacity),
		streams: make(map[streamKey]*stream),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Ticks returns the channel Tick values are emitted onto.
func (s *Scheduler) Ticks() <-chan Tick { return s.ticks }

// Register adds an active (pair, timeframe) stream. Safe to call before
// or after Start.
func (s *Scheduler) Register(pair domain.Pair, tf domain.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{pair, tf}
	if _, exists := s.streams[key]; exists {
		return
	}
	st := &stream{pair: pair, tf: tf}
	s.streams[key] = st

	if s.running {
		s.wg.Add(1)
		go s.runStream(st)
	}
}

// Pause stops firing for (pair, timeframe) without removing it, backing
// the admin pause/resume operations in SPEC_FULL.md §4.
func (s *Scheduler) Pause(pair domain.Pair, tf domain.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[streamKey{pair, tf}]; ok {
		st.paused = true
	}
}

// Resume re-enables firing for a paused stream.
func (s *Scheduler) Resume(pair domain.Pair, tf domain.Timeframe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[streamKey{pair, tf}]; ok {
		st.paused = false
	}
}

// Start begins firing for all registered streams. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	for _, st := range s.streams {
		s.wg.Add(1)
		go s.runStream(st)
	}
	s.log.Info().Int("streams", len(s.streams)).Msg("scheduler started")
}

// Stop drains in-flight triggers within a grace window, then cancels all
// stream goroutines.
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.log.Warn().Msg("scheduler stop grace window elapsed; abandoning in-flight streams")
	}
}

func (s *Scheduler) runStream(st *stream) {
	defer s.wg.Done()

	period, err := EffectivePeriod(st.tf)
	if err != nil {
		s.log.Error().Err(err).Str("pair", string(st.pair)).Str("timeframe", string(st.tf)).Msg("invalid stream timeframe")
		return
	}

	jittered := s.jitter(period)

	// The first tick fires after only the jitter offset, so streams start
	// desynchronized without waiting a full period.
	first := time.NewTimer(jittered - period)
	select {
	case <-s.stop:
		first.Stop()
		return
	case now := <-first.C:
		if !st.paused {
			s.emit(Tick{Pair: st.pair, Timeframe: st.tf, ScheduledAt: now})
		}
	}

	ticker := time.NewTicker(jittered)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if st.paused {
				continue
			}
			s.emit(Tick{Pair: st.pair, Timeframe: st.tf, ScheduledAt: now})
		}
	}
}

func (s *Scheduler) jitter(period time.Duration) time.Duration {
	s.mu.Lock()
	frac := s.rand.Float64() * jitterFraction
	s.mu.Unlock()
	return period + time.Duration(float64(period)*frac)
}

// emit publishes a tick, coalescing on overflow: if the queue is full,
// the oldest queued tick for the same stream is dropped and replaced.
func (s *Scheduler) emit(t Tick) {
	select {
	case s.ticks <- t:
		return
	default:
	}

	// queue full: drain one matching stream's stale tick, then retry once.
	s.drainOneMatching(t.Pair, t.Timeframe)
	select {
	case s.ticks <- t:
	default:
		s.log.Warn().Str("pair", string(t.Pair)).Str("timeframe", string(t.Timeframe)).
			Msg("tick queue saturated; dropping trigger")
	}
}

// drainOneMatching removes at most one queued tick for (pair, timeframe),
// preserving the order of everything else. Used only under queue
// pressure, so an O(n) drain-and-refill is acceptable.
func (s *Scheduler) drainOneMatching(pair domain.Pair, tf domain.Timeframe) {
	pending := make([]Tick, 0, len(s.ticks))
	dropped := false
	for {
		select {
		case t := <-s.ticks:
			if !dropped && t.Pair == pair && t.Timeframe == tf {
				dropped = true
				continue
			}
			pending = append(pending, t)
		default:
			for _, t := range pending {
				s.ticks <- t
			}
			return
		}
	}
}
