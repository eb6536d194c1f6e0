// Package dispatch implements the Dispatcher & Transports component
// (§4.11): a bounded worker pool that drains planned deliveries and
// hands each to its transport adapter, serializing deliveries for the
// same subscriber so cooldown observations stay linearizable (§5).
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/domain"
)

// DefaultWorkers is the default worker pool size (§4.11).
const DefaultWorkers = 32

// State is a planned delivery's position in the §4.11 state machine.
// Terminal states are Succeeded and Failed.
type State string

const (
	StateQueued    State = "queued"
	StateInFlight  State = "in_flight"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job bundles a planned delivery with the payload its transport adapter
// renders — the Delivery Planner only emits (subscriber_id, transport,
// change_id); the caller attaches the Signal/SignalChange once per
// change before fanning out to each surviving subscriber.
type Job struct {
	SubscriberID string
	Transport    domain.Transport
	Change       domain.SignalChange
	Signal       domain.Signal
}

// NotificationStamper records the first successful delivery for a
// change; satisfied by *store.Store.
type NotificationStamper interface {
	StampNotified(ctx context.Context, changeID string, subscriberID string, at time.Time) error
}

// Transport sends one rendered job through a delivery channel.
type Transport interface {
	Send(ctx context.Context, job Job) error
}

// Dispatcher owns the worker pool and per-subscriber serialization.
type Dispatcher struct {
	log        zerolog.Logger
	transports map[domain.Transport]Transport
	stamper    NotificationStamper

	queue   chan Job
	workers int

	subLocksMu sync.Mutex
	subLocks   map[string]*sync.Mutex

	wg      sync.WaitGroup
	stop    chan struct{}
	running bool
	mu      sync.Mutex
}

// New builds a Dispatcher. transports maps each domain.Transport to its
// adapter; queueLen bounds the pending-delivery queue (§5: "reject-new
// for dispatcher queue once full").
func New(log zerolog.Logger, transports map[domain.Transport]Transport, stamper NotificationStamper, workers, queueLen int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueLen <= 0 {
		queueLen = workers * 4
	}
	return &Dispatcher{
		log:        log.With().Str("component", "dispatcher").Logger(),
		transports: transports,
		stamper:    stamper,
		queue:      make(chan Job, queueLen),
		workers:    workers,
		subLocks:   make(map[string]*sync.Mutex),
		stop:       make(chan struct{}),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker()
	}
}

// Stop signals workers to drain the queue for up to grace before
// abandoning whatever remains queued (§5).
func (d *Dispatcher) Stop(grace time.Duration) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	close(d.stop)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		d.log.Warn().Dur("grace", grace).Int("pending", len(d.queue)).
			Msg("dispatcher: grace period elapsed, abandoning queued deliveries")
	}
}

// Submit enqueues a job. Reject-new: if the queue is full, the job is
// dropped and an error returned rather than coalesced (§5 distinguishes
// the dispatcher queue's drop policy from the tick/event-bus queues').
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.queue <- job:
		return nil
	default:
		d.log.Warn().Str("subscriber", job.SubscriberID).Str("transport", string(job.Transport)).
			Msg("dispatcher queue saturated; rejecting delivery")
		return fmt.Errorf("dispatch: queue full, rejecting delivery for subscriber %s", job.SubscriberID)
	}
}

func (d *Dispatcher) runWorker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.stop:
			// drain whatever is already queued before exiting; Stop's
			// grace timer is the backstop that abandons the rest.
			for {
				select {
				case job := <-d.queue:
					d.process(job)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) process(job Job) {
	lock := d.lockFor(job.SubscriberID)
	lock.Lock()
	defer lock.Unlock()

	transport, ok := d.transports[job.Transport]
	if !ok {
		d.log.Error().Str("transport", string(job.Transport)).Msg("dispatcher: no adapter registered for transport")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := transport.Send(ctx, job); err != nil {
		d.log.Warn().Err(err).Str("subscriber", job.SubscriberID).Str("transport", string(job.Transport)).
			Str("change_id", job.Change.ID).Msg("dispatcher: delivery failed")
		return
	}

	if err := d.stamper.StampNotified(ctx, job.Change.ID, job.SubscriberID, time.Now()); err != nil {
		d.log.Error().Err(err).Str("change_id", job.Change.ID).Msg("dispatcher: stamping notified failed after successful send")
	}
}

func (d *Dispatcher) lockFor(subscriberID string) *sync.Mutex {
	d.subLocksMu.Lock()
	defer d.subLocksMu.Unlock()
	lock, ok := d.subLocks[subscriberID]
	if !ok {
		lock = &sync.Mutex{}
		d.subLocks[subscriberID] = lock
	}
	return lock
}
