package dispatch_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/dispatch"
	"github.com/aifx/signalcore/internal/domain"
)

type recordingTransport struct {
	mu   sync.Mutex
	jobs []dispatch.Job
	err  error
}

func (r *recordingTransport) Send(_ context.Context, job dispatch.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type fakeStamper struct {
	mu     sync.Mutex
	calls  int
	lastID string
}

func (f *fakeStamper) StampNotified(_ context.Context, changeID string, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastID = changeID
	return nil
}

func (f *fakeStamper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sampleJob() dispatch.Job {
	return dispatch.Job{
		SubscriberID: "sub-1",
		Transport:    domain.TransportDiscord,
		Change:       domain.SignalChange{ID: "chg-1", Pair: "EUR/USD", Timeframe: domain.Timeframe1h},
		Signal:       domain.Signal{ID: "sig-1", Pair: "EUR/USD", Timeframe: domain.Timeframe1h},
	}
}

func TestDispatcherStampsNotifiedOnSuccess(t *testing.T) {
	transport := &recordingTransport{}
	stamper := &fakeStamper{}
	d := dispatch.New(zerolog.Nop(), map[domain.Transport]dispatch.Transport{domain.TransportDiscord: transport}, stamper, 2, 8)
	d.Start()
	defer d.Stop(time.Second)

	require.NoError(t, d.Submit(sampleJob()))

	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return stamper.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "chg-1", stamper.lastID)
}

func TestDispatcherDoesNotStampOnFailure(t *testing.T) {
	transport := &recordingTransport{err: assert.AnError}
	stamper := &fakeStamper{}
	d := dispatch.New(zerolog.Nop(), map[domain.Transport]dispatch.Transport{domain.TransportDiscord: transport}, stamper, 1, 8)
	d.Start()
	defer d.Stop(time.Second)

	require.NoError(t, d.Submit(sampleJob()))

	require.Eventually(t, func() bool { return transport.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, stamper.count())
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	transport := &recordingTransport{}
	stamper := &fakeStamper{}
	// never started: no worker drains the queue, so it fills deterministically.
	d := dispatch.New(zerolog.Nop(), map[domain.Transport]dispatch.Transport{domain.TransportDiscord: transport}, stamper, 1, 1)

	require.NoError(t, d.Submit(sampleJob()))
	err := d.Submit(sampleJob())
	assert.Error(t, err, "second submit should be rejected once the unstarted dispatcher's queue is full")
}
