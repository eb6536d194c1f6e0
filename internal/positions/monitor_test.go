package positions_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/eventbus"
	"github.com/aifx/signalcore/internal/positions"
)

func newTestStore(t *testing.T) *positions.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "positions_test.db")
	db, err := database.New(database.Config{Path: dbPath, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := positions.New(db, zerolog.Nop())
	require.NoError(t, err)
	return s
}

type fakePrices struct {
	series domain.BarSeries
}

func (f fakePrices) FetchBars(_ context.Context, pair domain.Pair, tf domain.Timeframe, _ int) (domain.BarSeries, error) {
	return f.series, nil
}

func barAt(price float64) domain.BarSeries {
	p := decimal.NewFromFloat(price)
	return domain.BarSeries{
		Pair:      "EUR/USD",
		Timeframe: domain.Timeframe1m,
		Bars: []domain.Bar{{
			Timestamp: time.Now(),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    decimal.Zero,
		}},
	}
}

type recordingPublisher struct {
	events []eventbus.Event
}

func (r *recordingPublisher) Publish(event eventbus.Event) {
	r.events = append(r.events, event)
}

// TestMonitorClosesPositionOnStopLossHit exercises the worked example:
// long EUR/USD entered at 1.1000 with a stop at 1.0950, price drops to
// 1.0949. (1.0949-1.1000)*10000 = -51 pips.
func TestMonitorClosesPositionOnStopLossHit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.Open(ctx, "sub-1", "EUR/USD", domain.DirectionLong,
		decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.0950), decimal.NewFromFloat(1.1100),
		decimal.NewFromInt(10000), time.Now())
	require.NoError(t, err)

	prices := fakePrices{series: barAt(1.0949)}
	pub := &recordingPublisher{}

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	closed, err := evaluateForTest(t, store, prices, pub, open[0])
	require.NoError(t, err)
	assert.True(t, closed)

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosed, got.Status)
	require.True(t, got.RealizedPnLPips.Valid)
	assert.True(t, got.RealizedPnLPips.Decimal.Equal(decimal.NewFromInt(-51)))

	require.Len(t, pub.events, 1)
	posEvent, ok := pub.events[0].(eventbus.PositionUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, domain.PositionClosed, posEvent.Position.Status)
}

func TestMonitorLeavesPositionOpenWhenNeitherLevelHit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Open(ctx, "sub-1", "EUR/USD", domain.DirectionLong,
		decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.0950), decimal.NewFromFloat(1.1100),
		decimal.NewFromInt(10000), time.Now())
	require.NoError(t, err)

	prices := fakePrices{series: barAt(1.1020)}
	pub := &recordingPublisher{}

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)

	closed, err := evaluateForTest(t, store, prices, pub, open[0])
	require.NoError(t, err)
	assert.False(t, closed)

	stillOpen, err := store.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, stillOpen, 1)
	// first observation always notifies (no prior LastNotifiedAt)
	require.Len(t, pub.events, 1)
}

func TestMonitorThrottlesGeneralLevelWithinCooldown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Open(ctx, "sub-1", "EUR/USD", domain.DirectionLong,
		decimal.NewFromFloat(1.1000), decimal.NewFromFloat(1.0950), decimal.NewFromFloat(1.1100),
		decimal.NewFromInt(10000), time.Now())
	require.NoError(t, err)

	prices := fakePrices{series: barAt(1.1010)}
	pub := &recordingPublisher{}

	open, err := store.ListOpen(ctx)
	require.NoError(t, err)
	pos := open[0]

	_, err = evaluateForTest(t, store, prices, pub, pos)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)

	// Second observation moments later must be throttled by the 30min
	// general-level cooldown: no second event.
	_, err = evaluateForTest(t, store, prices, pub, pos)
	require.NoError(t, err)
	assert.Len(t, pub.events, 1)
}

// evaluateForTest drives a single position re-pricing via a throwaway
// Monitor, bypassing the 60s ticker that owns EvaluateOnce in production.
func evaluateForTest(t *testing.T, store *positions.Store, prices positions.PriceFetcher, pub positions.Publisher, pos domain.Position) (closed bool, err error) {
	t.Helper()
	mon := positions.NewMonitor(zerolog.Nop(), store, prices, pub, "")
	before, getErr := store.Get(context.Background(), pos.ID)
	require.NoError(t, getErr)

	err = mon.EvaluateOnce(context.Background(), pos, time.Now())
	if err != nil {
		return false, err
	}

	after, getErr := store.Get(context.Background(), pos.ID)
	require.NoError(t, getErr)
	return before.Status == domain.PositionOpen && after.Status == domain.PositionClosed, nil
}
