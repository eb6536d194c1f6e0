package registry_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "registry_test.db")
	db, err := database.New(database.Config{Path: dbPath, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r, err := registry.New(context.Background(), db, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestSubscribeTwiceYieldsOneSubscription(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, "sub-1", domain.TransportDiscord, "EUR/USD", domain.Timeframe1h))
	require.NoError(t, r.Subscribe(ctx, "sub-1", domain.TransportDiscord, "EUR/USD", domain.Timeframe1h))

	entries := r.ListSubscribers("EUR/USD", domain.Timeframe1h)
	assert.Len(t, entries, 1)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Subscribe(ctx, "sub-1", domain.TransportDiscord, "EUR/USD", domain.Timeframe1h))
	require.NoError(t, r.Unsubscribe(ctx, "sub-1", domain.TransportDiscord, "EUR/USD", domain.Timeframe1h))
	require.NoError(t, r.Unsubscribe(ctx, "sub-1", domain.TransportDiscord, "EUR/USD", domain.Timeframe1h))

	entries := r.ListSubscribers("EUR/USD", domain.Timeframe1h)
	assert.Empty(t, entries)
}

func TestUpdatePolicyRoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	policy := domain.SubscriberPolicy{
		SubscriberID:      "sub-1",
		MinConfidence:     0.6,
		CooldownMinutes:   90,
		DailyCap:          5,
		Timezone:          "Asia/Taipei",
		EnabledTimeframes: map[domain.Timeframe]bool{domain.Timeframe1h: true},
		TransportsEnabled: map[domain.Transport]bool{domain.TransportDiscord: true},
	}
	require.NoError(t, r.UpdatePolicy(ctx, policy))

	got := r.GetPolicy("sub-1")
	assert.Equal(t, 0.6, got.MinConfidence)
	assert.Equal(t, "Asia/Taipei", got.Timezone)
	assert.True(t, got.EnabledTimeframes[domain.Timeframe1h])
}

func TestGetPolicyReturnsDefaultWhenUnset(t *testing.T) {
	r := newTestRegistry(t)
	policy := r.GetPolicy("unknown-sub")
	assert.Equal(t, "unknown-sub", policy.SubscriberID)
	assert.Equal(t, 0.5, policy.MinConfidence)
}
