package planner_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/planner"
	"github.com/aifx/signalcore/internal/registry"
)

type fakeLister struct {
	entries []registry.SubscriberEntry
}

func (f *fakeLister) ListSubscribers(pair domain.Pair, tf domain.Timeframe) []registry.SubscriberEntry {
	return f.entries
}

type fakeCooldowns struct {
	lastNotified map[string]*domain.SignalChange
	counts       map[string]int
}

func (f *fakeCooldowns) LastNotifiedChangeFor(ctx context.Context, pair domain.Pair, tf domain.Timeframe, subscriberID string) (*domain.SignalChange, error) {
	return f.lastNotified[subscriberID], nil
}

func (f *fakeCooldowns) CountDeliveriesSince(ctx context.Context, subscriberID string, since time.Time) (int, error) {
	return f.counts[subscriberID], nil
}

func basePolicy(subscriberID string) domain.SubscriberPolicy {
	return domain.SubscriberPolicy{
		SubscriberID:      subscriberID,
		MinConfidence:     0.5,
		CooldownMinutes:   60,
		DailyCap:          20,
		Timezone:          "UTC",
		EnabledTimeframes: map[domain.Timeframe]bool{domain.Timeframe1h: true},
		TransportsEnabled: map[domain.Transport]bool{domain.TransportDiscord: true},
	}
}

func baseChange() domain.SignalChange {
	return domain.SignalChange{
		ID:            "chg-1",
		Pair:          "EUR/USD",
		Timeframe:     domain.Timeframe1h,
		NewAction:     domain.ActionBuy,
		NewConfidence: 0.8,
		Strength:      domain.StrengthStrong,
		DetectedAt:    time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestPlanFiltersByConfidenceFloor(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.MinConfidence = 0.9
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	cooldowns := &fakeCooldowns{lastNotified: map[string]*domain.SignalChange{}, counts: map[string]int{}}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	deliveries, err := p.Plan(context.Background(), baseChange(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestPlanFiltersByCooldown(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.CooldownMinutes = 60
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	now := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)
	recentNotify := now.Add(-10 * time.Minute)
	cooldowns := &fakeCooldowns{
		lastNotified: map[string]*domain.SignalChange{
			"sub-1": {NotifiedAt: &recentNotify},
		},
		counts: map[string]int{},
	}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	deliveries, err := p.Plan(context.Background(), baseChange(), now)
	require.NoError(t, err)
	assert.Empty(t, deliveries, "within cooldown window, no delivery should be planned")
}

func TestPlanAllowsDeliveryAfterCooldownElapses(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.CooldownMinutes = 60
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	now := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)
	staleNotify := now.Add(-90 * time.Minute)
	cooldowns := &fakeCooldowns{
		lastNotified: map[string]*domain.SignalChange{
			"sub-1": {NotifiedAt: &staleNotify},
		},
		counts: map[string]int{},
	}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	deliveries, err := p.Plan(context.Background(), baseChange(), now)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "sub-1", deliveries[0].SubscriberID)
}

func TestPlanRespectsMuteWindowAcrossMidnight(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.Timezone = "UTC"
	policy.MuteWindows = []domain.MuteWindow{{Start: 23 * time.Hour, End: 7 * time.Hour}}
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	cooldowns := &fakeCooldowns{lastNotified: map[string]*domain.SignalChange{}, counts: map[string]int{}}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	mutedAt := time.Date(2026, 7, 30, 2, 0, 0, 0, time.UTC)
	deliveries, err := p.Plan(context.Background(), baseChange(), mutedAt)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	awakeAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	deliveries, err = p.Plan(context.Background(), baseChange(), awakeAt)
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)
}

func TestPlanFiltersByDailyCap(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.DailyCap = 3
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	cooldowns := &fakeCooldowns{
		lastNotified: map[string]*domain.SignalChange{},
		counts:       map[string]int{"sub-1": 3},
	}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	deliveries, err := p.Plan(context.Background(), baseChange(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestPlanFiltersHoldSignalsByDefault(t *testing.T) {
	policy := basePolicy("sub-1")
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	cooldowns := &fakeCooldowns{lastNotified: map[string]*domain.SignalChange{}, counts: map[string]int{}}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	change := baseChange()
	change.NewAction = domain.ActionHold
	deliveries, err := p.Plan(context.Background(), change, time.Now())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestPlanFiltersByStrongOnlyPolicy(t *testing.T) {
	policy := basePolicy("sub-1")
	policy.StrongOnly = true
	lister := &fakeLister{entries: []registry.SubscriberEntry{
		{SubscriberID: "sub-1", Transport: domain.TransportDiscord, Policy: policy},
	}}
	cooldowns := &fakeCooldowns{lastNotified: map[string]*domain.SignalChange{}, counts: map[string]int{}}
	p := planner.New(zerolog.Nop(), lister, cooldowns)

	change := baseChange()
	change.Strength = domain.StrengthModerate
	deliveries, err := p.Plan(context.Background(), change, time.Now())
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}
