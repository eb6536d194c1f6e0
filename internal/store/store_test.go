package store_test

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
	"github.com/aifx/signalcore/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "signalcore_test.db")
	db, err := database.New(database.Config{Path: dbPath, Name: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := store.New(db, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func sampleSignal(pair domain.Pair, tf domain.Timeframe, confidence float64) domain.Signal {
	return domain.Signal{
		ID:              "sig-" + string(pair),
		Pair:            pair,
		Timeframe:       tf,
		GeneratedAt:     time.Now().UTC(),
		Action:          domain.ActionBuy,
		Confidence:      confidence,
		Strength:        domain.StrengthFromConfidence(confidence),
		EntryPrice:      decimal.NewFromFloat(1.1000),
		StopLoss:        decimal.NewNullDecimal(decimal.NewFromFloat(1.0950)),
		TakeProfit:      decimal.NewNullDecimal(decimal.NewFromFloat(1.1100)),
		RiskRewardRatio: decimal.NewNullDecimal(decimal.NewFromFloat(2.0)),
		MarketCondition: domain.ConditionTrending,
		Source:          domain.SourceTechnicalOnly,
		Status:          domain.StatusActive,
		ExpiresAt:       time.Now().Add(4 * time.Hour).UTC(),
		ActualOutcome:   domain.OutcomePending,
	}
}

func TestGetLatestReturnsNilWhenEmpty(t *testing.T) {
	s := newTestStore(t)
	sig, err := s.GetLatest(context.Background(), "EUR/USD", domain.Timeframe1h)
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestPutThenGetLatestRoundTrips(t *testing.T) {
	s := newTestStore(t)
	sig := sampleSignal("EUR/USD", domain.Timeframe1h, 0.754)
	require.NoError(t, s.Put(context.Background(), sig))

	got, err := s.GetLatest(context.Background(), "EUR/USD", domain.Timeframe1h)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sig.ID, got.ID)
	assert.Equal(t, sig.Action, got.Action)
	assert.InDelta(t, sig.Confidence, got.Confidence, 1e-9)
	assert.True(t, sig.StopLoss.Decimal.Equal(got.StopLoss.Decimal))
}

func TestPutWithChangeIsAtomic(t *testing.T) {
	s := newTestStore(t)
	sig := sampleSignal("EUR/USD", domain.Timeframe1h, 0.754)
	change := domain.SignalChange{
		ID: "chg-1", Pair: sig.Pair, Timeframe: sig.Timeframe,
		NewAction: domain.ActionBuy, NewConfidence: 0.754,
		Strength: domain.StrengthStrong, MarketCondition: domain.ConditionTrending,
		DetectedAt: time.Now().UTC(), NotifiedSubscribers: []string{},
	}
	require.NoError(t, s.PutWithChange(context.Background(), sig, &change))

	gotSig, err := s.GetLatest(context.Background(), sig.Pair, sig.Timeframe)
	require.NoError(t, err)
	require.NotNil(t, gotSig)

	gotChange, err := s.LastChange(context.Background(), sig.Pair, sig.Timeframe)
	require.NoError(t, err)
	require.NotNil(t, gotChange)
	assert.Equal(t, change.ID, gotChange.ID)
}

func TestUpdateStatusEnforcesLegalTransitions(t *testing.T) {
	s := newTestStore(t)
	sig := sampleSignal("EUR/USD", domain.Timeframe1h, 0.754)
	require.NoError(t, s.Put(context.Background(), sig))

	err := s.UpdateStatus(context.Background(), sig.ID, domain.StatusTriggered, nil, decimal.NullDecimal{}, domain.OutcomePending)
	require.NoError(t, err)

	// illegal: triggered -> active
	err = s.UpdateStatus(context.Background(), sig.ID, domain.StatusActive, nil, decimal.NullDecimal{}, domain.OutcomePending)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestUpdateStatusReapplyingSameStatusIsNoOp(t *testing.T) {
	s := newTestStore(t)
	sig := sampleSignal("EUR/USD", domain.Timeframe1h, 0.754)
	require.NoError(t, s.Put(context.Background(), sig))

	require.NoError(t, s.UpdateStatus(context.Background(), sig.ID, domain.StatusStopped, nil, decimal.NullDecimal{}, domain.OutcomeLoss))
	require.NoError(t, s.UpdateStatus(context.Background(), sig.ID, domain.StatusStopped, nil, decimal.NullDecimal{}, domain.OutcomeLoss))
}

func TestStampNotifiedIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sig := sampleSignal("EUR/USD", domain.Timeframe1h, 0.754)
	change := domain.SignalChange{
		ID: "chg-2", Pair: sig.Pair, Timeframe: sig.Timeframe,
		NewAction: domain.ActionBuy, NewConfidence: 0.754,
		Strength: domain.StrengthStrong, MarketCondition: domain.ConditionTrending,
		DetectedAt: time.Now().UTC(), NotifiedSubscribers: []string{},
	}
	require.NoError(t, s.PutWithChange(context.Background(), sig, &change))

	now := time.Now().UTC()
	require.NoError(t, s.StampNotified(context.Background(), change.ID, "sub-1", now))
	require.NoError(t, s.StampNotified(context.Background(), change.ID, "sub-1", now.Add(time.Minute)))

	got, err := s.LastChange(context.Background(), sig.Pair, sig.Timeframe)
	require.NoError(t, err)
	require.NotNil(t, got.NotifiedAt)
	assert.Equal(t, []string{"sub-1"}, got.NotifiedSubscribers)
}
