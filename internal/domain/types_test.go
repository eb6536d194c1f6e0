package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
)

func TestPairValid(t *testing.T) {
	assert.True(t, domain.Pair("EUR/USD").Valid())
	assert.False(t, domain.Pair("eurusd").Valid())
	assert.False(t, domain.Pair("EUR-USD").Valid())
}

func TestPairPipMultiplier(t *testing.T) {
	assert.True(t, decimal.NewFromInt(100).Equal(domain.Pair("USD/JPY").PipMultiplier()))
	assert.True(t, decimal.NewFromInt(10000).Equal(domain.Pair("EUR/USD").PipMultiplier()))
}

func TestStrengthFromConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       domain.Strength
	}{
		{0.0, domain.StrengthWeak},
		{0.49, domain.StrengthWeak},
		{0.5, domain.StrengthModerate},
		{0.64, domain.StrengthModerate},
		{0.65, domain.StrengthStrong},
		{0.79, domain.StrengthStrong},
		{0.8, domain.StrengthVeryStrong},
		{1.0, domain.StrengthVeryStrong},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, domain.StrengthFromConfidence(c.confidence), "confidence=%v", c.confidence)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.StatusActive, domain.StatusTriggered))
	assert.True(t, domain.CanTransition(domain.StatusActive, domain.StatusCancelled))
	assert.False(t, domain.CanTransition(domain.StatusTriggered, domain.StatusActive))
	assert.False(t, domain.CanTransition(domain.StatusExpired, domain.StatusActive))
	// re-applying the same terminal status is idempotent, not illegal
	assert.True(t, domain.CanTransition(domain.StatusTriggered, domain.StatusTriggered))
}

func TestSignalValidateBuy(t *testing.T) {
	sig := domain.Signal{
		Action:     domain.ActionBuy,
		Confidence: 0.754,
		Strength:   domain.StrengthStrong,
		EntryPrice: decimal.NewFromFloat(1.1000),
		StopLoss:   decimal.NewNullDecimal(decimal.NewFromFloat(1.0950)),
		TakeProfit: decimal.NewNullDecimal(decimal.NewFromFloat(1.1100)),
	}
	require.NoError(t, sig.Validate())

	bad := sig
	bad.StopLoss = decimal.NewNullDecimal(decimal.NewFromFloat(1.1050)) // wrong side of entry
	assert.ErrorIs(t, bad.Validate(), domain.ErrPricingInvariant)
}

func TestSignalValidateSell(t *testing.T) {
	sig := domain.Signal{
		Action:     domain.ActionSell,
		Confidence: 0.7,
		Strength:   domain.StrengthStrong,
		EntryPrice: decimal.NewFromFloat(1.1000),
		StopLoss:   decimal.NewNullDecimal(decimal.NewFromFloat(1.1050)),
		TakeProfit: decimal.NewNullDecimal(decimal.NewFromFloat(1.0900)),
	}
	require.NoError(t, sig.Validate())
}

func TestSignalValidateHoldRequiresNullPricing(t *testing.T) {
	sig := domain.Signal{
		Action:     domain.ActionHold,
		Confidence: 0.1,
		Strength:   domain.StrengthWeak,
		EntryPrice: decimal.NewFromFloat(1.1000),
	}
	require.NoError(t, sig.Validate())

	bad := sig
	bad.StopLoss = decimal.NewNullDecimal(decimal.NewFromFloat(1.0950))
	assert.ErrorIs(t, bad.Validate(), domain.ErrPricingInvariant)
}

func TestMuteWindowWrapsMidnight(t *testing.T) {
	w := domain.MuteWindow{Start: 23 * time.Hour, End: 7 * time.Hour}
	assert.True(t, w.Contains(23*time.Hour))
	assert.True(t, w.Contains(0))
	assert.True(t, w.Contains(6*time.Hour+59*time.Minute))
	assert.False(t, w.Contains(7 * time.Hour))
	assert.False(t, w.Contains(12 * time.Hour))
}

func TestMuteWindowBoundaryInclusive(t *testing.T) {
	w := domain.MuteWindow{Start: 0, End: 7 * time.Hour}
	assert.True(t, w.Contains(0), "00:00 is muted (inclusive)")
	assert.False(t, w.Contains(7*time.Hour), "07:00 is not muted (exclusive)")
}

func TestPositionResult(t *testing.T) {
	closedAt := time.Now()
	p := domain.Position{
		Status:          domain.PositionClosed,
		ClosedAt:        &closedAt,
		RealizedPnLPips: decimal.NewNullDecimal(decimal.NewFromInt(-51)),
	}
	result, ok := p.Result()
	require.True(t, ok)
	assert.Equal(t, domain.ResultLoss, result)
}
