package synth_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/mlclient"
	"github.com/aifx/signalcore/internal/synth"
)

func seriesWithClose(close float64) domain.BarSeries {
	return domain.BarSeries{
		Pair:      "EUR/USD",
		Timeframe: domain.Timeframe1h,
		Bars: []domain.Bar{
			{
				Timestamp: time.Now().UTC(),
				Open:      decimal.NewFromFloat(close - 0.001),
				High:      decimal.NewFromFloat(close + 0.002),
				Low:       decimal.NewFromFloat(close - 0.003),
				Close:     decimal.NewFromFloat(close),
				Volume:    decimal.NewFromInt(1000),
			},
		},
	}
}

func TestSynthesizeBuyHonorsPricingInvariant(t *testing.T) {
	series := seriesWithClose(1.1000)
	ind := domain.IndicatorSet{
		EMA12: 1.102, EMA26: 1.098, RSI14: 65, MACDHist: 0.01,
		BollingerUpper: 1.11, BollingerLower: 1.09, BollingerMiddle: 1.10,
		ATR14: 0.0025,
	}
	ml := &mlclient.Prediction{Direction: domain.ActionBuy, Confidence: 0.82, ModelVersion: "v3.1"}

	sig, err := synth.Synthesize("EUR/USD", domain.Timeframe1h, series, ind, ml, time.Now())
	require.NoError(t, err)
	require.NoError(t, sig.Validate())
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.Equal(t, domain.SourceMLEnhanced, sig.Source)
	assert.InDelta(t, 0.7*0.82+0.3*sig.Factors.Technical, sig.Confidence, 0.5, "confidence combines ml and technical")
}

func TestSynthesizeWithoutMLIsTechnicalOnly(t *testing.T) {
	series := seriesWithClose(1.1000)
	ind := domain.IndicatorSet{
		EMA12: 1.095, EMA26: 1.10, RSI14: 40, MACDHist: -0.01,
		BollingerUpper: 1.11, BollingerLower: 1.09, BollingerMiddle: 1.10,
		ATR14: 0.0025,
	}

	sig, err := synth.Synthesize("EUR/USD", domain.Timeframe1h, series, ind, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTechnicalOnly, sig.Source)
}

func TestSynthesizeHoldHasNullPricing(t *testing.T) {
	series := seriesWithClose(1.1000)
	ind := domain.IndicatorSet{
		EMA12: 1.10, EMA26: 1.10, RSI14: 50, MACDHist: 0,
		BollingerUpper: 1.105, BollingerLower: 1.095, BollingerMiddle: 1.10,
		ATR14: 0.0025,
	}

	sig, err := synth.Synthesize("EUR/USD", domain.Timeframe1h, series, ind, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)
	assert.False(t, sig.StopLoss.Valid)
	assert.False(t, sig.TakeProfit.Valid)
}

func TestSynthesizeDowngradesToHoldOnDegenerateATR(t *testing.T) {
	series := seriesWithClose(1.1000)
	ind := domain.IndicatorSet{
		EMA12: 1.105, EMA26: 1.095, RSI14: 75, MACDHist: 0.02,
		BollingerUpper: 1.11, BollingerLower: 1.09, BollingerMiddle: 1.10,
		ATR14: 0, // degenerate: no ATR means no SL/TP can be derived
	}

	sig, err := synth.Synthesize("EUR/USD", domain.Timeframe1h, series, ind, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.ActionHold, sig.Action)
}

func TestSynthesizeExpiresAt4xTimeframe(t *testing.T) {
	now := time.Now().UTC()
	series := seriesWithClose(1.1000)
	ind := domain.IndicatorSet{
		EMA12: 1.102, EMA26: 1.098, RSI14: 60, MACDHist: 0.01,
		BollingerUpper: 1.11, BollingerLower: 1.09, BollingerMiddle: 1.10,
		ATR14: 0.0025,
	}

	sig, err := synth.Synthesize("EUR/USD", domain.Timeframe1h, series, ind, nil, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(4*time.Hour), sig.ExpiresAt)
}
