package indicators_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/indicators"
)

func buildSeries(n int, start, step float64) domain.BarSeries {
	bars := make([]domain.Bar, n)
	price := start
	ts := time.Now().Add(-time.Duration(n) * time.Hour)
	for i := 0; i < n; i++ {
		o := decimal.NewFromFloat(price)
		h := decimal.NewFromFloat(price + 0.002)
		l := decimal.NewFromFloat(price - 0.002)
		c := decimal.NewFromFloat(price + step/2)
		bars[i] = domain.Bar{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      o,
			High:      h,
			Low:       l,
			Close:     c,
			Volume:    decimal.NewFromInt(1000),
		}
		price += step
	}
	return domain.BarSeries{Pair: "EUR/USD", Timeframe: domain.Timeframe1h, Bars: bars}
}

func TestComputeFailsWithInsufficientHistory(t *testing.T) {
	series := buildSeries(10, 1.10, 0.0005)
	_, err := indicators.Compute(series)
	assert.ErrorIs(t, err, indicators.ErrInsufficientHistory)
}

func TestComputeIsDeterministic(t *testing.T) {
	series := buildSeries(60, 1.10, 0.0005)
	a, err := indicators.Compute(series)
	require.NoError(t, err)
	b, err := indicators.Compute(series)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeProducesNonZeroIndicators(t *testing.T) {
	series := buildSeries(60, 1.10, 0.0005)
	set, err := indicators.Compute(series)
	require.NoError(t, err)
	assert.NotZero(t, set.SMA20)
	assert.NotZero(t, set.EMA12)
	assert.NotZero(t, set.ATR14)
}
