// Package indicators computes the fixed set of technical indicators the
// Signal Synthesizer consumes: SMA(20), EMA(12), EMA(26), RSI(14),
// MACD(12,26,9), Bollinger(20,2), ATR(14). Compute is pure and
// deterministic: same series and spec always produce byte-identical
// output (§8 "Indicator functions are referentially transparent").
package indicators

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"github.com/aifx/signalcore/internal/domain"
)

const (
	smaWindow  = 20
	emaFast    = 12
	emaSlow    = 26
	rsiWindow  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	bbWindow   = 20
	bbStdDev   = 2.0
	atrWindow  = 14
)

// maxWindow is the longest lookback any enumerated indicator needs.
// MACD's signal line needs macdSlow+macdSignal-1 closes to stabilize.
const maxWindow = macdSlow + macdSignal - 1

// MinRequiredBars is the fewest bars Compute can ever succeed on;
// callers fetching a series to feed Compute should request at least
// this many (§8 "must validate len(series) >= max_window").
const MinRequiredBars = maxWindow

// Compute derives the full IndicatorSet from a BarSeries. It fails with
// ErrInsufficientHistory if the series has fewer than maxWindow bars.
func Compute(series domain.BarSeries) (domain.IndicatorSet, error) {
	if len(series.Bars) < maxWindow {
		return domain.IndicatorSet{}, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(series.Bars), maxWindow)
	}

	closes := series.Closes()
	highs := make([]float64, len(series.Bars))
	lows := make([]float64, len(series.Bars))
	for i, b := range series.Bars {
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
	}

	sma := talib.Sma(closes, smaWindow)
	ema12 := talib.Ema(closes, emaFast)
	ema26 := talib.Ema(closes, emaSlow)
	rsi := talib.Rsi(closes, rsiWindow)
	macd, macdSig, macdHist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	upper, middle, lower := talib.BBands(closes, bbWindow, bbStdDev, bbStdDev, talib.SMA)
	atr := talib.Atr(highs, lows, closes, atrWindow)

	return domain.IndicatorSet{
		SMA20:           last(sma),
		EMA12:           last(ema12),
		EMA26:           last(ema26),
		RSI14:           last(rsi),
		MACD:            last(macd),
		MACDSignal:      last(macdSig),
		MACDHist:        last(macdHist),
		BollingerUpper:  last(upper),
		BollingerMiddle: last(middle),
		BollingerLower:  last(lower),
		ATR14:           last(atr),
	}, nil
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
