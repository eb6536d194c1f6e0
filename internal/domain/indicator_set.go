package domain

// IndicatorSet holds the named numeric features derived deterministically
// from a BarSeries suffix by the Indicator Engine (§4.3). Immutable once
// computed.
type IndicatorSet struct {
	SMA20 float64

	EMA12 float64
	EMA26 float64

	RSI14 float64

	MACD       float64
	MACDSignal float64
	MACDHist   float64

	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64

	ATR14 float64
}
