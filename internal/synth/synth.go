// Package synth fuses ML predictions with technical indicators into a
// Signal, per §4.5. The technical vote and the ATR/price volatility
// percentile are computed with gonum so downstream reasoning about the
// weighting is auditable rather than ad hoc arithmetic.
package synth

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/mlclient"
)

// thetaHold is the dead-zone around zero below which the technical vote
// maps to hold rather than buy/sell (§4.5 step 2).
const thetaHold = 0.15

// mlConfidenceFloor is the threshold at or above which the ML direction wins
// over the technical direction when both are fused (§4.5 step 3).
const mlConfidenceFloor = 0.6

// atrStopMultiplier (k) sets SL = entry ∓ k·ATR; TP is placed at 2k·ATR
// so risk_reward_ratio is always exactly 2.0 by construction (§4.5 step 4).
const atrStopMultiplier = 1.5

// voteWeights are the weights applied to, in order: trend (EMA cross),
// momentum (RSI zone), MACD histogram sign, Bollinger position.
var voteWeights = []float64{0.30, 0.25, 0.25, 0.20}

// Synthesize fuses technical indicators and an optional ML prediction for
// (pair, timeframe, series) into a Signal honoring the §3 pricing
// invariants.
func Synthesize(pair domain.Pair, tf domain.Timeframe, series domain.BarSeries, ind domain.IndicatorSet, ml *mlclient.Prediction, now time.Time) (domain.Signal, error) {
	latest, ok := series.Latest()
	if !ok {
		return domain.Signal{}, fmt.Errorf("synth: empty bar series for %s %s", pair, tf)
	}
	entry, _ := latest.Close.Float64()

	vote := technicalVote(ind, entry)
	techAction := actionFromVote(vote)
	cTech := clamp01(math.Abs(vote)) // map [-1,1] vote to a [0,1] confidence magnitude

	var finalConfidence float64
	var finalAction domain.Action
	var source domain.Source
	var modelVersion *string
	var factors domain.Factors

	if ml != nil {
		finalConfidence = 0.7*ml.Confidence + 0.3*cTech
		if ml.Confidence >= mlConfidenceFloor {
			finalAction = ml.Direction
		} else {
			finalAction = techAction
		}
		source = domain.SourceMLEnhanced
		mv := ml.ModelVersion
		modelVersion = &mv
		factors = ml.Factors
	} else {
		finalConfidence = cTech
		finalAction = techAction
		source = domain.SourceTechnicalOnly
		factors = domain.Factors{Technical: cTech}
	}
	finalConfidence = clamp01(finalConfidence)

	period, err := tf.Duration()
	if err != nil {
		return domain.Signal{}, err
	}

	sig := domain.Signal{
		ID:              uuid.NewString(),
		Pair:            pair,
		Timeframe:       tf,
		GeneratedAt:     now,
		Action:          finalAction,
		Confidence:      finalConfidence,
		Strength:        domain.StrengthFromConfidence(finalConfidence),
		EntryPrice:      decimal.NewFromFloat(entry),
		MarketCondition: marketCondition(series, ind, entry),
		Source:          source,
		ModelVersion:    modelVersion,
		Factors:         factors,
		Status:          domain.StatusActive,
		ExpiresAt:       now.Add(4 * period),
		ActualOutcome:   domain.OutcomePending,
	}

	applyPricing(&sig, ind, entry)

	if err := sig.Validate(); err != nil {
		// Pricing invariant could not be satisfied (e.g. degenerate ATR);
		// downgrade to hold rather than emit an invalid buy/sell (§4.5 step 8).
		sig.Action = domain.ActionHold
		sig.StopLoss = decimal.NullDecimal{}
		sig.TakeProfit = decimal.NullDecimal{}
		sig.RiskRewardRatio = decimal.NullDecimal{}
		if verr := sig.Validate(); verr != nil {
			return domain.Signal{}, fmt.Errorf("synth: signal invalid even after hold downgrade: %w", verr)
		}
	}

	return sig, nil
}

// technicalVote computes a weighted vote in [-1, 1] across four signals:
// trend (EMA12 vs EMA26 cross), momentum (RSI zone), MACD histogram
// sign, and Bollinger band position.
func technicalVote(ind domain.IndicatorSet, price float64) float64 {
	trend := sign(ind.EMA12 - ind.EMA26)
	momentum := rsiVote(ind.RSI14)
	macdVote := sign(ind.MACDHist)
	bbVote := bollingerVote(ind, price)

	votes := []float64{trend, momentum, macdVote, bbVote}
	return clampVote(floats.Dot(voteWeights, votes))
}

func rsiVote(rsi float64) float64 {
	switch {
	case rsi >= 70:
		return 1.0
	case rsi >= 55:
		return 0.5
	case rsi <= 30:
		return -1.0
	case rsi <= 45:
		return -0.5
	default:
		return 0
	}
}

func bollingerVote(ind domain.IndicatorSet, price float64) float64 {
	width := ind.BollingerUpper - ind.BollingerLower
	if width <= 0 {
		return 0
	}
	// position in [-1, 1]: -1 at the lower band, +1 at the upper band.
	position := 2*(price-ind.BollingerLower)/width - 1
	// Price pinned to a band edge is read as continuation, not reversal.
	return clampVote(position)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clampVote(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func actionFromVote(vote float64) domain.Action {
	switch {
	case vote >= thetaHold:
		return domain.ActionBuy
	case vote <= -thetaHold:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// applyPricing sets ATR-derived SL/TP targeting risk_reward_ratio == 2.0.
func applyPricing(sig *domain.Signal, ind domain.IndicatorSet, entry float64) {
	if sig.Action == domain.ActionHold || ind.ATR14 <= 0 {
		return
	}

	k := atrStopMultiplier * ind.ATR14
	var sl, tp float64
	switch sig.Action {
	case domain.ActionBuy:
		sl = entry - k
		tp = entry + 2*k
	case domain.ActionSell:
		sl = entry + k
		tp = entry - 2*k
	}

	sig.StopLoss = decimal.NewNullDecimal(decimal.NewFromFloat(sl))
	sig.TakeProfit = decimal.NewNullDecimal(decimal.NewFromFloat(tp))
	sig.RiskRewardRatio = decimal.NewNullDecimal(decimal.NewFromFloat(2.0))
}

// marketCondition classifies volatility regime from the percentile rank
// of the current ATR/price ratio within its own trailing distribution
// (§4.5 step 6): volatile above the 80th percentile, calm below the
// 20th, trending otherwise. The percentile is estimated via a normal
// approximation over the trailing ATR/price ratio series.
func marketCondition(series domain.BarSeries, ind domain.IndicatorSet, price float64) domain.MarketCondition {
	ratios := atrPriceRatios(series)
	if len(ratios) < 2 || price <= 0 {
		return domain.ConditionTrending
	}

	mean, std := stat.MeanStdDev(ratios, nil)
	if std <= 0 {
		return domain.ConditionTrending
	}

	current := ind.ATR14 / price
	z := (current - mean) / std
	percentile := distuv.Normal{Mu: 0, Sigma: 1}.CDF(z)

	switch {
	case percentile > 0.8:
		return domain.ConditionVolatile
	case percentile < 0.2:
		return domain.ConditionCalm
	default:
		return domain.ConditionTrending
	}
}

// atrPriceRatios approximates a trailing ATR/price series from simple
// high-low ranges, giving the percentile estimate a population to
// compare the current ATR reading against without a second indicator pass.
func atrPriceRatios(series domain.BarSeries) []float64 {
	bars := series.Bars
	if len(bars) == 0 {
		return nil
	}
	ratios := make([]float64, 0, len(bars))
	for _, b := range bars {
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		close, _ := b.Close.Float64()
		if close <= 0 {
			continue
		}
		ratios = append(ratios, (high-low)/close)
	}
	return ratios
}
