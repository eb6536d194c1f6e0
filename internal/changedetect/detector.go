// Package changedetect decides whether a newly synthesized Signal
// constitutes a notifiable change versus the prior persisted Signal
// (§4.7). Pure function of (prior, new): no time dependence, no I/O.
package changedetect

import (
	"math"

	"github.com/aifx/signalcore/internal/domain"
)

// confidenceDriftThreshold is the minimum |Δconfidence| (inclusive) that
// is notifiable when the action is unchanged (§8 boundary: exactly 0.1
// is notifiable).
const confidenceDriftThreshold = 0.1

// driftEpsilon absorbs float64 rounding in the drift subtraction, so a
// drift such as 0.9-0.8 (0.09999999999999998 in float64) still counts as 0.1.
const driftEpsilon = 1e-9

// Detect returns the SignalChange to append if new constitutes a
// notifiable change versus prior, or nil if not notifiable. prior is nil
// for the first signal ever generated for a (pair, timeframe).
func Detect(prior *domain.Signal, new domain.Signal) *domain.SignalChange {
	if !isNotifiable(prior, new) {
		return nil
	}

	change := &domain.SignalChange{
		Pair:            new.Pair,
		Timeframe:       new.Timeframe,
		NewAction:       new.Action,
		NewConfidence:   new.Confidence,
		Strength:        new.Strength,
		MarketCondition: new.MarketCondition,
		DetectedAt:      new.GeneratedAt,
	}
	if prior != nil {
		action := prior.Action
		confidence := prior.Confidence
		change.OldAction = &action
		change.OldConfidence = &confidence
	}
	return change
}

func isNotifiable(prior *domain.Signal, new domain.Signal) bool {
	if prior == nil {
		return true
	}
	if new.Action != prior.Action {
		return true
	}
	if math.Abs(new.Confidence-prior.Confidence) >= confidenceDriftThreshold-driftEpsilon {
		return true
	}
	if new.Strength.Rank() > prior.Strength.Rank() {
		return true
	}
	return false
}
