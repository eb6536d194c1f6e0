package changedetect_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/changedetect"
	"github.com/aifx/signalcore/internal/domain"
)

func sig(action domain.Action, confidence float64) domain.Signal {
	return domain.Signal{
		Pair: "EUR/USD", Timeframe: domain.Timeframe1h,
		Action: action, Confidence: confidence, Strength: domain.StrengthFromConfidence(confidence),
	}
}

func TestFirstSignalIsAlwaysNotifiable(t *testing.T) {
	change := changedetect.Detect(nil, sig(domain.ActionBuy, 0.754))
	require.NotNil(t, change)
	assert.Nil(t, change.OldAction)
}

func TestActionFlipIsNotifiable(t *testing.T) {
	prior := sig(domain.ActionBuy, 0.70)
	change := changedetect.Detect(&prior, sig(domain.ActionSell, 0.72))
	require.NotNil(t, change)
	assert.Equal(t, domain.ActionBuy, *change.OldAction)
}

func TestTinyConfidenceDriftIsNotNotifiable(t *testing.T) {
	prior := sig(domain.ActionBuy, 0.80)
	change := changedetect.Detect(&prior, sig(domain.ActionBuy, 0.85))
	assert.Nil(t, change, "both readings land in very_strong band; drift 0.05 < 0.1")
}

func TestConfidenceDriftExactlyAtThresholdIsNotifiable(t *testing.T) {
	prior := sig(domain.ActionBuy, 0.80)
	change := changedetect.Detect(&prior, sig(domain.ActionBuy, 0.90))
	require.NotNil(t, change, "0.1 drift is inclusive per boundary behavior")
}

func TestStrengthCrossingUpwardIsNotifiable(t *testing.T) {
	prior := sig(domain.ActionBuy, 0.55) // moderate
	new := sig(domain.ActionBuy, 0.58)   // still moderate, confidence drift < 0.1
	change := changedetect.Detect(&prior, new)
	assert.Nil(t, change)

	priorWeak := domain.Signal{Action: domain.ActionBuy, Confidence: 0.45, Strength: domain.StrengthWeak}
	newModerate := domain.Signal{Action: domain.ActionBuy, Confidence: 0.50, Strength: domain.StrengthModerate}
	change = changedetect.Detect(&priorWeak, newModerate)
	require.NotNil(t, change, "crossing weak -> moderate is notifiable even with < 0.1 drift")
}

func TestStrengthCrossingDownwardAloneIsNotNotifiable(t *testing.T) {
	prior := domain.Signal{Action: domain.ActionBuy, Confidence: 0.66, Strength: domain.StrengthStrong}
	new := domain.Signal{Action: domain.ActionBuy, Confidence: 0.64, Strength: domain.StrengthModerate}
	change := changedetect.Detect(&prior, new)
	assert.Nil(t, change, "downward strength crossing with < 0.1 drift is not notifiable")
}
