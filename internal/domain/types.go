// Package domain defines the value objects shared across the signal
// pipeline: pairs, timeframes, bars, signals, changes, subscriptions,
// policies, and positions. Types here are plain value objects — owning
// packages (store, registry, positions) are responsible for persistence
// and lifecycle transitions.
package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// Pair is a currency pair symbol of the form "XXX/YYY".
type Pair string

var pairPattern = regexp.MustCompile(`^[A-Z]{3}/[A-Z]{3}$`)

// Valid reports whether the pair matches the XXX/YYY ISO-4217-like form.
func (p Pair) Valid() bool { return pairPattern.MatchString(string(p)) }

// IsJPY reports whether the quote currency is JPY, which uses a different
// pip multiplier than other pairs.
func (p Pair) IsJPY() bool {
	return len(p) == 7 && string(p)[4:] == "JPY"
}

// PipMultiplier returns the multiplier used to convert a price delta into
// pips: 100 for JPY-quoted pairs, 10,000 otherwise.
func (p Pair) PipMultiplier() decimal.Decimal {
	if p.IsJPY() {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(10000)
}

// Timeframe is a canonical bar granularity.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1M  Timeframe = "1M"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe1h:  time.Hour,
	Timeframe4h:  4 * time.Hour,
	Timeframe1d:  24 * time.Hour,
	Timeframe1w:  7 * 24 * time.Hour,
	Timeframe1M:  30 * 24 * time.Hour,
}

// Valid reports whether tf is one of the nine canonical timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Duration returns the bar length for the timeframe. The scheduler's
// native fire period equals this except for 1m, which it coalesces to a
// floor of 15 seconds (see scheduler.EffectivePeriod).
func (tf Timeframe) Duration() (time.Duration, error) {
	d, ok := timeframeDurations[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeframe, tf)
	}
	return d, nil
}

// Bar is one OHLCV candle. Invariants: Low <= Open,Close <= High and
// Low <= High; Timestamp is UTC and bar-aligned.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Valid checks the OHLC ordering invariant.
func (b Bar) Valid() bool {
	if b.Low.GreaterThan(b.High) {
		return false
	}
	if b.Open.LessThan(b.Low) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Close.LessThan(b.Low) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// BarSeries is an ordered, timestamp-unique sequence of Bars for one
// (pair, timeframe).
type BarSeries struct {
	Pair      Pair
	Timeframe Timeframe
	Bars      []Bar
	// Stale is set by the Gateway when every provider failed and a cached
	// series is returned as a last resort.
	Stale bool
}

// Latest returns the most recent bar, or the zero Bar and false if empty.
func (s BarSeries) Latest() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Closes returns the close prices as float64, the shape go-talib expects.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		f, _ := b.Close.Float64()
		out[i] = f
	}
	return out
}

// Action is the directional decision of a Signal.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Strength is the confidence band of a Signal.
type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
)

// strengthRank orders bands for the Change Detector's "crossed upward"
// test; higher means stronger.
var strengthRank = map[Strength]int{
	StrengthWeak:       0,
	StrengthModerate:   1,
	StrengthStrong:     2,
	StrengthVeryStrong: 3,
}

// StrengthFromConfidence maps a confidence value to its band per §4.5:
// [0,0.5) weak, [0.5,0.65) moderate, [0.65,0.8) strong, [0.8,1] very_strong.
func StrengthFromConfidence(confidence float64) Strength {
	switch {
	case confidence >= 0.8:
		return StrengthVeryStrong
	case confidence >= 0.65:
		return StrengthStrong
	case confidence >= 0.5:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Rank returns the ordinal position of a strength band, used to detect
// upward-only crossings.
func (s Strength) Rank() int { return strengthRank[s] }

// MarketCondition characterizes volatility regime at signal generation.
type MarketCondition string

const (
	ConditionCalm     MarketCondition = "calm"
	ConditionTrending MarketCondition = "trending"
	ConditionVolatile MarketCondition = "volatile"
)

// Source records whether ML informed the signal.
type Source string

const (
	SourceMLEnhanced   Source = "ml_enhanced"
	SourceTechnicalOnly Source = "technical_only"
)

// SignalStatus is the lifecycle state of a Signal.
type SignalStatus string

const (
	StatusActive    SignalStatus = "active"
	StatusTriggered SignalStatus = "triggered"
	StatusStopped   SignalStatus = "stopped"
	StatusExpired   SignalStatus = "expired"
	StatusCancelled SignalStatus = "cancelled"
)

// legalTransitions enumerates the only allowed status transitions (§4.6):
// active -> {triggered, stopped, expired, cancelled}. Everything else,
// including re-applying the same terminal status, is handled by the
// store (idempotent no-op for same-status, InvalidTransition otherwise).
var legalTransitions = map[SignalStatus]map[SignalStatus]bool{
	StatusActive: {
		StatusTriggered: true,
		StatusStopped:   true,
		StatusExpired:   true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to SignalStatus) bool {
	if from == to {
		return true // idempotent re-application, not a transition
	}
	return legalTransitions[from][to]
}

// Outcome is the realized result of a triggered Signal.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

// Factors is the diagnostic breakdown behind a Signal's confidence.
type Factors struct {
	Technical float64 `json:"technical"`
	Sentiment float64 `json:"sentiment"`
	Pattern   float64 `json:"pattern"`
}

// Signal is the primary synthesized decision record. See §3 for the full
// invariant set; Validate enforces the pricing invariants.
type Signal struct {
	ID          string
	Pair        Pair
	Timeframe   Timeframe
	GeneratedAt time.Time

	Action     Action
	Confidence float64
	Strength   Strength

	EntryPrice      decimal.Decimal
	StopLoss        decimal.NullDecimal
	TakeProfit      decimal.NullDecimal
	RiskRewardRatio decimal.NullDecimal

	MarketCondition MarketCondition
	Source          Source
	ModelVersion    *string
	Factors         Factors

	Status         SignalStatus
	ExpiresAt      time.Time
	TriggeredAt    *time.Time
	TriggeredPrice decimal.NullDecimal
	ActualOutcome  Outcome
}

// Validate enforces the §3 pricing invariants for the signal's action.
func (s Signal) Validate() error {
	switch s.Action {
	case ActionBuy:
		if !s.StopLoss.Valid || !s.TakeProfit.Valid {
			return fmt.Errorf("%w: buy signal missing SL/TP", ErrPricingInvariant)
		}
		if !(s.StopLoss.Decimal.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.TakeProfit.Decimal)) {
			return fmt.Errorf("%w: buy requires stop_loss < entry < take_profit", ErrPricingInvariant)
		}
	case ActionSell:
		if !s.StopLoss.Valid || !s.TakeProfit.Valid {
			return fmt.Errorf("%w: sell signal missing SL/TP", ErrPricingInvariant)
		}
		if !(s.TakeProfit.Decimal.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.StopLoss.Decimal)) {
			return fmt.Errorf("%w: sell requires take_profit < entry < stop_loss", ErrPricingInvariant)
		}
	case ActionHold:
		if s.StopLoss.Valid || s.TakeProfit.Valid {
			return fmt.Errorf("%w: hold signal must have null SL/TP", ErrPricingInvariant)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAction, s.Action)
	}
	if StrengthFromConfidence(s.Confidence) != s.Strength {
		return fmt.Errorf("%w: strength %q does not match confidence %.3f", ErrPricingInvariant, s.Strength, s.Confidence)
	}
	return nil
}

// SignalChange is the append-only notifiable-transition log entry
// described in §3. Never mutated after write except for a single
// NotifiedAt stamp by the Dispatcher on first successful delivery.
type SignalChange struct {
	ID                  string
	Pair                Pair
	Timeframe           Timeframe
	OldAction           *Action
	NewAction           Action
	OldConfidence       *float64
	NewConfidence       float64
	Strength            Strength
	MarketCondition     MarketCondition
	DetectedAt          time.Time
	NotifiedAt          *time.Time
	NotifiedSubscribers []string
}

// Transport is a delivery channel.
type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportDiscord   Transport = "discord"
	TransportLine      Transport = "line"
	TransportEmail     Transport = "email"
)

// Subscription is a (subscriber, transport, pair, timeframe) fan-out row.
// Per SPEC_FULL.md §4 this table is the sole source of truth for fan-out;
// SubscriberPolicy is preference/policy only.
type Subscription struct {
	SubscriberID string
	Transport    Transport
	Pair         Pair
	Timeframe    Timeframe
}

// MuteWindow is a half-open local-time interval, e.g. 00:00-07:00 means
// 00:00 inclusive through 06:59:59.999.
type MuteWindow struct {
	Start time.Duration // offset from local midnight
	End   time.Duration
}

// Contains reports whether the local time-of-day `t` (as an offset from
// midnight) falls within the half-open window, handling windows that
// wrap past midnight (e.g. 23:00-07:00).
func (w MuteWindow) Contains(t time.Duration) bool {
	if w.Start <= w.End {
		return t >= w.Start && t < w.End
	}
	// wraps midnight
	return t >= w.Start || t < w.End
}

// SubscriberPolicy is per-subscriber delivery configuration.
type SubscriberPolicy struct {
	SubscriberID       string
	MinConfidence      float64
	CooldownMinutes    int
	DailyCap           int
	MuteWindows        []MuteWindow
	Timezone           string // IANA name
	EnabledTimeframes  map[Timeframe]bool
	TransportsEnabled  map[Transport]bool
	NotifyOnHold       bool
	StrongOnly         bool // pinned to strength in {strong, very_strong}
}

// AllowsStrength reports whether a signal of the given strength passes
// the subscriber's "strong signals only" filter (Open Question #3,
// resolved in SPEC_FULL.md: strong|very_strong only when StrongOnly).
func (p SubscriberPolicy) AllowsStrength(s Strength) bool {
	if !p.StrongOnly {
		return true
	}
	return s == StrengthStrong || s == StrengthVeryStrong
}

// Direction is a Position's side.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// PositionStatus is the lifecycle state of a Position.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionResult is the realized outcome of a closed Position.
type PositionResult string

const (
	ResultWin       PositionResult = "win"
	ResultLoss      PositionResult = "loss"
	ResultBreakeven PositionResult = "breakeven"
)

// Position is a subscriber's open or closed trade being monitored.
type Position struct {
	ID               string
	SubscriberID     string
	Pair             Pair
	Direction        Direction
	EntryPrice       decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfit       decimal.Decimal
	PositionSize     decimal.Decimal
	OpenedAt         time.Time
	Status           PositionStatus
	ClosedAt         *time.Time
	ExitPrice        decimal.NullDecimal
	RealizedPnLPips  decimal.NullDecimal
}

// PipsFromMove converts a raw price delta into pips for this position's
// pair, signed the same way the delta is signed.
func PipsFromMove(pair Pair, delta decimal.Decimal) decimal.Decimal {
	return delta.Mul(pair.PipMultiplier())
}

// Result derives the win/loss/breakeven outcome from realized pips.
func (p Position) Result() (PositionResult, bool) {
	if p.Status != PositionClosed || !p.RealizedPnLPips.Valid {
		return "", false
	}
	switch {
	case p.RealizedPnLPips.Decimal.IsZero():
		return ResultBreakeven, true
	case p.RealizedPnLPips.Decimal.IsPositive():
		return ResultWin, true
	default:
		return ResultLoss, true
	}
}

// TrendDirection is the monitoring loop's read on short-term price drift.
type TrendDirection string

const (
	TrendUp       TrendDirection = "up"
	TrendDown     TrendDirection = "down"
	TrendSideways TrendDirection = "sideways"
)

// Recommendation is the monitoring loop's suggested action for an open
// position.
type Recommendation string

const (
	RecommendHold         Recommendation = "hold"
	RecommendExit         Recommendation = "exit"
	RecommendTakePartial  Recommendation = "take_partial"
	RecommendAdjustSL     Recommendation = "adjust_sl"
	RecommendAdjustTP     Recommendation = "adjust_tp"
	RecommendTrailingStop Recommendation = "trailing_stop"
)

// NotificationLevel orders PositionMonitoringRecord urgency; level 1
// bypasses throttling entirely, levels 2-4 use increasing cooldowns.
type NotificationLevel int

const (
	LevelUrgent       NotificationLevel = 1
	LevelImportant    NotificationLevel = 2
	LevelGeneral      NotificationLevel = 3
	LevelDailySummary NotificationLevel = 4
)

// PositionMonitoringRecord is a periodic snapshot emitted by the
// monitoring loop for one open Position.
type PositionMonitoringRecord struct {
	PositionID          string
	Timestamp           time.Time
	CurrentPrice        decimal.Decimal
	UnrealizedPnLPips   decimal.Decimal
	TrendDirection      TrendDirection
	ReversalProbability float64
	Recommendation      Recommendation
	NotificationLevel   NotificationLevel
	NotificationSent    bool
}
