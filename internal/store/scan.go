package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aifx/signalcore/internal/domain"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows, letting the
// scan helpers below serve single-row and multi-row queries alike.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*domain.Signal, error) {
	var (
		sig                                              domain.Signal
		pair, tf, generatedAt, action, strength           string
		entryPrice                                        string
		stopLoss, takeProfit, riskReward                  sql.NullString
		marketCondition, source, status, expiresAt        string
		modelVersion                                      sql.NullString
		factorsJSON                                       string
		triggeredAt, triggeredPrice                       sql.NullString
		actualOutcome                                     string
	)

	err := row.Scan(
		&sig.ID, &pair, &tf, &generatedAt, &action, &sig.Confidence, &strength,
		&entryPrice, &stopLoss, &takeProfit, &riskReward,
		&marketCondition, &source, &modelVersion, &factorsJSON,
		&status, &expiresAt, &triggeredAt, &triggeredPrice, &actualOutcome,
	)
	if err != nil {
		return nil, err
	}

	sig.Pair = domain.Pair(pair)
	sig.Timeframe = domain.Timeframe(tf)
	sig.Action = domain.Action(action)
	sig.Strength = domain.Strength(strength)
	sig.MarketCondition = domain.MarketCondition(marketCondition)
	sig.Source = domain.Source(source)
	sig.Status = domain.SignalStatus(status)
	sig.ActualOutcome = domain.Outcome(actualOutcome)

	if sig.GeneratedAt, err = time.Parse(time.RFC3339Nano, generatedAt); err != nil {
		return nil, fmt.Errorf("parsing generated_at: %w", err)
	}
	if sig.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	if sig.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return nil, fmt.Errorf("parsing entry_price: %w", err)
	}

	if nd, err := parseNullDecimal(stopLoss); err != nil {
		return nil, err
	} else {
		sig.StopLoss = nd
	}
	if nd, err := parseNullDecimal(takeProfit); err != nil {
		return nil, err
	} else {
		sig.TakeProfit = nd
	}
	if nd, err := parseNullDecimal(riskReward); err != nil {
		return nil, err
	} else {
		sig.RiskRewardRatio = nd
	}
	if nd, err := parseNullDecimal(triggeredPrice); err != nil {
		return nil, err
	} else {
		sig.TriggeredPrice = nd
	}

	if modelVersion.Valid {
		v := modelVersion.String
		sig.ModelVersion = &v
	}
	if triggeredAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, triggeredAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing triggered_at: %w", err)
		}
		sig.TriggeredAt = &t
	}
	if err := json.Unmarshal([]byte(factorsJSON), &sig.Factors); err != nil {
		return nil, fmt.Errorf("parsing factors_json: %w", err)
	}

	return &sig, nil
}

func scanChange(row rowScanner) (*domain.SignalChange, error) {
	var (
		change                         domain.SignalChange
		pair, tf, newAction, strength  string
		oldAction                      sql.NullString
		oldConfidence                  sql.NullFloat64
		marketCondition, detectedAt    string
		notifiedAt                     sql.NullString
		subsJSON                       string
	)

	err := row.Scan(
		&change.ID, &pair, &tf, &oldAction, &newAction, &oldConfidence, &change.NewConfidence,
		&strength, &marketCondition, &detectedAt, &notifiedAt, &subsJSON,
	)
	if err != nil {
		return nil, err
	}

	change.Pair = domain.Pair(pair)
	change.Timeframe = domain.Timeframe(tf)
	change.NewAction = domain.Action(newAction)
	change.Strength = domain.Strength(strength)
	change.MarketCondition = domain.MarketCondition(marketCondition)

	if change.DetectedAt, err = time.Parse(time.RFC3339Nano, detectedAt); err != nil {
		return nil, fmt.Errorf("parsing detected_at: %w", err)
	}
	if oldAction.Valid {
		a := domain.Action(oldAction.String)
		change.OldAction = &a
	}
	if oldConfidence.Valid {
		c := oldConfidence.Float64
		change.OldConfidence = &c
	}
	if notifiedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, notifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing notified_at: %w", err)
		}
		change.NotifiedAt = &t
	}
	if err := json.Unmarshal([]byte(subsJSON), &change.NotifiedSubscribers); err != nil {
		return nil, fmt.Errorf("parsing notified_subscribers_json: %w", err)
	}

	return &change, nil
}

func scanChangeRows(rows *sql.Rows) (*domain.SignalChange, error) {
	return scanChange(rows)
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parsing decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}
