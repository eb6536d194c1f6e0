// Package store persists Signals and the append-only SignalChange log
// that drives cooldown evaluation (§4.6). Writes for a given
// (pair, timeframe) are serialized with a per-stream mutex so a put and
// its corresponding change append commit as a single atomic unit with
// respect to concurrent writers on the same stream; different streams
// proceed independently.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/domain"
)

// Store is the Signal Store: append-only signals plus the notifiable
// change log.
type Store struct {
	db  *database.DB
	log zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New opens the schema against db and returns a ready Store.
func New(db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("store: migrating schema: %w", err)
	}
	return &Store{
		db:    db,
		log:   log.With().Str("component", "signal_store").Logger(),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func streamKey(pair domain.Pair, tf domain.Timeframe) string {
	return string(pair) + "|" + string(tf)
}

// lockFor returns the mutex serializing writes for one (pair, timeframe)
// stream, creating it on first use.
func (s *Store) lockFor(pair domain.Pair, tf domain.Timeframe) *sync.Mutex {
	key := streamKey(pair, tf)
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// GetLatest returns the most recently generated Signal for (pair, tf), or
// nil if none exists.
func (s *Store) GetLatest(ctx context.Context, pair domain.Pair, tf domain.Timeframe) (*domain.Signal, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, pair, timeframe, generated_at, action, confidence, strength,
			entry_price, stop_loss, take_profit, risk_reward_ratio,
			market_condition, source, model_version, factors_json,
			status, expires_at, triggered_at, triggered_price, actual_outcome
		FROM signals WHERE pair = ? AND timeframe = ?
		ORDER BY generated_at DESC LIMIT 1`, string(pair), string(tf))

	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get_latest: %w", err)
	}
	return sig, nil
}

// Put writes a new signal row. It never overwrites a prior signal —
// signals are append-only by generated_at.
func (s *Store) Put(ctx context.Context, sig domain.Signal) error {
	lock := s.lockFor(sig.Pair, sig.Timeframe)
	lock.Lock()
	defer lock.Unlock()

	return s.insertSignal(ctx, s.db.Conn(), sig)
}

// PutWithChange writes a new signal and its SignalChange atomically in a
// single transaction, satisfying the §4.6 isolation requirement. Pass a
// nil change when the Change Detector decided the new signal is not
// notifiable.
func (s *Store) PutWithChange(ctx context.Context, sig domain.Signal, change *domain.SignalChange) error {
	lock := s.lockFor(sig.Pair, sig.Timeframe)
	lock.Lock()
	defer lock.Unlock()

	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		if err := s.insertSignal(ctx, tx, sig); err != nil {
			return err
		}
		if change == nil {
			return nil
		}
		return s.insertChange(ctx, tx, *change)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertSignal(ctx context.Context, ex execer, sig domain.Signal) error {
	factorsJSON, err := json.Marshal(sig.Factors)
	if err != nil {
		return fmt.Errorf("store: marshaling factors: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO signals (
			id, pair, timeframe, generated_at, action, confidence, strength,
			entry_price, stop_loss, take_profit, risk_reward_ratio,
			market_condition, source, model_version, factors_json,
			status, expires_at, triggered_at, triggered_price, actual_outcome
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.ID, string(sig.Pair), string(sig.Timeframe), sig.GeneratedAt.UTC().Format(time.RFC3339Nano),
		string(sig.Action), sig.Confidence, string(sig.Strength),
		sig.EntryPrice.String(), nullDecimalString(sig.StopLoss), nullDecimalString(sig.TakeProfit), nullDecimalString(sig.RiskRewardRatio),
		string(sig.MarketCondition), string(sig.Source), sig.ModelVersion, string(factorsJSON),
		string(sig.Status), sig.ExpiresAt.UTC().Format(time.RFC3339Nano), nullTimeString(sig.TriggeredAt), nullDecimalString(sig.TriggeredPrice), string(sig.ActualOutcome),
	)
	if err != nil {
		return fmt.Errorf("store: inserting signal: %w", err)
	}
	return nil
}

func (s *Store) insertChange(ctx context.Context, ex execer, change domain.SignalChange) error {
	subsJSON, err := json.Marshal(change.NotifiedSubscribers)
	if err != nil {
		return fmt.Errorf("store: marshaling notified subscribers: %w", err)
	}

	var oldAction *string
	if change.OldAction != nil {
		v := string(*change.OldAction)
		oldAction = &v
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO signal_changes (
			id, pair, timeframe, old_action, new_action, old_confidence, new_confidence,
			strength, market_condition, detected_at, notified_at, notified_subscribers_json
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		change.ID, string(change.Pair), string(change.Timeframe), oldAction, string(change.NewAction),
		change.OldConfidence, change.NewConfidence, string(change.Strength), string(change.MarketCondition),
		change.DetectedAt.UTC().Format(time.RFC3339Nano), nullTimeString(change.NotifiedAt), string(subsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: inserting change: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition. Re-applying the same
// terminal status is a no-op that returns success without mutation
// (§8 round-trip property). An illegal transition fails with
// ErrInvalidTransition and leaves state unchanged.
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus domain.SignalStatus, triggeredAt *time.Time, triggeredPrice decimal.NullDecimal, outcome domain.Outcome) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM signals WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: update_status: %w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("store: update_status: reading current status: %w", err)
		}

		if domain.SignalStatus(current) == newStatus {
			return nil // idempotent re-application
		}
		if !domain.CanTransition(domain.SignalStatus(current), newStatus) {
			return fmt.Errorf("store: update_status: %w: %s -> %s", ErrInvalidTransition, current, newStatus)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE signals SET status = ?, triggered_at = ?, triggered_price = ?, actual_outcome = ?
			WHERE id = ?`,
			string(newStatus), nullTimeString(triggeredAt), nullDecimalString(triggeredPrice), string(outcome), id)
		if err != nil {
			return fmt.Errorf("store: update_status: %w", err)
		}
		return nil
	})
}

// LastChange returns the most recently detected SignalChange for
// (pair, timeframe), or nil if none exists.
func (s *Store) LastChange(ctx context.Context, pair domain.Pair, tf domain.Timeframe) (*domain.SignalChange, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, pair, timeframe, old_action, new_action, old_confidence, new_confidence,
			strength, market_condition, detected_at, notified_at, notified_subscribers_json
		FROM signal_changes WHERE pair = ? AND timeframe = ?
		ORDER BY detected_at DESC LIMIT 1`, string(pair), string(tf))

	change, err := scanChange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: last_change: %w", err)
	}
	return change, nil
}

// LastNotifiedChangeFor returns the most recent change for (pair, tf)
// where subscriberID appears in notified_subscribers — the record the
// Delivery Planner's cooldown filter consults (§4.9 step 6).
func (s *Store) LastNotifiedChangeFor(ctx context.Context, pair domain.Pair, tf domain.Timeframe, subscriberID string) (*domain.SignalChange, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, pair, timeframe, old_action, new_action, old_confidence, new_confidence,
			strength, market_condition, detected_at, notified_at, notified_subscribers_json
		FROM signal_changes WHERE pair = ? AND timeframe = ? AND notified_at IS NOT NULL
		ORDER BY detected_at DESC`, string(pair), string(tf))
	if err != nil {
		return nil, fmt.Errorf("store: last_notified_change_for: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		change, err := scanChangeRows(rows)
		if err != nil {
			return nil, fmt.Errorf("store: last_notified_change_for: %w", err)
		}
		for _, sub := range change.NotifiedSubscribers {
			if sub == subscriberID {
				return change, nil
			}
		}
	}
	return nil, rows.Err()
}

// CountDeliveriesSince counts successful deliveries to subscriberID across
// all pairs and timeframes since `since` (subscriber-local midnight), backing
// the daily cap filter (§4.9 step 7).
func (s *Store) CountDeliveriesSince(ctx context.Context, subscriberID string, since time.Time) (int, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT notified_subscribers_json FROM signal_changes
		WHERE notified_at IS NOT NULL AND notified_at >= ?`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: count_deliveries_since: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var subsJSON string
		if err := rows.Scan(&subsJSON); err != nil {
			return 0, fmt.Errorf("store: count_deliveries_since: scanning: %w", err)
		}
		var subs []string
		if err := json.Unmarshal([]byte(subsJSON), &subs); err != nil {
			continue
		}
		for _, sub := range subs {
			if sub == subscriberID {
				count++
				break
			}
		}
	}
	return count, rows.Err()
}

// StampNotified atomically appends subscriberID to notified_subscribers
// and stamps notified_at if unset, for the Dispatcher's first successful
// delivery of a change (§3, §4.11). Failures never call this.
func (s *Store) StampNotified(ctx context.Context, changeID string, subscriberID string, at time.Time) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var subsJSON string
		var notifiedAt sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT notified_subscribers_json, notified_at FROM signal_changes WHERE id = ?`, changeID).
			Scan(&subsJSON, &notifiedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: stamp_notified: %w: %s", ErrNotFound, changeID)
		}
		if err != nil {
			return fmt.Errorf("store: stamp_notified: reading change: %w", err)
		}

		var subs []string
		if err := json.Unmarshal([]byte(subsJSON), &subs); err != nil {
			return fmt.Errorf("store: stamp_notified: decoding subscribers: %w", err)
		}
		for _, sub := range subs {
			if sub == subscriberID {
				return nil // already stamped, idempotent
			}
		}
		subs = append(subs, subscriberID)
		newJSON, err := json.Marshal(subs)
		if err != nil {
			return fmt.Errorf("store: stamp_notified: encoding subscribers: %w", err)
		}

		if notifiedAt.Valid {
			_, err = tx.ExecContext(ctx, `UPDATE signal_changes SET notified_subscribers_json = ? WHERE id = ?`, string(newJSON), changeID)
		} else {
			_, err = tx.ExecContext(ctx, `UPDATE signal_changes SET notified_subscribers_json = ?, notified_at = ? WHERE id = ?`,
				string(newJSON), at.UTC().Format(time.RFC3339Nano), changeID)
		}
		if err != nil {
			return fmt.Errorf("store: stamp_notified: updating: %w", err)
		}
		return nil
	})
}

func nullDecimalString(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullTimeString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
