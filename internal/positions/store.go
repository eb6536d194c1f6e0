// Package positions implements the Position Store and the parallel
// Position Monitoring Loop (§4.12): every 60 seconds it re-prices each
// open Position, evaluates SL/TP hit, and throttles non-terminal
// updates by notification level.
package positions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aifx/signalcore/internal/database"
	"github.com/aifx/signalcore/internal/domain"
)

// ErrNotFound is returned when a position ID has no matching row.
var ErrNotFound = fmt.Errorf("positions: not found")

// Store owns the positions and position_monitoring tables.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New migrates the schema and returns a ready Store.
func New(db *database.DB, log zerolog.Logger) (*Store, error) {
	if err := db.Migrate(schema); err != nil {
		return nil, fmt.Errorf("positions: migrating schema: %w", err)
	}
	return &Store{db: db, log: log.With().Str("component", "position_store").Logger()}, nil
}

// Open creates a new open Position and returns its assigned ID.
func (s *Store) Open(ctx context.Context, subscriberID string, pair domain.Pair, direction domain.Direction, entry, sl, tp, size decimal.Decimal, openedAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO positions (id, subscriber_id, pair, direction, entry_price, stop_loss, take_profit, position_size, opened_at, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		id, subscriberID, string(pair), string(direction), entry.String(), sl.String(), tp.String(), size.String(),
		openedAt.UTC().Format(time.RFC3339Nano), string(domain.PositionOpen))
	if err != nil {
		return "", fmt.Errorf("positions: open: %w", err)
	}
	return id, nil
}

// Close transitions a position to closed and records its outcome.
func (s *Store) Close(ctx context.Context, id string, exitPrice decimal.Decimal, realizedPnLPips decimal.Decimal, closedAt time.Time) error {
	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE positions SET status = ?, closed_at = ?, exit_price = ?, realized_pnl_pips = ?
		WHERE id = ? AND status = ?`,
		string(domain.PositionClosed), closedAt.UTC().Format(time.RFC3339Nano), exitPrice.String(), realizedPnLPips.String(),
		id, string(domain.PositionOpen))
	if err != nil {
		return fmt.Errorf("positions: close: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("positions: close: checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("positions: close: %w: %s", ErrNotFound, id)
	}
	return nil
}

// ListOpen returns every open position, the monitoring loop's work set.
func (s *Store) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT id, subscriber_id, pair, direction, entry_price, stop_loss, take_profit, position_size, opened_at, status, closed_at, exit_price, realized_pnl_pips
		FROM positions WHERE status = ?`, string(domain.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("positions: list_open: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns one position by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Position, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, subscriber_id, pair, direction, entry_price, stop_loss, take_profit, position_size, opened_at, status, closed_at, exit_price, realized_pnl_pips
		FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("positions: get: %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordMonitoring appends a monitoring snapshot for a position.
func (s *Store) RecordMonitoring(ctx context.Context, rec domain.PositionMonitoringRecord) error {
	_, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO position_monitoring (position_id, ts, current_price, unrealized_pnl_pips, trend_direction, reversal_probability, recommendation, notification_level, notification_sent)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		rec.PositionID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.CurrentPrice.String(), rec.UnrealizedPnLPips.String(),
		string(rec.TrendDirection), rec.ReversalProbability, string(rec.Recommendation), int(rec.NotificationLevel), boolToInt(rec.NotificationSent))
	if err != nil {
		return fmt.Errorf("positions: record_monitoring: %w", err)
	}
	return nil
}

// LastNotifiedAt returns the timestamp of the most recent *sent*
// monitoring record at or above minLevel for a position, or nil if
// none exists — the input to the §4.12 per-level throttle.
func (s *Store) LastNotifiedAt(ctx context.Context, positionID string, minLevel domain.NotificationLevel) (*time.Time, error) {
	var ts string
	err := s.db.Conn().QueryRowContext(ctx, `
		SELECT ts FROM position_monitoring
		WHERE position_id = ? AND notification_level <= ? AND notification_sent = 1
		ORDER BY ts DESC LIMIT 1`, positionID, int(minLevel)).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("positions: last_notified_at: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("positions: last_notified_at: parsing timestamp: %w", err)
	}
	return &parsed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
