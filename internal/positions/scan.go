package positions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aifx/signalcore/internal/domain"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		id, subscriberID, pair, direction       string
		entryPrice, stopLoss, takeProfit, size  string
		openedAt, status                        string
		closedAt, exitPrice, realizedPnLPips    sql.NullString
	)
	err := row.Scan(&id, &subscriberID, &pair, &direction, &entryPrice, &stopLoss, &takeProfit, &size,
		&openedAt, &status, &closedAt, &exitPrice, &realizedPnLPips)
	if err != nil {
		return domain.Position{}, err
	}

	p := domain.Position{
		ID:           id,
		SubscriberID: subscriberID,
		Pair:         domain.Pair(pair),
		Direction:    domain.Direction(direction),
		Status:       domain.PositionStatus(status),
	}
	if p.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return domain.Position{}, fmt.Errorf("positions: parsing entry_price: %w", err)
	}
	if p.StopLoss, err = decimal.NewFromString(stopLoss); err != nil {
		return domain.Position{}, fmt.Errorf("positions: parsing stop_loss: %w", err)
	}
	if p.TakeProfit, err = decimal.NewFromString(takeProfit); err != nil {
		return domain.Position{}, fmt.Errorf("positions: parsing take_profit: %w", err)
	}
	if p.PositionSize, err = decimal.NewFromString(size); err != nil {
		return domain.Position{}, fmt.Errorf("positions: parsing position_size: %w", err)
	}
	if p.OpenedAt, err = time.Parse(time.RFC3339Nano, openedAt); err != nil {
		return domain.Position{}, fmt.Errorf("positions: parsing opened_at: %w", err)
	}

	if closedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, closedAt.String)
		if err != nil {
			return domain.Position{}, fmt.Errorf("positions: parsing closed_at: %w", err)
		}
		p.ClosedAt = &parsed
	}
	if exitPrice.Valid {
		d, err := decimal.NewFromString(exitPrice.String)
		if err != nil {
			return domain.Position{}, fmt.Errorf("positions: parsing exit_price: %w", err)
		}
		p.ExitPrice = decimal.NewNullDecimal(d)
	}
	if realizedPnLPips.Valid {
		d, err := decimal.NewFromString(realizedPnLPips.String)
		if err != nil {
			return domain.Position{}, fmt.Errorf("positions: parsing realized_pnl_pips: %w", err)
		}
		p.RealizedPnLPips = decimal.NewNullDecimal(d)
	}

	return p, nil
}
