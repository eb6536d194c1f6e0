package marketdata

import (
	"context"

	"github.com/aifx/signalcore/internal/domain"
)

// Provider fetches OHLCV bars from one external market data source.
// Implementations translate transport-specific failures into the
// sentinel errors in errors.go so the Gateway can rank and fail over
// uniformly.
type Provider interface {
	Name() string
	FetchBars(ctx context.Context, pair domain.Pair, tf domain.Timeframe, minBars int) (domain.BarSeries, error)
}
