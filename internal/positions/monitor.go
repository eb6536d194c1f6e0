package positions

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/eventbus"
)

// pollInterval is the §4.12 monitoring cadence.
const pollInterval = 60 * time.Second

// monitorTimeframe is the bar resolution used to read the current
// price; the monitor only ever needs the latest close.
const monitorTimeframe = domain.Timeframe1m

// PriceFetcher supplies the current price for a pair; satisfied by
// *marketdata.Gateway.
type PriceFetcher interface {
	FetchBars(ctx context.Context, pair domain.Pair, tf domain.Timeframe, minBars int) (domain.BarSeries, error)
}

// Publisher is the event sink for position.update notifications;
// satisfied by *eventbus.Bus.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Monitor is the parallel Position Monitoring Loop.
type Monitor struct {
	log    zerolog.Logger
	store  *Store
	prices PriceFetcher
	bus    Publisher

	dailySummarySchedule string // cron expression for level-4 trigger
	cron                 *cron.Cron

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewMonitor builds a Monitor. dailySummarySchedule is a standard 5-field cron
// expression (e.g. "0 21 * * *" for 21:00 local) naming when level-4
// daily summaries fire, independent of the 60s re-pricing cadence.
func NewMonitor(log zerolog.Logger, store *Store, prices PriceFetcher, bus Publisher, dailySummarySchedule string) *Monitor {
	return &Monitor{
		log:                   log.With().Str("component", "position_monitor").Logger(),
		store:                 store,
		prices:                prices,
		bus:                   bus,
		dailySummarySchedule:  dailySummarySchedule,
		stop:                  make(chan struct{}),
		cron:                  cron.New(),
	}
}

// Start launches the 60s re-pricing loop and the daily-summary cron job.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true

	if m.dailySummarySchedule != "" {
		if _, err := m.cron.AddFunc(m.dailySummarySchedule, func() { m.runDailySummaries(ctx) }); err != nil {
			return err
		}
		m.cron.Start()
	}

	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// Stop halts both the re-pricing loop and the cron job.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stop)
	m.wg.Wait()
	cronCtx := m.cron.Stop()
	<-cronCtx.Done()
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick re-prices every open position, closing those that hit SL/TP and
// recording a throttled monitoring update for the rest.
func (m *Monitor) tick(ctx context.Context) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("position monitor: listing open positions failed")
		return
	}

	now := time.Now()
	for _, p := range open {
		if err := m.EvaluateOnce(ctx, p, now); err != nil {
			m.log.Error().Err(err).Str("position_id", p.ID).Msg("position monitor: evaluation failed")
		}
	}
}

// EvaluateOnce re-prices a single position and applies the SL/TP and
// throttling logic. Exported so callers needing a one-off re-price
// (and tests) don't have to wait on the ticker.
func (m *Monitor) EvaluateOnce(ctx context.Context, p domain.Position, now time.Time) error {
	series, err := m.prices.FetchBars(ctx, p.Pair, monitorTimeframe, 1)
	if err != nil {
		return err
	}
	latest, ok := series.Latest()
	if !ok {
		return nil
	}
	price := latest.Close

	pnlPips := unrealizedPips(p, price)

	if hit, exitPrice := slOrTPHit(p, price); hit {
		return m.close(ctx, p, exitPrice, now)
	}

	rec := domain.PositionMonitoringRecord{
		PositionID:          p.ID,
		Timestamp:           now,
		CurrentPrice:        price,
		UnrealizedPnLPips:   pnlPips,
		TrendDirection:      trendFor(p, price),
		ReversalProbability: reversalProbability(p, price),
		Recommendation:      domain.RecommendHold,
		NotificationLevel:   domain.LevelGeneral,
	}

	send, err := m.shouldNotify(ctx, p.ID, rec.NotificationLevel, now)
	if err != nil {
		return err
	}
	rec.NotificationSent = send

	if err := m.store.RecordMonitoring(ctx, rec); err != nil {
		return err
	}
	if send {
		m.bus.Publish(eventbus.PositionUpdateEvent{Position: p})
	}
	return nil
}

func (m *Monitor) close(ctx context.Context, p domain.Position, exitPrice decimal.Decimal, now time.Time) error {
	pnlPips := domain.PipsFromMove(p.Pair, exitPrice.Sub(p.EntryPrice))
	if p.Direction == domain.DirectionShort {
		pnlPips = pnlPips.Neg()
	}

	if err := m.store.Close(ctx, p.ID, exitPrice, pnlPips, now); err != nil {
		return err
	}

	closed := p
	closed.Status = domain.PositionClosed
	closed.ClosedAt = &now
	closed.ExitPrice = decimal.NewNullDecimal(exitPrice)
	closed.RealizedPnLPips = decimal.NewNullDecimal(pnlPips)

	rec := domain.PositionMonitoringRecord{
		PositionID:          p.ID,
		Timestamp:           now,
		CurrentPrice:        exitPrice,
		UnrealizedPnLPips:   pnlPips,
		TrendDirection:      trendFor(p, exitPrice),
		ReversalProbability: 0,
		Recommendation:      domain.RecommendExit,
		NotificationLevel:   domain.LevelUrgent,
		NotificationSent:    true, // level 1 bypasses throttling entirely (§4.12)
	}
	if err := m.store.RecordMonitoring(ctx, rec); err != nil {
		return err
	}

	m.bus.Publish(eventbus.PositionUpdateEvent{Position: closed})
	return nil
}

// shouldNotify applies the §4.12 per-level throttle: level 1 always
// fires (handled separately in close, which never calls this), level 2
// uses a 5-minute cooldown, level 3 uses 30 minutes.
func (m *Monitor) shouldNotify(ctx context.Context, positionID string, level domain.NotificationLevel, now time.Time) (bool, error) {
	cooldown, ok := levelCooldowns[level]
	if !ok {
		return true, nil
	}
	last, err := m.store.LastNotifiedAt(ctx, positionID, level)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return now.Sub(*last) >= cooldown, nil
}

var levelCooldowns = map[domain.NotificationLevel]time.Duration{
	domain.LevelImportant: 5 * time.Minute,
	domain.LevelGeneral:   30 * time.Minute,
}

// runDailySummaries fires the level-4 daily-summary update for every
// open position at the configured local time, independent of the
// per-position cooldowns governing levels 2-3.
func (m *Monitor) runDailySummaries(ctx context.Context) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("position monitor: daily summary: listing open positions failed")
		return
	}

	now := time.Now()
	for _, p := range open {
		series, err := m.prices.FetchBars(ctx, p.Pair, monitorTimeframe, 1)
		if err != nil {
			m.log.Error().Err(err).Str("position_id", p.ID).Msg("position monitor: daily summary: price fetch failed")
			continue
		}
		latest, ok := series.Latest()
		if !ok {
			continue
		}

		rec := domain.PositionMonitoringRecord{
			PositionID:          p.ID,
			Timestamp:           now,
			CurrentPrice:        latest.Close,
			UnrealizedPnLPips:   unrealizedPips(p, latest.Close),
			TrendDirection:      trendFor(p, latest.Close),
			ReversalProbability: reversalProbability(p, latest.Close),
			Recommendation:      domain.RecommendHold,
			NotificationLevel:   domain.LevelDailySummary,
			NotificationSent:    true,
		}
		if err := m.store.RecordMonitoring(ctx, rec); err != nil {
			m.log.Error().Err(err).Str("position_id", p.ID).Msg("position monitor: daily summary: recording failed")
			continue
		}
		m.bus.Publish(eventbus.PositionUpdateEvent{Position: p})
	}
}

func unrealizedPips(p domain.Position, price decimal.Decimal) decimal.Decimal {
	pips := domain.PipsFromMove(p.Pair, price.Sub(p.EntryPrice))
	if p.Direction == domain.DirectionShort {
		return pips.Neg()
	}
	return pips
}

// slOrTPHit reports whether price has crossed the position's stop-loss
// or take-profit. The exit price is the observed price itself, not the
// configured level — fills happen at the tick that triggers them, with
// no slippage modeling.
func slOrTPHit(p domain.Position, price decimal.Decimal) (bool, decimal.Decimal) {
	switch p.Direction {
	case domain.DirectionLong:
		if price.LessThanOrEqual(p.StopLoss) {
			return true, price
		}
		if price.GreaterThanOrEqual(p.TakeProfit) {
			return true, price
		}
	case domain.DirectionShort:
		if price.GreaterThanOrEqual(p.StopLoss) {
			return true, price
		}
		if price.LessThanOrEqual(p.TakeProfit) {
			return true, price
		}
	}
	return false, decimal.Zero
}

func trendFor(p domain.Position, price decimal.Decimal) domain.TrendDirection {
	delta := price.Sub(p.EntryPrice)
	switch {
	case delta.IsZero():
		return domain.TrendSideways
	case delta.IsPositive():
		if p.Direction == domain.DirectionLong {
			return domain.TrendUp
		}
		return domain.TrendDown
	default:
		if p.Direction == domain.DirectionLong {
			return domain.TrendDown
		}
		return domain.TrendUp
	}
}

// reversalProbability is a simple proximity heuristic: how close price
// sits to the adverse (stop-loss) side of the position's range, as a
// fraction of 1. It is not a model prediction — just a cheap signal
// for the monitoring loop's own recommendation, distinct from the
// Synthesizer's ML-backed confidence.
func reversalProbability(p domain.Position, price decimal.Decimal) float64 {
	var rangeTotal, distanceToSL decimal.Decimal
	switch p.Direction {
	case domain.DirectionLong:
		rangeTotal = p.EntryPrice.Sub(p.StopLoss)
		distanceToSL = price.Sub(p.StopLoss)
	default:
		rangeTotal = p.StopLoss.Sub(p.EntryPrice)
		distanceToSL = p.StopLoss.Sub(price)
	}
	if rangeTotal.IsZero() || rangeTotal.IsNegative() {
		return 0
	}
	fraction := decimal.NewFromInt(1).Sub(distanceToSL.Div(rangeTotal))
	f, _ := fraction.Float64()
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
