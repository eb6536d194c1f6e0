package marketdata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aifx/signalcore/internal/domain"
)

const maxCacheTTL = 60 * time.Second

type cacheKey struct {
	pair domain.Pair
	tf   domain.Timeframe
}

type cacheEntry struct {
	series    domain.BarSeries
	fetchedAt time.Time
}

// Gateway fetches the latest BarSeries for a (pair, timeframe), caching
// short-TTL results and failing over across ranked providers per §4.2.
type Gateway struct {
	log       zerolog.Logger
	providers []Provider // ranked, first is tried first

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// New builds a Gateway over providers in ranked order (first = preferred).
func New(log zerolog.Logger, providers ...Provider) *Gateway {
	return &Gateway{
		log:       log.With().Str("component", "marketdata_gateway").Logger(),
		providers: providers,
		cache:     make(map[cacheKey]cacheEntry),
	}
}

// cacheTTL is min(timeframe duration, 60s) per §4.2.
func cacheTTL(tf domain.Timeframe) time.Duration {
	d, err := tf.Duration()
	if err != nil || d > maxCacheTTL {
		return maxCacheTTL
	}
	return d
}

// FetchBars returns the latest BarSeries, consulting the cache first (a
// hit is served only within TTL and with at least minBars), then ranked
// providers on miss or stale, falling back to the last cached series
// (marked stale) if every provider fails. Provider results and the stale
// fallback are returned as they are; their length is not checked
// against minBars.
func (g *Gateway) FetchBars(ctx context.Context, pair domain.Pair, tf domain.Timeframe, minBars int) (domain.BarSeries, error) {
	key := cacheKey{pair, tf}
	ttl := cacheTTL(tf)

	if cached, ok := g.readCache(key); ok && time.Since(cached.fetchedAt) < ttl && len(cached.series.Bars) >= minBars {
		return cached.series, nil
	}

	var lastErr error
	for _, p := range g.providers {
		series, err := p.FetchBars(ctx, pair, tf, minBars)
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrBadSymbol) {
				// not recoverable by failover; every provider maps the
				// same pair, so stop immediately.
				return domain.BarSeries{}, err
			}
			g.log.Warn().Err(err).Str("provider", p.Name()).Str("pair", string(pair)).
				Msg("provider failed, trying next")
			continue
		}

		if err := g.checkFreshness(series, tf); err != nil {
			lastErr = err
			g.log.Warn().Err(err).Str("provider", p.Name()).Str("pair", string(pair)).Msg("provider returned stale series")
			continue
		}

		g.writeCache(key, series)
		return series, nil
	}

	if cached, ok := g.readCache(key); ok {
		cached.series.Stale = true
		g.log.Warn().Str("pair", string(pair)).Str("timeframe", string(tf)).
			Msg("all providers failed; serving stale cached series")
		return cached.series, nil
	}

	if lastErr == nil {
		lastErr = ErrProviderUnavailable
	}
	return domain.BarSeries{}, lastErr
}

// checkFreshness enforces the §4.2 staleness contract: a series whose
// last bar is older than 2x the timeframe is ErrStale.
func (g *Gateway) checkFreshness(series domain.BarSeries, tf domain.Timeframe) error {
	latest, ok := series.Latest()
	if !ok {
		return ErrStale
	}
	period, err := tf.Duration()
	if err != nil {
		return err
	}
	if time.Since(latest.Timestamp) > 2*period {
		return ErrStale
	}
	return nil
}

func (g *Gateway) readCache(key cacheKey) (cacheEntry, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.cache[key]
	return entry, ok
}

func (g *Gateway) writeCache(key cacheKey, series domain.BarSeries) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cacheEntry{series: series, fetchedAt: time.Now()}
}
