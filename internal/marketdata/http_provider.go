package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/aifx/signalcore/internal/domain"
)

// ohlcvBar mirrors the inbound wire shape from the provider's HTTPS JSON
// endpoint (spec.md §6: "core needs only fetch(symbol, interval, count)").
type ohlcvBar struct {
	Timestamp int64  `json:"t"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
}

// HTTPProvider is a generic HTTPS JSON market data provider. Symbol
// mapping (pair -> provider-specific ticker) is supplied by the caller
// via symbolMap, matching spec.md §6 ("symbol mapping table maintained
// out of core").
type HTTPProvider struct {
	name       string
	baseURL    string
	symbolMap  func(domain.Pair) (string, bool)
	client     *retryablehttp.Client
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewHTTPProvider builds a rate-limited provider client. ratePerSec/burst
// parameterize the per-provider token bucket described in spec.md §4.2.
func NewHTTPProvider(name, baseURL string, symbolMap func(domain.Pair) (string, bool), timeout time.Duration, ratePerSec float64, burst int) *HTTPProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	client.HTTPClient.Timeout = timeout

	return &HTTPProvider{
		name:      name,
		baseURL:   baseURL,
		symbolMap: symbolMap,
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Name returns the provider's identifier for ranking and logging.
func (p *HTTPProvider) Name() string { return p.name }

// FetchBars issues a rate-limited HTTP request for the latest bars.
// Back-pressure (§4.2): a drained token bucket fails fast with
// ErrRateLimited rather than queuing.
func (p *HTTPProvider) FetchBars(ctx context.Context, pair domain.Pair, tf domain.Timeframe, minBars int) (domain.BarSeries, error) {
	if !p.limiter.Allow() {
		return domain.BarSeries{}, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
	}

	symbol, ok := p.symbolMap(pair)
	if !ok {
		return domain.BarSeries{}, fmt.Errorf("%s: %w: %s", p.name, ErrBadSymbol, pair)
	}

	url := fmt.Sprintf("%s/ohlcv?symbol=%s&interval=%s&count=%d", p.baseURL, symbol, tf, minBars)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.BarSeries{}, fmt.Errorf("%s: building request: %w", p.name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.BarSeries{}, fmt.Errorf("%s: %w: %v", p.name, ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.BarSeries{}, fmt.Errorf("%s: %w", p.name, ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return domain.BarSeries{}, fmt.Errorf("%s: %w", p.name, ErrBadSymbol)
	case resp.StatusCode >= 500:
		return domain.BarSeries{}, fmt.Errorf("%s: %w: status %d", p.name, ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return domain.BarSeries{}, fmt.Errorf("%s: %w: status %d", p.name, ErrBadSymbol, resp.StatusCode)
	}

	var wire []ohlcvBar
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return domain.BarSeries{}, fmt.Errorf("%s: decoding response: %w", p.name, err)
	}

	bars := make([]domain.Bar, 0, len(wire))
	for _, w := range wire {
		bar, err := decodeBar(w)
		if err != nil {
			return domain.BarSeries{}, fmt.Errorf("%s: %w", p.name, err)
		}
		bars = append(bars, bar)
	}

	return domain.BarSeries{Pair: pair, Timeframe: tf, Bars: bars}, nil
}

func decodeBar(w ohlcvBar) (domain.Bar, error) {
	o, err := decimal.NewFromString(w.Open)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad open price: %w", err)
	}
	h, err := decimal.NewFromString(w.High)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad high price: %w", err)
	}
	l, err := decimal.NewFromString(w.Low)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad low price: %w", err)
	}
	c, err := decimal.NewFromString(w.Close)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("bad close price: %w", err)
	}
	v, err := decimal.NewFromString(w.Volume)
	if err != nil {
		v = decimal.Zero
	}

	return domain.Bar{
		Timestamp: time.Unix(w.Timestamp, 0).UTC(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
	}, nil
}
