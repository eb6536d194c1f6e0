// Package mlclient talks to the external ML inference service: a
// synchronous RPC with a hard timeout, a single retry on connection or
// server error (via retryablehttp, the same client the Market Data
// Gateway uses), and a circuit breaker that short-circuits to
// technical-only mode when the service is unhealthy.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/aifx/signalcore/internal/domain"
)

// ErrUnavailable is returned when the breaker is open or the service
// could not be reached after the single retry.
var ErrUnavailable = errors.New("ml predictor unavailable")

// Prediction is the ML service's directional call for one (pair, timeframe).
type Prediction struct {
	Direction    domain.Action
	Confidence   float64
	ModelVersion string
	Factors      domain.Factors
}

// Config parameterizes timeouts and the breaker thresholds (§4.4).
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerWindow   time.Duration
	BreakerCooldown time.Duration
}

// Client calls the ML inference service's /predict/reversal endpoint.
type Client struct {
	log     zerolog.Logger
	baseURL string
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker[*Prediction]
}

// New builds a Client with a shared circuit breaker: after
// Config.BreakerFailures consecutive failures within BreakerWindow, the
// breaker opens for BreakerCooldown and every call short-circuits to
// ErrUnavailable. Half-open lets one probe call through.
func New(log zerolog.Logger, cfg Config) *Client {
	settings := gobreaker.Settings{
		Name:        "ml-predictor",
		MaxRequests: 1,
		Interval:    cfg.BreakerWindow,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 1
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = cfg.Timeout

	return &Client{
		log:     log.With().Str("component", "ml_client").Logger(),
		baseURL: cfg.BaseURL,
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker[*Prediction](settings),
	}
}

type predictRequest struct {
	Pair      string    `json:"pair"`
	Timeframe string    `json:"timeframe"`
	Bars      []wireBar `json:"bars"`
}

type wireBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

type predictResponse struct {
	Direction    string         `json:"direction"`
	Confidence   float64        `json:"confidence"`
	ModelVersion string         `json:"model_version"`
	Factors      domain.Factors `json:"factors"`
}

// Predict calls the inference service. On any failure (timeout,
// connection error, non-2xx, breaker open) it returns ErrUnavailable so
// callers degrade to technical-only synthesis per §4.5/§7.
func (c *Client) Predict(ctx context.Context, pair domain.Pair, tf domain.Timeframe, series domain.BarSeries) (*Prediction, error) {
	pred, err := c.breaker.Execute(func() (*Prediction, error) {
		return c.call(ctx, pair, tf, series)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("pair", string(pair)).Msg("ml prediction unavailable, degrading to technical-only")
		return nil, ErrUnavailable
	}
	return pred, nil
}

// call performs the RPC. retryablehttp.Client.Do already applies the
// single retry on connection error or 5xx/429 that this client needs;
// non-2xx semantic errors surface straight to the breaker.
func (c *Client) call(ctx context.Context, pair domain.Pair, tf domain.Timeframe, series domain.BarSeries) (*Prediction, error) {
	bars := make([]wireBar, len(series.Bars))
	for i, b := range series.Bars {
		open, _ := b.Open.Float64()
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		close, _ := b.Close.Float64()
		volume, _ := b.Volume.Float64()
		bars[i] = wireBar{Timestamp: b.Timestamp.Unix(), Open: open, High: high, Low: low, Close: close, Volume: volume}
	}

	body, err := json.Marshal(predictRequest{Pair: string(pair), Timeframe: string(tf), Bars: bars})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict/reversal", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ml predictor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ml predictor returned status %d", resp.StatusCode)
	}

	var wire predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding predict response: %w", err)
	}

	return &Prediction{
		Direction:    domain.Action(wire.Direction),
		Confidence:   wire.Confidence,
		ModelVersion: wire.ModelVersion,
		Factors:      wire.Factors,
	}, nil
}
