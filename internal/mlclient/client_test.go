package mlclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifx/signalcore/internal/domain"
	"github.com/aifx/signalcore/internal/mlclient"
)

func TestPredictSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"direction":     "buy",
			"confidence":    0.82,
			"model_version": "v3.1",
			"factors":       map[string]float64{"technical": 0.7, "sentiment": 0.5, "pattern": 0.6},
		})
	}))
	defer srv.Close()

	client := mlclient.New(zerolog.Nop(), mlclient.Config{
		BaseURL: srv.URL, Timeout: time.Second,
		BreakerFailures: 5, BreakerWindow: time.Minute, BreakerCooldown: 30 * time.Second,
	})

	pred, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1h, domain.BarSeries{})
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, pred.Direction)
	assert.Equal(t, 0.82, pred.Confidence)
	assert.Equal(t, "v3.1", pred.ModelVersion)
}

func TestPredictDegradesOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := mlclient.New(zerolog.Nop(), mlclient.Config{
		BaseURL: srv.URL, Timeout: time.Second,
		BreakerFailures: 5, BreakerWindow: time.Minute, BreakerCooldown: 30 * time.Second,
	})

	_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1h, domain.BarSeries{})
	assert.ErrorIs(t, err, mlclient.ErrUnavailable)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := mlclient.New(zerolog.Nop(), mlclient.Config{
		BaseURL: srv.URL, Timeout: time.Second,
		BreakerFailures: 2, BreakerWindow: time.Minute, BreakerCooldown: time.Minute,
	})

	for i := 0; i < 2; i++ {
		_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1h, domain.BarSeries{})
		assert.ErrorIs(t, err, mlclient.ErrUnavailable)
	}

	// breaker should now be open; further calls fail fast without hitting srv
	_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1h, domain.BarSeries{})
	assert.ErrorIs(t, err, mlclient.ErrUnavailable)
}
