package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// webhookPusher is the shared HTTP push mechanics for the Discord and
// LINE transports (§4.11: "LINE transport: analogous"). Each adapter
// only supplies its own request builder (URL, headers, auth); retry,
// 429 Retry-After handling, and 5xx backoff are all retryablehttp's
// DefaultRetryPolicy, the same client the Market Data Gateway uses.
type webhookPusher struct {
	client   *retryablehttp.Client
	log      zerolog.Logger
	name     string
	buildReq func(ctx context.Context, payload []byte) (*http.Request, error)
}

// newWebhookClient builds a retryablehttp.Client tuned for webhook
// delivery: a handful of retries is enough, since a subscriber's push
// endpoint being down for
// long is the subscriber's problem, not ours.
func newWebhookClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return client
}

// push sends the JSON-marshaled body. 4xx responses other than 429 are
// not retryable and are dropped immediately.
func (p *webhookPusher) push(ctx context.Context, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encoding payload: %w", p.name, err)
	}

	req, err := p.buildReq(ctx, payload)
	if err != nil {
		return fmt.Errorf("%s: building request: %w", p.name, err)
	}
	retryableReq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return fmt.Errorf("%s: wrapping request: %w", p.name, err)
	}

	resp, err := p.client.Do(retryableReq)
	if err != nil {
		return fmt.Errorf("%s: request failed after retries: %w", p.name, err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return nil
	default:
		return fmt.Errorf("%s: dropped, status %d", p.name, status)
	}
}

func newJSONRequest(method, url string, headers map[string]string) func(ctx context.Context, payload []byte) (*http.Request, error) {
	return func(ctx context.Context, payload []byte) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}
}
