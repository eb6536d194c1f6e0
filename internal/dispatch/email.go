package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"
)

// emailBackoffBase is the fixed backoff step between SMTP connect
// retries. SMTP has no HTTP status vocabulary for retryablehttp to key
// off, so this transport keeps its own small constant rather than
// reusing the webhook pushers' client.
const emailBackoffBase = 500 * time.Millisecond

// EmailTransport delivers a plain-text rendering of the signal over
// SMTP. No email-sending library appears anywhere in the retrieval
// pack, so this speaks net/smtp directly (§4.11: "Email transport (if
// present): via SMTP gateway; retries on connect failure").
type EmailTransport struct {
	addr          string
	auth          smtp.Auth
	from          string
	resolveInbox  func(subscriberID string) (string, bool)
	log           zerolog.Logger
}

// NewEmailTransport builds a transport over a single SMTP relay.
func NewEmailTransport(host string, port int, username, password, from string, resolveInbox func(subscriberID string) (string, bool), log zerolog.Logger) *EmailTransport {
	return &EmailTransport{
		addr:         fmt.Sprintf("%s:%d", host, port),
		auth:         smtp.PlainAuth("", username, password, host),
		from:         from,
		resolveInbox: resolveInbox,
		log:          log.With().Str("component", "email_transport").Logger(),
	}
}

// Send retries on connect failure only, up to 3 attempts with a fixed
// backoff — SMTP relays do not speak the Discord/LINE HTTP status
// vocabulary, so there is no 429/5xx distinction to honor here.
func (t *EmailTransport) Send(ctx context.Context, job Job) error {
	inbox, ok := t.resolveInbox(job.SubscriberID)
	if !ok {
		return fmt.Errorf("email transport: no inbox configured for subscriber %s", job.SubscriberID)
	}

	embed := renderEmbed(job)
	message := buildMessage(t.from, inbox, embed)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = smtp.SendMail(t.addr, t.auth, t.from, []string{inbox}, message)
		if lastErr == nil {
			return nil
		}
		var opErr *net.OpError
		if !errors.As(lastErr, &opErr) {
			break // not a connection failure: no retry
		}
		select {
		case <-time.After(emailBackoffBase):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("email transport: sending to %s: %w", inbox, lastErr)
}

func buildMessage(from, to string, e signalEmbed) []byte {
	subject := fmt.Sprintf("Subject: %s %s signal: %s\r\n", e.Pair, e.Timeframe, e.Action)
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\n%sContent-Type: text/plain; charset=UTF-8\r\n\r\n", from, to, subject)
	body := fmt.Sprintf("%s %s %s\nConfidence: %d%%  Strength: %s\nEntry: %s  SL: %s  TP: %s  RR: %s\nSource: %s  Model: %s\n",
		e.Pair, e.Timeframe, e.Action, e.ConfidencePct, e.Strength,
		e.Entry, e.StopLoss, e.TakeProfit, e.RiskRewardRatio, e.SourceBadge, e.ModelVersion)
	return []byte(headers + body)
}
