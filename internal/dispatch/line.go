package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// LINE Messaging API push endpoint; the subscriber-specific recipient
// (LINE user ID) is resolved by resolveRecipient, the channel access
// token is shared across all subscribers on this transport.
const linePushURL = "https://api.line.me/v2/bot/message/push"

// LINETransport pushes a rendered signal embed via the LINE Messaging
// API. Analogous to DiscordTransport per §4.11 ("LINE transport:
// analogous"), differing only in auth header and recipient resolution.
type LINETransport struct {
	resolveRecipient func(subscriberID string) (string, bool)
	channelToken     string
	client           *retryablehttp.Client
	log              zerolog.Logger
}

// NewLINETransport builds a transport authenticated with a single
// channel access token, resolving each subscriber's LINE user ID via
// resolveRecipient.
func NewLINETransport(channelToken string, resolveRecipient func(subscriberID string) (string, bool), log zerolog.Logger) *LINETransport {
	return &LINETransport{
		resolveRecipient: resolveRecipient,
		channelToken:     channelToken,
		client:           newWebhookClient(),
		log:              log.With().Str("component", "line_transport").Logger(),
	}
}

type linePushBody struct {
	To       string          `json:"to"`
	Messages []lineTextMsg   `json:"messages"`
}

type lineTextMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t *LINETransport) Send(ctx context.Context, job Job) error {
	recipient, ok := t.resolveRecipient(job.SubscriberID)
	if !ok {
		return fmt.Errorf("line transport: no recipient configured for subscriber %s", job.SubscriberID)
	}

	embed := renderEmbed(job)
	body := linePushBody{
		To: recipient,
		Messages: []lineTextMsg{{
			Type: "text",
			Text: formatLineText(embed),
		}},
	}

	pusher := &webhookPusher{
		client: t.client,
		log:    t.log,
		name:   "line",
		buildReq: newJSONRequest(http.MethodPost, linePushURL, map[string]string{
			"Authorization": "Bearer " + t.channelToken,
		}),
	}
	return pusher.push(ctx, body)
}

func formatLineText(e signalEmbed) string {
	return fmt.Sprintf("%s %s %s (%d%% confidence, %s)\nentry %s sl %s tp %s rr %s\nsource: %s",
		e.Pair, e.Timeframe, e.Action, e.ConfidencePct, e.Strength,
		e.Entry, e.StopLoss, e.TakeProfit, e.RiskRewardRatio, e.SourceBadge)
}
