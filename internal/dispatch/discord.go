package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// DiscordTransport pushes a rendered signal embed to a per-subscriber
// Discord webhook URL. No Discord SDK appears anywhere in the retrieval
// pack, so this speaks the documented webhook wire format directly
// over retryablehttp, matching §4.11's "HTTP POST via rate-limited
// client" and the Market Data Gateway's own retry client.
type DiscordTransport struct {
	resolveWebhook func(subscriberID string) (string, bool)
	client         *retryablehttp.Client
	log            zerolog.Logger
}

// NewDiscordTransport builds a transport over a per-subscriber webhook
// URL resolver (subscription/credential storage is out of this core's
// scope; the resolver is the seam).
func NewDiscordTransport(resolveWebhook func(subscriberID string) (string, bool), log zerolog.Logger) *DiscordTransport {
	return &DiscordTransport{
		resolveWebhook: resolveWebhook,
		client:         newWebhookClient(),
		log:            log.With().Str("component", "discord_transport").Logger(),
	}
}

func (t *DiscordTransport) Send(ctx context.Context, job Job) error {
	webhookURL, ok := t.resolveWebhook(job.SubscriberID)
	if !ok {
		return fmt.Errorf("discord transport: no webhook configured for subscriber %s", job.SubscriberID)
	}

	pusher := &webhookPusher{
		client:   t.client,
		log:      t.log,
		name:     "discord",
		buildReq: newJSONRequest(http.MethodPost, webhookURL, nil),
	}
	return pusher.push(ctx, renderEmbed(job))
}
