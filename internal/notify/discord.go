package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender delivers alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

var _ Sender = (*DiscordSender)(nil)

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the webhook with the title bolded in Discord
// markdown. Discord answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", msg.Title, msg.Body),
	}, "discord")
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
