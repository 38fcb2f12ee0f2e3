package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender posts to a Discord channel webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender. WithBaseURL replaces the whole
// webhook URL.
func NewDiscordSender(webhookURL string, opts ...Option) *DiscordSender {
	o := buildOptions(webhookURL, opts)
	return &DiscordSender{webhookURL: o.base, client: o.client}
}

// Send posts the message with the title in bold. Discord answers 204.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
