package notify

import (
	"context"
	"fmt"
	"net/http"
)

// TelegramSender posts to a chat through the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	base   string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for a bot token and chat id.
func NewTelegramSender(token, chatID string, opts ...Option) *TelegramSender {
	o := buildOptions("https://api.telegram.org", opts)
	return &TelegramSender{token: token, chatID: chatID, base: o.base, client: o.client}
}

// Send calls sendMessage with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(), fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token), map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }
