package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TelegramSender delivers alerts through the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

var _ Sender = (*TelegramSender)(nil)

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the configured chat with the title bolded in
// Markdown.
func (t *TelegramSender) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, t.client,
		fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token),
		map[string]string{
			"chat_id":    t.chatID,
			"text":       fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body),
			"parse_mode": "Markdown",
		}, "telegram")
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
