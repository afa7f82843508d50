// Package notify pushes operator alerts for trading events to Telegram and
// Discord. Events are formatted and filtered on the publishing path, then
// queued; the webhook calls happen on a background worker, off the event bus
// dispatch path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awachter/soltrader/internal/domain"
)

// queueDepth bounds buffered alerts. Overflow drops the newest alert.
const queueDepth = 128

// Message is one formatted operator alert.
type Message struct {
	Title string
	Body  string
}

// Sender delivers a formatted alert over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier turns trading events into operator alerts. Observe runs on the
// event bus dispatch path and must stay non-blocking; Run drains the queue.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	queue   chan Message
	logger  *slog.Logger
}

// NewNotifier creates a notifier delivering to the given senders.
// eventFilter lists the event names to forward; an empty filter forwards
// every event that has an operator rendering.
func NewNotifier(senders []Sender, eventFilter []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(eventFilter))
	for _, name := range eventFilter {
		allowed[strings.TrimSpace(name)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		queue:   make(chan Message, queueDepth),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Observe formats an event into an alert and queues it for delivery.
// Filtered events and events without a rendering are dropped silently; a
// full queue drops the alert with a warning.
func (n *Notifier) Observe(evt domain.Event) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.allowed) > 0 && !n.allowed[evt.Name()] {
		return
	}
	msg, ok := formatEvent(evt)
	if !ok {
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("notification queue full, dropping alert",
			slog.String("event", evt.Name()),
			slog.String("title", msg.Title))
	}
}

// Run delivers queued alerts until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		}
	}
}

// deliver fans one alert out to every sender. A failing sender never blocks
// the remaining ones.
func (n *Notifier) deliver(ctx context.Context, msg Message) {
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "notification send failed",
				slog.String("sender", s.Name()),
				slog.String("title", msg.Title),
				slog.String("error", err.Error()))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title))
	}
}

// postJSON sends a JSON payload and fails on any non-2xx response.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, sender string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", sender, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", sender, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", sender, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", sender, resp.StatusCode, string(detail))
	}
	return nil
}
