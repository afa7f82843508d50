// Package events implements a typed in-process event bus. Components publish
// concrete event structs and subscriber handlers are invoked synchronously
// in registration order, so the compiler enforces payload shape and
// publishers observe a fully delivered event. Handlers that talk to the
// network must hand off to their own goroutine. Events are also mirrored as
// JSON onto a Redis stream for out-of-process observers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/awachter/soltrader/internal/domain"
)

// Stream is the Redis stream typed events are mirrored onto.
const Stream = "soltrader:events"

// Handler receives one published event. Handlers run on the dispatch
// goroutine and must not block.
type Handler func(evt domain.Event)

// Bus fans typed events out to subscribers. Publish order is preserved:
// dispatch happens under a single lock, so events arrive at every subscriber
// in emission order. The capital allocator relies on this for per-pool
// reservation bookkeeping.
type Bus struct {
	mu       sync.Mutex
	handlers []Handler
	mirror   domain.SignalBus
	logger   *slog.Logger
}

// NewBus creates a Bus. mirror may be nil, in which case events are only
// delivered in-process.
func NewBus(mirror domain.SignalBus, logger *slog.Logger) *Bus {
	return &Bus{
		mirror: mirror,
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a handler for every subsequent event. Must be called
// during wiring, before publishing starts.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers evt to all subscribers in registration order and mirrors
// it to the Redis stream. Mirror failures are logged, never propagated: the
// in-process delivery is the authoritative path.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) {
	b.mu.Lock()
	for _, h := range b.handlers {
		h(evt)
	}
	b.mu.Unlock()

	if b.mirror == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Event string       `json:"event"`
		Data  domain.Event `json:"data"`
	}{Event: evt.Name(), Data: evt})
	if err != nil {
		b.logger.WarnContext(ctx, "event marshal failed",
			slog.String("event", evt.Name()),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := b.mirror.StreamAppend(ctx, Stream, payload); err != nil {
		b.logger.WarnContext(ctx, "event mirror failed",
			slog.String("event", evt.Name()),
			slog.String("error", err.Error()),
		)
	}
}
