package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender captures delivered alerts on a channel.
type recordingSender struct {
	name string
	err  error
	sent chan Message
}

func newRecordingSender(name string) *recordingSender {
	return &recordingSender{name: name, sent: make(chan Message, 16)}
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	s.sent <- msg
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func closedEvent() domain.PositionClosed {
	return domain.PositionClosed{
		Position:    domain.Position{Mint: "TestTokenpump"},
		Reason:      domain.CloseReasonStopLoss,
		ExitPrice:   0.0008,
		RealizedPnl: -0.2,
		At:          time.Now(),
	}
}

func TestObserveQueuesAllowedEvent(t *testing.T) {
	s := newRecordingSender("telegram")
	n := NewNotifier([]Sender{s}, []string{"position_closed"}, testLogger())

	n.Observe(closedEvent())

	require.Len(t, n.queue, 1)
	msg := <-n.queue
	assert.Equal(t, "Position closed", msg.Title)
	assert.Contains(t, msg.Body, "TestTokenpump")
	assert.Contains(t, msg.Body, "stop_loss")
}

func TestObserveFiltersUnlistedEvents(t *testing.T) {
	s := newRecordingSender("telegram")
	n := NewNotifier([]Sender{s}, []string{"position_closed"}, testLogger())

	n.Observe(domain.TradingResumed{At: time.Now()})

	assert.Empty(t, n.queue)
}

func TestObserveDropsWhenQueueFull(t *testing.T) {
	s := newRecordingSender("telegram")
	n := NewNotifier([]Sender{s}, nil, testLogger())

	for i := 0; i < queueDepth+5; i++ {
		n.Observe(closedEvent())
	}

	assert.Len(t, n.queue, queueDepth, "overflow alerts are dropped, never blocked on")
}

func TestRunDeliversToEverySenderDespiteFailure(t *testing.T) {
	failing := newRecordingSender("telegram")
	failing.err = errors.New("bot token revoked")
	healthy := newRecordingSender("discord")
	n := NewNotifier([]Sender{failing, healthy}, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.Run(ctx)
	}()

	n.Observe(closedEvent())

	select {
	case msg := <-healthy.sent:
		assert.Equal(t, "Position closed", msg.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("alert never reached the healthy sender")
	}
	<-failing.sent

	cancel()
	<-done
}

func TestFormatEventRenderings(t *testing.T) {
	msg, ok := formatEvent(domain.TradingPaused{
		Reason:     "daily loss 12.0% reached limit",
		PauseUntil: time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC),
		At:         time.Now(),
	})
	require.True(t, ok)
	assert.Equal(t, "Trading paused", msg.Title)
	assert.Contains(t, msg.Body, "daily loss")
	assert.Contains(t, msg.Body, "2026-08-31 18:00 UTC")

	_, ok = formatEvent(domain.TxPending{})
	assert.False(t, ok, "transaction lifecycle events carry no operator rendering")
}
