package events

import (
	"context"
	"encoding/json"
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

type recordingMirror struct {
	streams  []string
	payloads [][]byte
}

func (m *recordingMirror) Publish(ctx context.Context, channel string, payload []byte) error {
	return nil
}

func (m *recordingMirror) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (m *recordingMirror) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	m.streams = append(m.streams, stream)
	m.payloads = append(m.payloads, payload)
	return nil
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(nil, testLogger())

	var got []string
	bus.Subscribe(func(evt domain.Event) {
		got = append(got, evt.Name())
	})

	ctx := context.Background()
	bus.Publish(ctx, domain.TxPending{TxID: "1"})
	bus.Publish(ctx, domain.TxConfirmed{TxID: "1"})
	bus.Publish(ctx, domain.TradingPaused{Reason: "test"})

	assert.Equal(t, []string{"tx_pending", "tx_confirmed", "trading_paused"}, got)
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(nil, testLogger())

	first, second := 0, 0
	bus.Subscribe(func(domain.Event) { first++ })
	bus.Subscribe(func(domain.Event) { second++ })

	bus.Publish(context.Background(), domain.TradingResumed{At: time.Now()})

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestPublishMirrorsToStream(t *testing.T) {
	mirror := &recordingMirror{}
	bus := NewBus(mirror, testLogger())

	bus.Publish(context.Background(), domain.TxFailed{TxID: "tx-9", Error: "boom"})

	require.Len(t, mirror.payloads, 1)
	assert.Equal(t, Stream, mirror.streams[0])

	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			TxID  string `json:"TxID"`
			Error string `json:"Error"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(mirror.payloads[0], &envelope))
	assert.Equal(t, "tx_failed", envelope.Event)
	assert.Equal(t, "tx-9", envelope.Data.TxID)
	assert.Equal(t, "boom", envelope.Data.Error)
}
