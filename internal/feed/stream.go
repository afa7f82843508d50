package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/awachter/soltrader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceSink receives every trade-derived price observation from the stream.
type PriceSink interface {
	SetPrice(ctx context.Context, mint string, pt domain.PricePoint) error
	WatchList(ctx context.Context) ([]string, error)
}

// Stream is a WebSocket client for the real-time token trade feed. Every
// trade on a watched mint yields a bonding-curve price that is written to the
// price sink.
type Stream struct {
	wsURL  string
	sink   PriceSink
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	mints  map[string]struct{}
	closed bool

	done chan struct{}
}

// NewStream creates a trade stream for the given WebSocket URL, writing
// observations into sink.
func NewStream(wsURL string, sink PriceSink, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		sink:   sink,
		logger: logger.With(slog.String("component", "price_stream")),
		mints:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

type streamCommand struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// tradeMessage is one token trade event. The curve's virtual reserves after
// the trade give the instantaneous price.
type tradeMessage struct {
	Mint              string  `json:"mint"`
	TxType            string  `json:"txType"`
	SolInCurve        float64 `json:"vSolInBondingCurve"`
	TokensInCurve     float64 `json:"vTokensInBondingCurve"`
	SolAmount         float64 `json:"solAmount"`
	TokenAmount       float64 `json:"tokenAmount"`
	NewTokenBalance   float64 `json:"newTokenBalance"`
	MarketCapSol      float64 `json:"marketCapSol"`
	TimestampSeconds  int64   `json:"timestamp"`
	SignatureRaw      string  `json:"signature"`
	TraderPublicKeyID string  `json:"traderPublicKey"`
}

// Run connects and keeps the stream alive until the context is cancelled,
// reconnecting with exponential backoff and restoring subscriptions.
func (s *Stream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := s.connect(ctx)
		if err == nil {
			delay = reconnectDelay
			err = s.readLoop(ctx)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		s.logger.WarnContext(ctx, "feed: stream disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.conn = conn

	// Re-watch everything the sink says we should be following, merged with
	// the in-memory set, so subscriptions survive both reconnects and
	// restarts.
	if persisted, perr := s.sink.WatchList(ctx); perr == nil {
		for _, m := range persisted {
			s.mints[m] = struct{}{}
		}
	}
	mints := make([]string, 0, len(s.mints))
	for m := range s.mints {
		mints = append(mints, m)
	}
	s.mu.Unlock()

	if len(mints) > 0 {
		if err := s.send(streamCommand{Method: "subscribeTokenTrade", Keys: mints}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("feed: restore subscriptions: %w", err)
		}
	}

	go s.pingLoop(conn)
	return nil
}

// Watch subscribes the stream to trades on a mint.
func (s *Stream) Watch(mint string) error {
	s.mu.Lock()
	if _, ok := s.mints[mint]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mints[mint] = struct{}{}
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(streamCommand{Method: "subscribeTokenTrade", Keys: []string{mint}})
}

// Unwatch removes a mint's subscription.
func (s *Stream) Unwatch(mint string) error {
	s.mu.Lock()
	delete(s.mints, mint)
	connected := s.conn != nil
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.send(streamCommand{Method: "unsubscribeTokenTrade", Keys: []string{mint}})
}

// Close shuts the stream down permanently.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) send(cmd streamCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("feed: not connected: %w", domain.ErrWSDisconnect)
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) readLoop(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			return fmt.Errorf("feed: read: %w", err)
		}

		var msg tradeMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Mint == "" {
			continue
		}

		price := derivePrice(msg)
		if price <= 0 {
			continue
		}

		ts := time.Now()
		if msg.TimestampSeconds > 0 {
			ts = time.Unix(msg.TimestampSeconds, 0)
		}

		if err := s.sink.SetPrice(ctx, msg.Mint, domain.PricePoint{PriceSol: price, Timestamp: ts}); err != nil {
			s.logger.WarnContext(ctx, "feed: cache price",
				slog.String("mint", msg.Mint),
				slog.String("error", err.Error()))
		}
	}
}

// derivePrice computes SOL per token from the curve reserves, falling back to
// the trade's own fill ratio when reserves are missing.
func derivePrice(msg tradeMessage) float64 {
	if msg.TokensInCurve > 0 {
		return msg.SolInCurve / msg.TokensInCurve
	}
	if msg.TokenAmount > 0 {
		return msg.SolAmount / msg.TokenAmount
	}
	return 0
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
