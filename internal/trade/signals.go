package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/awachter/soltrader/internal/domain"
)

// EntryChannel is the Redis Pub/Sub channel the upstream token scanner
// publishes buy candidates to.
const EntryChannel = "signals:entry"

// entryMessage is the JSON shape published to EntryChannel.
type entryMessage struct {
	Mint    string  `json:"mint"`
	Symbol  string  `json:"symbol"`
	SizeSol float64 `json:"size_sol"`
	Pool    string  `json:"pool"`
}

// SignalFeeder subscribes to the entry channel and forwards decoded signals
// to the executor queue.
type SignalFeeder struct {
	bus      domain.SignalBus
	executor *Executor
	logger   *slog.Logger
}

// NewSignalFeeder creates a SignalFeeder.
func NewSignalFeeder(bus domain.SignalBus, executor *Executor, logger *slog.Logger) *SignalFeeder {
	return &SignalFeeder{
		bus:      bus,
		executor: executor,
		logger:   logger.With(slog.String("component", "signal_feeder")),
	}
}

// Run consumes entry messages until the context is cancelled. Malformed
// messages are logged and dropped.
func (f *SignalFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, EntryChannel)
	if err != nil {
		return err
	}
	f.logger.Info("signal feeder started", slog.String("channel", EntryChannel))
	defer f.logger.Info("signal feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handleMessage(ctx, data)
		}
	}
}

func (f *SignalFeeder) handleMessage(ctx context.Context, data []byte) {
	var msg entryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.WarnContext(ctx, "malformed entry signal",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	mint := strings.TrimSpace(msg.Mint)
	if mint == "" || msg.SizeSol <= 0 {
		return
	}

	pool := domain.PoolHighRisk
	if strings.EqualFold(msg.Pool, string(domain.PoolActive)) {
		pool = domain.PoolActive
	}

	sig := EntrySignal{
		Mint:    mint,
		Symbol:  msg.Symbol,
		SizeSol: msg.SizeSol,
		Pool:    pool,
	}
	if err := f.executor.Submit(sig); err != nil {
		f.logger.WarnContext(ctx, "entry signal dropped",
			slog.String("mint", mint),
			slog.String("error", err.Error()),
		)
	}
}
