package notify

import (
	"fmt"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

// BindEvents subscribes the notifier to the event bus. The handler only
// formats and queues; delivery happens on the notifier's Run goroutine.
func BindEvents(n *Notifier, bus *events.Bus) {
	bus.Subscribe(n.Observe)
}

// formatEvent renders the operator-facing text for one event. Events with no
// operator rendering report ok false.
func formatEvent(evt domain.Event) (Message, bool) {
	switch e := evt.(type) {
	case domain.PositionOpened:
		return Message{
			Title: "Position opened",
			Body: fmt.Sprintf("%s: %.4f SOL at %.8f",
				e.Position.Mint, e.Position.AmountSol, e.Position.EntryPrice),
		}, true
	case domain.PartialClose:
		return Message{
			Title: "Partial close",
			Body: fmt.Sprintf("%s sold %.0f tokens for %.4f SOL (%s), pnl %+.4f SOL",
				e.Mint, e.SoldAmount, e.SolReceived, e.Reason, e.Pnl),
		}, true
	case domain.PositionClosed:
		return Message{
			Title: "Position closed",
			Body: fmt.Sprintf("%s closed (%s): exit %.8f SOL, realized %+.4f SOL",
				e.Position.Mint, e.Reason, e.ExitPrice, e.RealizedPnl),
		}, true
	case domain.TradingPaused:
		return Message{
			Title: "Trading paused",
			Body:  fmt.Sprintf("%s (until %s)", e.Reason, e.PauseUntil.Format("2006-01-02 15:04 MST")),
		}, true
	case domain.TradingResumed:
		return Message{Title: "Trading resumed", Body: "circuit breaker cleared"}, true
	default:
		return Message{}, false
	}
}
