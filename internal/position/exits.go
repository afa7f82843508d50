package position

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/awachter/soltrader/internal/domain"
)

// ExitsConfig carries every exit-cascade tunable. Fractions are expressed as
// 0..1 (0.12 means 12%).
type ExitsConfig struct {
	StopLossPercent  float64
	StopLossEarly    float64
	StopLossEarlyAge time.Duration
	StopLossMid      float64
	StopLossMidAge   time.Duration
	GracePeriod      time.Duration

	TakeProfitTrigger  float64
	TrailingPercent    float64
	ScaledExitFraction float64

	ProtectProfitsMin     float64
	ProtectProfitsRetrace float64

	FlashCrashTicks   int
	FlashCrashPercent float64
	VolatilityGrace   time.Duration

	RapidDropWindow  time.Duration
	RapidDropPercent float64

	ExhaustionMinProfit float64
	ExhaustionNearHigh  float64
	ExhaustionFraction  float64
	ExhaustionCooldown  time.Duration

	MaxHoldTime         time.Duration
	StalePriceThreshold time.Duration
	NoPriceTimeout      time.Duration
	YoungPositionGrace  time.Duration

	FixedFeeSol float64
}

type actionKind int

const (
	actionNone actionKind = iota
	// actionFullClose sells the whole remaining amount.
	actionFullClose
	// actionPartialClose sells SellAmount tokens.
	actionPartialClose
	// actionMarkClosed finalizes the position without attempting a sell.
	actionMarkClosed
	// actionRatchet only tightens the trailing stop.
	actionRatchet
)

// exitAction is one cascade verdict. Exactly one branch produces it per
// evaluation; re-evaluating unchanged inputs yields the same verdict without
// side effects.
type exitAction struct {
	kind       actionKind
	reason     domain.CloseReason
	detail     string
	sellAmount float64

	// markRecovered and scaledExit flag the post-sell state mutation for
	// take-profit branches.
	markRecovered bool
	scaledExit    bool
	exhaustion    bool

	// trailingPercent, when positive, arms or ratchets the trailing stop
	// after the action succeeds.
	trailingPercent float64
}

// tracked wraps a position with the per-process runtime state the cascade
// needs between ticks. mu serializes every access to the position and the
// tick state: the monitor tick, the ghost sweep, and snapshot reads all run
// on different goroutines.
type tracked struct {
	mu  sync.Mutex
	pos *domain.Position

	downTicks      int
	downTicksDrop  float64
	lastPrice      float64
	lastExhaustion time.Time
	priceUpdates   int
}

// Evaluator runs the exit cascade. Branch order is load-bearing: several
// rules can be true at once and the first match decides the recorded exit
// reason.
type Evaluator struct {
	cfg      ExitsConfig
	momentum domain.MomentumSource
	logger   *slog.Logger
}

// NewEvaluator creates an evaluator. momentum may be nil, in which case the
// momentum-driven branches never fire and recovery uses static thresholds.
func NewEvaluator(cfg ExitsConfig, momentum domain.MomentumSource, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		cfg:      cfg,
		momentum: momentum,
		logger:   logger.With(slog.String("component", "exit_cascade")),
	}
}

// observePrice feeds a fresh price into the tick-direction tracker before
// evaluation.
func (t *tracked) observePrice(price float64) {
	if t.lastPrice > 0 {
		if price < t.lastPrice {
			t.downTicks++
			t.downTicksDrop += (t.lastPrice - price) / t.lastPrice
		} else if price > t.lastPrice {
			t.downTicks = 0
			t.downTicksDrop = 0
		}
	}
	t.lastPrice = price
}

// Evaluate runs the cascade for one position at one instant. It never
// mutates the position; the manager applies the returned action.
func (e *Evaluator) Evaluate(ctx context.Context, t *tracked, now time.Time) exitAction {
	p := t.pos
	age := p.Age(now)

	// a. Max hold time.
	if e.cfg.MaxHoldTime > 0 && age >= e.cfg.MaxHoldTime {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonDeadToken, detail: "max hold time"}
	}

	// b. Corrupted entry price.
	if !p.ValidProfitPercent() {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonDeadToken, detail: "invalid profit percent"}
	}
	profit := p.ProfitPercent()

	// c. Protect profits: profitable but retracing hard from the local peak.
	if e.cfg.ProtectProfitsMin > 0 && profit >= e.cfg.ProtectProfitsMin && p.HighestPrice > 0 {
		retrace := (p.HighestPrice - p.CurrentPrice) / p.HighestPrice
		if retrace >= e.cfg.ProtectProfitsRetrace {
			return exitAction{kind: actionFullClose, reason: domain.CloseReasonTakeProfit, detail: "profit retrace"}
		}
	}

	// d. Flash crash, suppressed during the initial volatility window.
	if age >= e.cfg.VolatilityGrace &&
		e.cfg.FlashCrashTicks > 0 &&
		t.downTicks >= e.cfg.FlashCrashTicks &&
		t.downTicksDrop >= e.cfg.FlashCrashPercent {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonRugDetected, detail: "flash crash"}
	}

	// e. Nothing left to sell.
	if p.Amount <= 0 {
		return exitAction{kind: actionMarkClosed, reason: domain.CloseReasonGhostPosition, detail: "zero amount"}
	}

	// f. Rapid drop shortly after entry.
	if age <= e.cfg.RapidDropWindow && profit <= -e.cfg.RapidDropPercent {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonRugDetected, detail: "rapid drop"}
	}

	// g. Momentum says get out now.
	if e.momentum != nil {
		exit, err := e.momentum.ShouldExitNow(ctx, domain.ExitMetrics{
			Mint:              p.Mint,
			PriceTicksDown:    t.downTicks,
			DistanceFromHigh:  distanceFromHigh(p),
			SecondsSinceEntry: age.Seconds(),
		}, profit)
		if err != nil {
			e.logger.WarnContext(ctx, "exit: momentum signal unavailable",
				slog.String("mint", p.Mint),
				slog.String("error", err.Error()))
		} else if exit {
			return exitAction{kind: actionFullClose, reason: domain.CloseReasonAISignal, detail: "momentum exit"}
		}
	}

	// h. Age-tiered stop loss, suppressed during the entry grace period.
	// Compared on price levels; landing exactly on the threshold fires.
	if age >= e.cfg.GracePeriod && p.CurrentPrice <= p.EntryPrice*(1-e.stopLossFor(age)) {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonStopLoss, detail: "stop loss"}
	}

	// i. Trailing stop, once armed.
	if p.TrailingStop > 0 && p.CurrentPrice <= p.TrailingStop {
		return exitAction{kind: actionFullClose, reason: domain.CloseReasonTrailingStop, detail: "trailing stop"}
	}

	trigger, trailing, extraFraction := e.recoveryParams(ctx, p.Mint)

	// j. Initial recovery: sell exactly enough to recoup the entry cost.
	if !p.InitialRecovered && profit >= trigger && p.CurrentPrice > 0 {
		recover := p.InitialInvestment / p.CurrentPrice
		if extraFraction > 0 {
			recover += (p.Amount - recover) * extraFraction
		}
		if recover > p.Amount {
			recover = p.Amount
		}
		return exitAction{
			kind:            actionPartialClose,
			reason:          domain.CloseReasonTakeProfit,
			detail:          "initial recovery",
			sellAmount:      recover,
			markRecovered:   true,
			trailingPercent: trailing,
		}
	}

	// k. Scaled exits: a fraction of the remainder per further gain interval.
	if p.InitialRecovered && trigger > 0 {
		intervals := int((profit - trigger) / trigger)
		if intervals > p.ScaledExitsTaken {
			return exitAction{
				kind:            actionPartialClose,
				reason:          domain.CloseReasonTakeProfit,
				detail:          "scaled exit",
				sellAmount:      p.Amount * e.cfg.ScaledExitFraction,
				scaledExit:      true,
				trailingPercent: trailing,
			}
		}
	}

	// l. Exhaustion: deep in profit near the high with fading momentum.
	if e.momentum != nil &&
		profit >= e.cfg.ExhaustionMinProfit &&
		distanceFromHigh(p) <= e.cfg.ExhaustionNearHigh &&
		now.Sub(t.lastExhaustion) >= e.cfg.ExhaustionCooldown {
		sig, err := e.momentum.MomentumStrength(ctx, p.Mint)
		if err == nil && sig.Strength == domain.MomentumWeak {
			return exitAction{
				kind:            actionPartialClose,
				reason:          domain.CloseReasonAISignal,
				detail:          "exhaustion",
				sellAmount:      p.Amount * e.cfg.ExhaustionFraction,
				exhaustion:      true,
				trailingPercent: trailing,
			}
		}
	}

	// m. Ratchet the trailing stop on new highs after recovery.
	if p.InitialRecovered && p.CurrentPrice >= p.HighestPrice && p.CurrentPrice > 0 {
		return exitAction{kind: actionRatchet, trailingPercent: trailing}
	}

	return exitAction{}
}

// stopLossFor returns the loss threshold for the position's age: widest
// right after entry, tightening past the two breakpoints.
func (e *Evaluator) stopLossFor(age time.Duration) float64 {
	switch {
	case age < e.cfg.StopLossEarlyAge:
		return e.cfg.StopLossEarly
	case age < e.cfg.StopLossMidAge:
		return e.cfg.StopLossMid
	default:
		return e.cfg.StopLossPercent
	}
}

// recoveryParams adapts the take-profit trigger, trailing distance, and
// immediate extra sell fraction to momentum strength. Weak momentum lowers
// the trigger, tightens the trail, and sells more up front; medium and
// strong keep the static thresholds, so the default history-backed source
// degrades to the non-adaptive cascade when it has nothing to say.
func (e *Evaluator) recoveryParams(ctx context.Context, mint string) (trigger, trailing, extraFraction float64) {
	trigger = e.cfg.TakeProfitTrigger
	trailing = e.cfg.TrailingPercent

	if e.momentum == nil {
		return trigger, trailing, 0
	}
	sig, err := e.momentum.MomentumStrength(ctx, mint)
	if err != nil {
		return trigger, trailing, 0
	}
	if sig.Strength == domain.MomentumWeak {
		return trigger * 0.6, trailing * 0.6, 0.25
	}
	return trigger, trailing, 0
}

func distanceFromHigh(p *domain.Position) float64 {
	if p.HighestPrice <= 0 {
		return 0
	}
	return (p.HighestPrice - p.CurrentPrice) / p.HighestPrice
}
