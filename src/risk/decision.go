package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"tradengine/src/model"
)

// Decision outcomes.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeDeferred = "deferred"
)

// Rejection and deferral reason codes.
const (
	ReasonHoldSignal           = "hold_signal"
	ReasonOutsideTradingWindow = "outside_trading_window"
	ReasonInCooldown           = "in_cooldown"
	ReasonDailyLossLimit       = "daily_loss_limit_reached"
	ReasonInvalidStops         = "invalid_stop_levels"
	ReasonSizeTooSmall         = "size_too_small"
	ReasonRiskRewardTooLow     = "risk_reward_too_low"
	ReasonMarketDataMissing    = "market_data_unavailable"
)

// Decision is the evaluator's verdict on one signal. For an approved
// decision Signal carries the adjusted values the engine must use: rounded
// size, possibly tightened stop, capped leverage.
type Decision struct {
	Outcome string
	Reason  string

	Signal   model.Signal
	Quantity decimal.Decimal
	Leverage int

	// AdvisorFallback marks that advisor output was unusable this cycle and
	// deterministic evaluation was used instead. Not an error.
	AdvisorFallback bool
}

func (d Decision) Approved() bool { return d.Outcome == OutcomeApproved }

func rejected(reason string) Decision {
	return Decision{Outcome: OutcomeRejected, Reason: reason}
}

func deferred(reason string) Decision {
	return Decision{Outcome: OutcomeDeferred, Reason: reason}
}

// Market is the per-cycle market context the evaluator compares against.
type Market struct {
	Equity       decimal.Decimal
	OpenExposure decimal.Decimal // notional already committed across positions
	LastPrice    decimal.Decimal
	Now          time.Time
}
