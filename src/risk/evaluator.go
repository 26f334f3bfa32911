package risk

import (
	"context"
	"strconv"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/model"
)

var hundred = decimal.NewFromInt(100)

// Rounder snaps values onto the venue's precision grid. Every numeric
// comparison below uses exchange-rounded values, so a trade approved here
// cannot become invalid after rounding at submission time.
type Rounder interface {
	RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error)
	RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error)
}

// Evaluator runs the deterministic rule chain. It is stateless; all mutable
// inputs arrive as arguments and trailing updates are written back through
// the passed state pointer, which the caller persists.
type Evaluator struct{}

func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate runs the checks in fixed order, short-circuiting on the first
// failure: trading window, cooldown, daily loss, sizing, risk/reward,
// leverage cap, trailing update. The trailing update never blocks a trade.
func (e *Evaluator) Evaluate(
	ctx context.Context,
	sig model.Signal,
	policy model.RiskPolicy,
	state *model.RiskState,
	market Market,
	rounder Rounder,
) Decision {
	if !sig.IsEntry() {
		return rejected(ReasonHoldSignal)
	}
	if market.Equity.LessThanOrEqual(decimal.Zero) || sig.Entry.LessThanOrEqual(decimal.Zero) {
		return deferred(ReasonMarketDataMissing)
	}

	now := market.Now.UTC()

	// 1. Trading window.
	if !withinTradingWindow(policy, now) {
		return rejected(ReasonOutsideTradingWindow)
	}

	// 2. Cooldown.
	if state.InCooldown(now) {
		return rejected(ReasonInCooldown)
	}

	// 3. Daily loss limit, on the rolled-over view of the accumulator.
	if policy.DailyLossLimitPct.IsPositive() {
		loss := EffectiveDailyLoss(state, now)
		lossPct := loss.Div(market.Equity).Mul(hundred)
		if lossPct.GreaterThanOrEqual(policy.DailyLossLimitPct) {
			return rejected(ReasonDailyLossLimit)
		}
	}

	// Exchange-rounded levels from here on.
	entry, err := rounder.RoundPrice(ctx, sig.Symbol, sig.Entry)
	if err != nil {
		return deferred(ReasonMarketDataMissing)
	}
	stopLoss, err := rounder.RoundPrice(ctx, sig.Symbol, sig.StopLoss)
	if err != nil {
		return deferred(ReasonMarketDataMissing)
	}
	takeProfit, err := rounder.RoundPrice(ctx, sig.Symbol, sig.TakeProfit)
	if err != nil {
		return deferred(ReasonMarketDataMissing)
	}

	perUnitRisk := perUnitRisk(sig.Action, entry, stopLoss)
	if perUnitRisk.LessThanOrEqual(decimal.Zero) {
		return rejected(ReasonInvalidStops)
	}

	// 4. Position sizing: risk budget over per-unit risk, capped by the
	// absolute size limit and the remaining portfolio exposure.
	riskBudget := market.Equity.Mul(policy.RiskPerTradePercent).Div(hundred)
	size := riskBudget.Div(perUnitRisk)

	// A positive sizing hint (bot or advisor supplied) can only shrink the
	// position, never grow it past the risk budget.
	if sig.SizeHint.IsPositive() && size.GreaterThan(sig.SizeHint) {
		size = sig.SizeHint
	}
	if policy.MaxPositionSize.IsPositive() && size.GreaterThan(policy.MaxPositionSize) {
		size = policy.MaxPositionSize
	}
	if policy.MaxPortfolioExposure.IsPositive() {
		remaining := policy.MaxPortfolioExposure.Sub(market.OpenExposure)
		if remaining.LessThanOrEqual(decimal.Zero) {
			return rejected(ReasonSizeTooSmall)
		}
		exposureCap := remaining.Div(entry)
		if size.GreaterThan(exposureCap) {
			size = exposureCap
		}
	}

	size, err = rounder.RoundQuantity(ctx, sig.Symbol, size)
	if err != nil {
		return deferred(ReasonMarketDataMissing)
	}
	if size.LessThanOrEqual(decimal.Zero) {
		return rejected(ReasonSizeTooSmall)
	}

	// 5. Risk/reward on rounded levels.
	if policy.MinRiskRewardRatio.IsPositive() {
		reward := perUnitReward(sig.Action, entry, takeProfit)
		if reward.LessThanOrEqual(decimal.Zero) {
			return rejected(ReasonRiskRewardTooLow)
		}
		if reward.Div(perUnitRisk).LessThan(policy.MinRiskRewardRatio) {
			return rejected(ReasonRiskRewardTooLow)
		}
	}

	// 6. Leverage cap.
	leverage := policy.MaxLeverage
	if leverage <= 0 {
		leverage = 1
	}

	// 7. Trailing update. Mutates state, never blocks the trade.
	stopLoss = e.updateTrailing(policy, state, market.LastPrice, sig.Action, entry, stopLoss)

	out := sig
	out.Entry = entry
	out.StopLoss = stopLoss
	out.TakeProfit = takeProfit

	return Decision{
		Outcome:  OutcomeApproved,
		Signal:   out,
		Quantity: size,
		Leverage: leverage,
	}
}

// EffectiveDailyLoss returns the accumulator as of now, treating a stale
// reset date as zero. The store performs the matching write-side reset on
// the first write of the new day.
func EffectiveDailyLoss(state *model.RiskState, now time.Time) decimal.Decimal {
	if state.LastLossResetDate.UTC().Truncate(24 * time.Hour).Before(now.UTC().Truncate(24 * time.Hour)) {
		return decimal.Zero
	}
	return state.DailyLossAmount
}

func perUnitRisk(action string, entry, stopLoss decimal.Decimal) decimal.Decimal {
	if action == model.SignalSell {
		return stopLoss.Sub(entry)
	}
	return entry.Sub(stopLoss)
}

func perUnitReward(action string, entry, takeProfit decimal.Decimal) decimal.Decimal {
	if action == model.SignalSell {
		return entry.Sub(takeProfit)
	}
	return takeProfit.Sub(entry)
}

// withinTradingWindow checks policy hours and days against UTC time. Hours
// are inclusive start, exclusive end, with wraparound when start > end. A
// zero window means no hour restriction; empty AllowedDays means every day.
func withinTradingWindow(policy model.RiskPolicy, now time.Time) bool {
	if policy.AllowedDays != "" {
		day := int(now.Weekday())
		if day == 0 {
			day = 7 // ISO numbering, Sunday is 7
		}
		allowed := false
		for _, part := range strings.Split(policy.AllowedDays, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	start, end := policy.WindowStartHour, policy.WindowEndHour
	if start == 0 && end == 0 {
		return true
	}
	h := now.Hour()
	if start < end {
		return h >= start && h < end
	}
	return h >= start || h < end
}

// updateTrailing maintains peak price and, once the move past activation
// arms the trail, tightens the stop to peak minus the trailing distance.
// The stop only ever tightens; it is never loosened below the signal's own.
func (e *Evaluator) updateTrailing(
	policy model.RiskPolicy,
	state *model.RiskState,
	lastPrice decimal.Decimal,
	action string,
	entry, stopLoss decimal.Decimal,
) decimal.Decimal {
	if !policy.TrailingActivationPct.IsPositive() || !policy.TrailingPct.IsPositive() {
		return stopLoss
	}
	if lastPrice.LessThanOrEqual(decimal.Zero) {
		return stopLoss
	}
	// Long-side trailing only; short-side positions trail via the venue's
	// reduce-only stop being resubmitted on the next cycle.
	if action != model.SignalBuy {
		return stopLoss
	}

	if lastPrice.GreaterThan(state.PeakPrice) {
		state.PeakPrice = lastPrice
	}

	if !state.TrailingActive {
		gainPct := state.PeakPrice.Sub(entry).Div(entry).Mul(hundred)
		if gainPct.LessThan(policy.TrailingActivationPct) {
			return stopLoss
		}
		state.TrailingActive = true
		logger.WithFields(logger.Fields{
			"peak":       state.PeakPrice.String(),
			"activation": policy.TrailingActivationPct.String(),
		}).Info("RISK: trailing stop armed")
	}

	trailed := state.PeakPrice.Mul(decimal.NewFromInt(1).Sub(policy.TrailingPct.Div(hundred)))
	if trailed.GreaterThan(stopLoss) {
		return trailed
	}
	return stopLoss
}
