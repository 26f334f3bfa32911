package risk

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/advisor"
	"tradengine/src/model"
)

// AdviceSource is the external decision collaborator for advisor mode.
type AdviceSource interface {
	Advise(ctx context.Context, req advisor.Request) (*advisor.Advice, error)
}

// Service selects between deterministic and advisor evaluation per the
// subscription's policy mode. Advisor output is never used unvalidated: it
// is bounds-checked first and the whole cycle falls back to deterministic
// levels when the advisor times out, returns garbage or breaches bounds.
type Service struct {
	evaluator *Evaluator
	advice    AdviceSource
}

func NewService(advice AdviceSource) *Service {
	return &Service{evaluator: NewEvaluator(), advice: advice}
}

// Evaluate dispatches on policy mode.
func (s *Service) Evaluate(
	ctx context.Context,
	sig model.Signal,
	sub *model.Subscription,
	state *model.RiskState,
	market Market,
	rounder Rounder,
) Decision {
	policy := sub.Policy
	if policy.Mode != model.RiskModeAdvisor || s.advice == nil || !sig.IsEntry() {
		return s.evaluator.Evaluate(ctx, sig, policy, state, market, rounder)
	}

	adjusted, fellBack := s.applyAdvice(ctx, sig, sub, market)
	decision := s.evaluator.Evaluate(ctx, adjusted, policy, state, market, rounder)
	decision.AdvisorFallback = fellBack
	return decision
}

// applyAdvice fetches advisor levels and swaps them into the signal when
// they pass the policy's safety bounds. On any failure the original signal
// is returned untouched and the fallback flag is set.
func (s *Service) applyAdvice(
	ctx context.Context,
	sig model.Signal,
	sub *model.Subscription,
	market Market,
) (model.Signal, bool) {
	log := logger.WithFields(logger.Fields{
		"subscription": sub.ID,
		"venue":        sub.Venue,
		"symbol":       sig.Symbol,
	})

	advice, err := s.advice.Advise(ctx, advisor.Request{
		Venue:     sub.Venue,
		Symbol:    sig.Symbol,
		Action:    sig.Action,
		Entry:     sig.Entry,
		Equity:    market.Equity,
		Rationale: sig.Rationale,
	})
	if err != nil {
		log.WithField("error", err.Error()).Warn("RISK: advisor unavailable, deterministic fallback")
		return sig, true
	}

	if !adviceWithinBounds(sig, sub.Policy, advice) {
		log.WithFields(logger.Fields{
			"stop_loss":   advice.StopLoss.String(),
			"take_profit": advice.TakeProfit.String(),
		}).Warn("RISK: advisor levels out of bounds, deterministic fallback")
		return sig, true
	}

	sig.StopLoss = advice.StopLoss
	sig.TakeProfit = advice.TakeProfit
	if advice.SizeHint.IsPositive() {
		sig.SizeHint = advice.SizeHint
	}
	log.WithFields(logger.Fields{
		"stop_loss":   advice.StopLoss.String(),
		"take_profit": advice.TakeProfit.String(),
		"size_hint":   advice.SizeHint.String(),
		"confidence":  advice.Confidence.String(),
	}).Info("RISK: advisor levels adopted")
	return sig, false
}

// adviceWithinBounds checks the advisor's stop and target distances, as
// percentages of entry, against the policy's advisor bounds.
func adviceWithinBounds(sig model.Signal, policy model.RiskPolicy, advice *advisor.Advice) bool {
	if sig.Entry.LessThanOrEqual(decimal.Zero) {
		return false
	}

	slDist := perUnitRisk(sig.Action, sig.Entry, advice.StopLoss)
	tpDist := perUnitReward(sig.Action, sig.Entry, advice.TakeProfit)
	if slDist.LessThanOrEqual(decimal.Zero) || tpDist.LessThanOrEqual(decimal.Zero) {
		return false
	}

	slPct := slDist.Div(sig.Entry).Mul(hundred)
	tpPct := tpDist.Div(sig.Entry).Mul(hundred)

	if policy.AdvisorMinStopLossPct.IsPositive() && slPct.LessThan(policy.AdvisorMinStopLossPct) {
		return false
	}
	if policy.AdvisorMaxStopLossPct.IsPositive() && slPct.GreaterThan(policy.AdvisorMaxStopLossPct) {
		return false
	}
	if policy.AdvisorMinTakeProfitPct.IsPositive() && tpPct.LessThan(policy.AdvisorMinTakeProfitPct) {
		return false
	}
	if policy.AdvisorMaxTakeProfitPct.IsPositive() && tpPct.GreaterThan(policy.AdvisorMaxTakeProfitPct) {
		return false
	}
	return true
}
