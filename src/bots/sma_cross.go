package bots

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradengine/src/model"
)

var hundred = decimal.NewFromInt(100)

// SMACross emits a buy when the fast moving average crosses above the slow
// one on the latest bar, a sell on the opposite cross, and hold otherwise.
// Stop and target distances come from the subscription's policy percents.
type SMACross struct {
	fast int
	slow int
}

func NewSMACross(fast, slow int) *SMACross {
	if fast >= slow {
		fast, slow = slow, fast
	}
	return &SMACross{fast: fast, slow: slow}
}

func (b *SMACross) ProduceSignal(_ context.Context, data MarketData, sub *model.Subscription) (model.Signal, error) {
	hold := model.Signal{Action: model.SignalHold, Symbol: sub.Symbol}

	// One extra bar so the previous relation is observable.
	if len(data.Klines) < b.slow+1 {
		return hold, fmt.Errorf("sma_cross: need %d bars, have %d", b.slow+1, len(data.Klines))
	}

	closes := make([]decimal.Decimal, len(data.Klines))
	for i, k := range data.Klines {
		closes[i] = k.Close
	}

	last := len(closes)
	fastNow := sma(closes[:last], b.fast)
	slowNow := sma(closes[:last], b.slow)
	fastPrev := sma(closes[:last-1], b.fast)
	slowPrev := sma(closes[:last-1], b.slow)

	entry := data.LastPrice
	if entry.LessThanOrEqual(decimal.Zero) {
		entry = closes[last-1]
	}

	crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
	crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)

	switch {
	case crossedUp:
		return b.entrySignal(model.SignalBuy, sub, entry), nil
	case crossedDown:
		return b.entrySignal(model.SignalSell, sub, entry), nil
	}
	return hold, nil
}

func (b *SMACross) entrySignal(action string, sub *model.Subscription, entry decimal.Decimal) model.Signal {
	slPct := sub.Policy.StopLossPercent
	if !slPct.IsPositive() {
		slPct = decimal.NewFromInt(2)
	}
	tpPct := sub.Policy.TakeProfitPercent
	if !tpPct.IsPositive() {
		tpPct = slPct.Mul(decimal.NewFromInt(2))
	}

	slDist := entry.Mul(slPct).Div(hundred)
	tpDist := entry.Mul(tpPct).Div(hundred)

	sig := model.Signal{
		Action:    action,
		Symbol:    sub.Symbol,
		Entry:     entry,
		Rationale: fmt.Sprintf("sma(%d) crossed sma(%d)", b.fast, b.slow),
	}
	if action == model.SignalBuy {
		sig.StopLoss = entry.Sub(slDist)
		sig.TakeProfit = entry.Add(tpDist)
	} else {
		sig.StopLoss = entry.Add(slDist)
		sig.TakeProfit = entry.Sub(tpDist)
	}
	return sig
}

// sma averages the last n values of the series.
func sma(values []decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 || len(values) < n {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values[len(values)-n:] {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
