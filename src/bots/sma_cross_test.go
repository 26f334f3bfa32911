package bots

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"tradengine/src/connectors"
	"tradengine/src/model"
)

func klinesFromCloses(closes ...float64) []connectors.Kline {
	out := make([]connectors.Kline, len(closes))
	for i, c := range closes {
		out[i] = connectors.Kline{Close: decimal.NewFromFloat(c)}
	}
	return out
}

func smaSubscription() *model.Subscription {
	return &model.Subscription{
		Symbol: "BTCUSDT",
		Policy: model.RiskPolicy{
			StopLossPercent:   decimal.NewFromInt(2),
			TakeProfitPercent: decimal.NewFromInt(4),
		},
	}
}

func TestSMACrossBuyOnUpwardCross(t *testing.T) {
	bot := NewSMACross(2, 3)

	// Flat then a jump: fast average overtakes the slow one on the last bar.
	data := MarketData{
		Klines:    klinesFromCloses(100, 100, 100, 100, 120),
		LastPrice: decimal.NewFromInt(120),
	}
	sig, err := bot.ProduceSignal(context.Background(), data, smaSubscription())
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if sig.Action != model.SignalBuy {
		t.Fatalf("expected buy, got %s", sig.Action)
	}
	if !sig.StopLoss.Equal(decimal.NewFromFloat(117.6)) {
		t.Fatalf("expected stop 117.6 (2%% below entry), got %s", sig.StopLoss)
	}
	if !sig.TakeProfit.Equal(decimal.NewFromFloat(124.8)) {
		t.Fatalf("expected target 124.8 (4%% above entry), got %s", sig.TakeProfit)
	}
}

func TestSMACrossSellOnDownwardCross(t *testing.T) {
	bot := NewSMACross(2, 3)

	data := MarketData{
		Klines:    klinesFromCloses(100, 100, 100, 100, 80),
		LastPrice: decimal.NewFromInt(80),
	}
	sig, err := bot.ProduceSignal(context.Background(), data, smaSubscription())
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if sig.Action != model.SignalSell {
		t.Fatalf("expected sell, got %s", sig.Action)
	}
	if !sig.StopLoss.GreaterThan(sig.Entry) {
		t.Fatalf("short stop must sit above entry, got SL %s entry %s", sig.StopLoss, sig.Entry)
	}
}

func TestSMACrossHoldsWithoutCross(t *testing.T) {
	bot := NewSMACross(2, 3)

	data := MarketData{
		Klines:    klinesFromCloses(100, 101, 102, 103, 104),
		LastPrice: decimal.NewFromInt(104),
	}
	sig, err := bot.ProduceSignal(context.Background(), data, smaSubscription())
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if sig.Action != model.SignalHold {
		t.Fatalf("expected hold on steady trend, got %s", sig.Action)
	}
}

func TestSMACrossNeedsWarmup(t *testing.T) {
	bot := NewSMACross(9, 21)
	data := MarketData{Klines: klinesFromCloses(100, 101)}

	if _, err := bot.ProduceSignal(context.Background(), data, smaSubscription()); err == nil {
		t.Fatal("expected warm-up error with too few bars")
	}
}

func TestRegistryResolvesVersions(t *testing.T) {
	registry := DefaultRegistry()

	for _, version := range []int{1, 2} {
		producer, err := registry.Resolve("sma_cross", version)
		if err != nil {
			t.Fatalf("version %d: %v", version, err)
		}
		if producer == nil {
			t.Fatalf("version %d: nil producer", version)
		}
	}

	_, err := registry.Resolve("sma_cross", 99)
	var unknown *UnknownBotError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownBotError, got %v", err)
	}

	_, err = registry.Resolve("nonexistent", 1)
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownBotError, got %v", err)
	}
}
