package engine

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/bots"
	"tradengine/src/connectors"
	"tradengine/src/model"
	"tradengine/src/notify"
	"tradengine/src/risk"
	"tradengine/src/state"
)

// Subscriptions is the persistence surface the cycle runner needs.
type Subscriptions interface {
	UpdateStatus(ctx context.Context, id uint, status string) error
	TouchLastExecution(ctx context.Context, id uint, at time.Time) error
}

// Exceptions captures operator-facing failures.
type Exceptions interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// ConnectorFactory resolves venue + credentials to an adapter.
type ConnectorFactory func(venue string, creds connectors.Credentials, network string) (connectors.Connector, error)

// CredentialOpener decrypts the subscription's sealed API credentials.
type CredentialOpener func(sub *model.Subscription) (connectors.Credentials, error)

// CycleRunner executes one full trading cycle for one subscription:
// market data, bot signal, risk decision, order execution, state update.
// It owns no scheduling; the scheduler calls Run and interprets the error.
type CycleRunner struct {
	config      Config
	subs        Subscriptions
	exceptions  Exceptions
	store       *state.Store
	riskService *risk.Service
	registry    *bots.Registry
	executor    *Executor
	reconciler  *Reconciler
	events      Emitter
	connect     ConnectorFactory
	credentials CredentialOpener

	klineLimit int
}

func NewCycleRunner(
	subs Subscriptions,
	exceptions Exceptions,
	store *state.Store,
	riskService *risk.Service,
	registry *bots.Registry,
	executor *Executor,
	reconciler *Reconciler,
	events Emitter,
	connect ConnectorFactory,
	credentials CredentialOpener,
) *CycleRunner {
	return &CycleRunner{
		config:      GetConfig(),
		subs:        subs,
		exceptions:  exceptions,
		store:       store,
		riskService: riskService,
		registry:    registry,
		executor:    executor,
		reconciler:  reconciler,
		events:      events,
		connect:     connect,
		credentials: credentials,
		klineLimit:  100,
	}
}

// Run executes one cycle. A policy rejection is a normal outcome and
// returns nil; only infrastructure and venue failures return an error, and
// the scheduler turns those into backoff.
func (r *CycleRunner) Run(ctx context.Context, sub *model.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.config.CycleTimeoutFactor)*sub.Cadence())
	defer cancel()

	log := logger.WithFields(logger.Fields{
		"subscription": sub.ID,
		"venue":        sub.Venue,
		"symbol":       sub.Symbol,
	})
	log.Debug("CYCLE: starting")

	creds, err := r.credentials(sub)
	if err != nil {
		r.recordException(ctx, sub, "credentials", err)
		return fmt.Errorf("open credentials: %w", err)
	}

	conn, err := r.connect(sub.Venue, creds, sub.Network)
	if err != nil {
		r.recordException(ctx, sub, "connector", err)
		return fmt.Errorf("resolve connector: %w", err)
	}

	klines, err := conn.Klines(ctx, sub.Symbol, timeframeFor(sub.Cadence()), r.klineLimit)
	if err != nil {
		return r.venueFailure(ctx, sub, "klines", err)
	}
	ticker, err := conn.Ticker(ctx, sub.Symbol)
	if err != nil {
		return r.venueFailure(ctx, sub, "ticker", err)
	}
	balances, err := conn.AccountInfo(ctx)
	if err != nil {
		return r.venueFailure(ctx, sub, "account", err)
	}
	positions, err := conn.Positions(ctx, "")
	if err != nil {
		return r.venueFailure(ctx, sub, "positions", err)
	}

	// Book any position that closed since the last cycle before evaluating
	// new signals; cooldown and daily-loss gates depend on it.
	if err := r.reconciler.Reconcile(ctx, sub, conn, positions, ticker.Last); err != nil {
		if connectors.IsAuth(err) {
			return r.venueFailure(ctx, sub, "reconcile", err)
		}
		log.WithField("error", err.Error()).Warn("CYCLE: reconciliation failed, continuing")
	}

	producer, err := r.registry.Resolve(sub.BotID, sub.BotVersion)
	if err != nil {
		r.recordException(ctx, sub, "bot", err)
		return err
	}
	sig, err := producer.ProduceSignal(ctx, bots.MarketData{
		Klines:    klines,
		LastPrice: ticker.Last,
	}, sub)
	if err != nil {
		log.WithField("error", err.Error()).Warn("CYCLE: bot produced no signal")
		return nil
	}

	riskState, err := r.store.Get(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load risk state: %w", err)
	}

	decision := r.riskService.Evaluate(ctx, sig, sub, riskState, risk.Market{
		Equity:       balances.Equity,
		OpenExposure: exposureOf(positions),
		LastPrice:    ticker.Last,
		Now:          time.Now().UTC(),
	}, conn)

	if decision.AdvisorFallback {
		r.events.Emit(notify.Event{
			Kind:           notify.EventAdvisorFallback,
			Severity:       notify.SeverityWarn,
			SubscriptionID: sub.ID,
			Payload:        map[string]any{"symbol": sub.Symbol},
		})
	}

	if !decision.Approved() {
		if decision.Reason != risk.ReasonHoldSignal {
			log.WithField("reason", decision.Reason).Info("CYCLE: signal rejected by policy")
			r.events.Emit(notify.Event{
				Kind:           notify.EventSignalRejected,
				Severity:       notify.SeverityInfo,
				SubscriptionID: sub.ID,
				Payload: map[string]any{
					"reason": decision.Reason,
					"action": sig.Action,
					"symbol": sig.Symbol,
				},
			})
		}
		// Trailing updates may have occurred even on a rejected cycle.
		if err := r.store.UpdateTrailing(ctx, sub.ID, riskState); err != nil {
			log.WithField("error", err.Error()).Warn("CYCLE: failed to persist trailing state")
		}
		return nil
	}

	result, err := r.executor.Execute(ctx, sub, conn, decision)
	if err != nil {
		return r.venueFailure(ctx, sub, "execute", err)
	}

	if err := r.store.UpdateTrailing(ctx, sub.ID, riskState); err != nil {
		log.WithField("error", err.Error()).Warn("CYCLE: failed to persist trailing state")
	}
	if err := r.subs.TouchLastExecution(ctx, sub.ID, time.Now().UTC()); err != nil {
		log.WithField("error", err.Error()).Warn("CYCLE: failed to touch last execution")
	}

	r.events.Emit(notify.Event{
		Kind:           notify.EventTradeExecuted,
		Severity:       notify.SeverityInfo,
		SubscriptionID: sub.ID,
		Payload: map[string]any{
			"symbol":      decision.Signal.Symbol,
			"side":        decision.Signal.Action,
			"quantity":    decision.Quantity.String(),
			"entry":       decision.Signal.Entry.String(),
			"stop_loss":   decision.Signal.StopLoss.String(),
			"take_profit": decision.Signal.TakeProfit.String(),
			"unprotected": result.Unprotected,
		},
	})

	log.Info("CYCLE: completed with trade")
	return nil
}

// venueFailure classifies a venue error: auth failures pause the
// subscription so a dead credential stops burning cycles, everything else
// is recorded and handed back to the scheduler for backoff.
func (r *CycleRunner) venueFailure(ctx context.Context, sub *model.Subscription, op string, err error) error {
	if connectors.IsAuth(err) {
		logger.WithFields(logger.Fields{
			"subscription": sub.ID,
			"venue":        sub.Venue,
			"op":           op,
		}).Error("CYCLE: credential failure, pausing subscription")

		if pauseErr := r.subs.UpdateStatus(ctx, sub.ID, model.SubscriptionStatusPaused); pauseErr != nil {
			logger.WithField("error", pauseErr.Error()).Error("CYCLE: failed to pause subscription")
		}
		r.recordException(ctx, sub, op, err)
		r.events.Emit(notify.Event{
			Kind:           notify.EventAuthFailure,
			Severity:       notify.SeverityHigh,
			SubscriptionID: sub.ID,
			Payload: map[string]any{
				"venue": sub.Venue,
				"op":    op,
				"error": err.Error(),
			},
		})
		return err
	}

	if connectors.IsRejected(err) {
		// The observed price-bound rejection of a priceless market order
		// lands here: terminal for the cycle, preserved for an operator.
		r.recordException(ctx, sub, op, err)
	}
	return err
}

func (r *CycleRunner) recordException(ctx context.Context, sub *model.Subscription, method string, err error) {
	exc := &model.Exception{
		Service: "tradengine",
		Module:  "engine",
		Method:  method,
		Level:   "error",
		Message: err.Error(),
		Context: fmt.Sprintf("subscription=%d venue=%s symbol=%s", sub.ID, sub.Venue, sub.Symbol),
	}
	if createErr := r.exceptions.Create(ctx, exc); createErr != nil {
		logger.WithField("error", createErr.Error()).Error("CYCLE: failed to persist exception")
	}
}

// exposureOf sums notional across open positions.
func exposureOf(positions []connectors.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		price := p.MarkPrice
		if price.IsZero() {
			price = p.EntryPrice
		}
		total = total.Add(p.Size.Mul(price))
	}
	return total
}

// timeframeFor maps a cadence to the closest venue kline interval.
func timeframeFor(cadence time.Duration) string {
	switch {
	case cadence < 5*time.Minute:
		return "1m"
	case cadence < 15*time.Minute:
		return "5m"
	case cadence < 30*time.Minute:
		return "15m"
	case cadence < time.Hour:
		return "30m"
	case cadence < 4*time.Hour:
		return "1h"
	case cadence < 24*time.Hour:
		return "4h"
	default:
		return "1d"
	}
}
