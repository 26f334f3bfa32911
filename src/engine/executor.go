// ORDER EXECUTION ENGINE
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/connectors"
	"tradengine/src/model"
	"tradengine/src/notify"
	"tradengine/src/risk"
)

// Orders is the persistence surface the executor needs.
type Orders interface {
	Create(ctx context.Context, order *model.Order) error
	MarkStatus(ctx context.Context, order *model.Order, status, reason string) error
}

// Emitter decouples the executor from the notify dispatcher.
type Emitter interface {
	Emit(event notify.Event)
}

// ExecutionResult summarizes what one approved decision produced.
type ExecutionResult struct {
	Entry      *model.Order
	StopLoss   *model.Order
	TakeProfit *model.Order

	// Unprotected is set when the entry filled but a protective order could
	// not be placed after all retries. A high-severity event has already
	// been emitted by then.
	Unprotected bool
}

// Executor turns an approved decision into venue orders: entry first, then
// reduce-only stop-loss and take-profit. Only transient venue errors are
// retried, always with the same idempotency token; a rejection terminates
// the cycle because resubmitting unchanged parameters is certain to reject
// again.
type Executor struct {
	config Config
	orders Orders
	events Emitter
}

func NewExecutor(orders Orders, events Emitter) *Executor {
	return &Executor{
		config: GetConfig(),
		orders: orders,
		events: events,
	}
}

// newClientOrderID builds an idempotency token. Dashes are stripped so the
// token survives every venue's client-id character rules.
func newClientOrderID() string {
	return "te" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

// Execute places the entry and its protective orders.
func (e *Executor) Execute(
	ctx context.Context,
	sub *model.Subscription,
	conn connectors.Connector,
	decision risk.Decision,
) (*ExecutionResult, error) {
	sig := decision.Signal
	log := logger.WithFields(logger.Fields{
		"subscription": sub.ID,
		"venue":        sub.Venue,
		"symbol":       sig.Symbol,
		"side":         sig.Action,
	})

	// Final snap onto the venue grid. The evaluator already compared
	// rounded values; this guards against precision drift in adjustments
	// made after evaluation (e.g. a trailed stop).
	qty, err := conn.RoundQuantity(ctx, sig.Symbol, decision.Quantity)
	if err != nil {
		return nil, fmt.Errorf("round quantity: %w", err)
	}
	stopPrice, err := conn.RoundPrice(ctx, sig.Symbol, sig.StopLoss)
	if err != nil {
		return nil, fmt.Errorf("round stop price: %w", err)
	}
	targetPrice, err := conn.RoundPrice(ctx, sig.Symbol, sig.TakeProfit)
	if err != nil {
		return nil, fmt.Errorf("round target price: %w", err)
	}

	if err := conn.SetLeverage(ctx, sig.Symbol, decision.Leverage); err != nil {
		// Leverage errors on unchanged settings are common; only auth
		// failures abort before the entry.
		if connectors.IsAuth(err) {
			return nil, err
		}
		log.WithField("error", err.Error()).Warn("EXECUTE: set leverage failed, continuing")
	}

	// Entry. The row records the evaluated entry price even though the
	// market order itself carries none; position close accounting needs it.
	entryPrice := sig.Entry
	entryOrder := e.newOrderRow(sub, sig, model.OrderDirectionEntry, connectors.OrderTypeMarket, qty, &entryPrice, decision.Leverage)
	if err := e.orders.Create(ctx, entryOrder); err != nil {
		return nil, fmt.Errorf("persist entry order: %w", err)
	}

	entryAck, err := e.submitWithRetry(ctx, e.config.MaxAttempts, func() (*connectors.OrderAck, error) {
		return conn.CreateMarketOrder(ctx, connectors.OrderParams{
			Symbol:        sig.Symbol,
			Side:          sig.Action,
			Quantity:      qty,
			ClientOrderID: entryOrder.ClientOrderID,
		})
	})
	if err != nil {
		e.failOrder(ctx, sub, entryOrder, err)
		return nil, err
	}

	entryOrder.VenueOrderID = entryAck.VenueOrderID
	entryStatus := model.OrderStatusSubmitted
	if ackConfirmsFill(entryAck.Status) {
		entryStatus = model.OrderStatusFilled
	}
	if err := e.orders.MarkStatus(ctx, entryOrder, entryStatus, ""); err != nil {
		log.WithField("error", err.Error()).Error("EXECUTE: failed to persist entry status")
	}
	log.WithFields(logger.Fields{
		"venue_order_id": entryAck.VenueOrderID,
		"quantity":       qty.String(),
		"status":         entryStatus,
	}).Info("EXECUTE: entry order placed")

	result := &ExecutionResult{Entry: entryOrder}

	// Protective orders close the position, so they take the opposite side
	// and are always reduce-only.
	exitSide := connectors.SideSell
	if sig.Action == model.SignalSell {
		exitSide = connectors.SideBuy
	}

	// Stop-loss.
	slOrder := e.newOrderRow(sub, sig, model.OrderDirectionStopLoss, connectors.OrderTypeStop, qty, &stopPrice, decision.Leverage)
	slOrder.Side = exitSide
	if err := e.orders.Create(ctx, slOrder); err != nil {
		log.WithField("error", err.Error()).Error("EXECUTE: failed to persist stop order row")
	}
	slAck, err := e.submitWithRetry(ctx, e.config.ProtectiveMaxAttempts, func() (*connectors.OrderAck, error) {
		return conn.CreateStopOrder(ctx, connectors.OrderParams{
			Symbol:        sig.Symbol,
			Side:          exitSide,
			Quantity:      qty,
			StopPrice:     stopPrice,
			ReduceOnly:    true,
			ClientOrderID: slOrder.ClientOrderID,
		})
	})
	if err != nil {
		e.failOrder(ctx, sub, slOrder, err)
		e.alertUnprotected(sub, sig.Symbol, "stop_loss", err)
		result.Unprotected = true
	} else {
		slOrder.VenueOrderID = slAck.VenueOrderID
		_ = e.orders.MarkStatus(ctx, slOrder, model.OrderStatusSubmitted, "")
		result.StopLoss = slOrder
	}

	// Take-profit.
	tpOrder := e.newOrderRow(sub, sig, model.OrderDirectionTakeProfit, connectors.OrderTypeLimit, qty, &targetPrice, decision.Leverage)
	tpOrder.Side = exitSide
	if err := e.orders.Create(ctx, tpOrder); err != nil {
		log.WithField("error", err.Error()).Error("EXECUTE: failed to persist target order row")
	}
	tpAck, err := e.submitWithRetry(ctx, e.config.ProtectiveMaxAttempts, func() (*connectors.OrderAck, error) {
		return conn.CreateLimitOrder(ctx, connectors.OrderParams{
			Symbol:        sig.Symbol,
			Side:          exitSide,
			Quantity:      qty,
			Price:         targetPrice,
			ReduceOnly:    true,
			ClientOrderID: tpOrder.ClientOrderID,
		})
	})
	if err != nil {
		e.failOrder(ctx, sub, tpOrder, err)
		e.alertUnprotected(sub, sig.Symbol, "take_profit", err)
		result.Unprotected = true
	} else {
		tpOrder.VenueOrderID = tpAck.VenueOrderID
		_ = e.orders.MarkStatus(ctx, tpOrder, model.OrderStatusSubmitted, "")
		result.TakeProfit = tpOrder
	}

	return result, nil
}

// ackConfirmsFill reports whether the create ack already confirms the
// match. Venues that ack before matching report new/open style statuses;
// those rows stay submitted until a later cycle confirms the fill. An
// empty status means the venue does not echo one, and a market order ack
// without a status is taken as filled.
func ackConfirmsFill(status string) bool {
	switch strings.ToLower(status) {
	case "", "filled", "closed", "full_fill":
		return true
	}
	return false
}

// submitWithRetry retries transient venue errors with capped exponential
// backoff, reusing the same client order id on every attempt so a timeout
// retry cannot open a duplicate position.
func (e *Executor) submitWithRetry(
	ctx context.Context,
	maxAttempts int,
	submit func() (*connectors.OrderAck, error),
) (*connectors.OrderAck, error) {
	delay := e.config.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ack, err := submit()
		if err == nil {
			return ack, nil
		}
		lastErr = err

		if !connectors.IsTransient(err) {
			return nil, err
		}
		if attempt == maxAttempts {
			break
		}

		logger.WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("EXECUTE: transient venue error, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > e.config.RetryMaxDelay {
			delay = e.config.RetryMaxDelay
		}
	}
	return nil, lastErr
}

func (e *Executor) newOrderRow(
	sub *model.Subscription,
	sig model.Signal,
	direction, orderType string,
	qty decimal.Decimal,
	price *decimal.Decimal,
	leverage int,
) *model.Order {
	order := &model.Order{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Venue:          sub.Venue,
		Symbol:         sig.Symbol,
		Side:           sig.Action,
		OrderType:      orderType,
		Quantity:       qty.InexactFloat64(),
		Leverage:       leverage,
		ClientOrderID:  newClientOrderID(),
		Status:         model.OrderStatusPending,
		OrderDir:       direction,
		ReduceOnly:     direction != model.OrderDirectionEntry,
	}
	if price != nil {
		p := price.InexactFloat64()
		order.Price = &p
	}
	return order
}

func (e *Executor) failOrder(ctx context.Context, sub *model.Subscription, order *model.Order, err error) {
	status := model.OrderStatusError
	if connectors.IsRejected(err) {
		status = model.OrderStatusRejected
	}
	if markErr := e.orders.MarkStatus(ctx, order, status, err.Error()); markErr != nil {
		logger.WithField("error", markErr.Error()).Error("EXECUTE: failed to persist order failure")
	}

	e.events.Emit(notify.Event{
		Kind:           notify.EventOrderFailed,
		Severity:       notify.SeverityWarn,
		SubscriptionID: sub.ID,
		Payload: map[string]any{
			"order_dir": order.OrderDir,
			"symbol":    order.Symbol,
			"error":     err.Error(),
		},
	})
}

// alertUnprotected fires the high-severity alert for a filled entry whose
// protective order could not be placed. Never silent.
func (e *Executor) alertUnprotected(sub *model.Subscription, symbol, which string, err error) {
	logger.WithFields(logger.Fields{
		"subscription": sub.ID,
		"symbol":       symbol,
		"protective":   which,
		"error":        err.Error(),
	}).Error("EXECUTE: POSITION UNPROTECTED, protective order failed after retries")

	e.events.Emit(notify.Event{
		Kind:           notify.EventOrderFailed,
		Severity:       notify.SeverityHigh,
		SubscriptionID: sub.ID,
		Payload: map[string]any{
			"protective": which,
			"symbol":     symbol,
			"error":      err.Error(),
			"action":     "manual intervention required",
		},
	})
}
