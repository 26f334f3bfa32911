// POSITION CLOSE RECONCILIATION
// Detects protective orders that disappeared from the venue's open order
// book, books the trade outcome and keeps the stop/target pair consistent.
package engine

import (
	"context"
	"math"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/connectors"
	"tradengine/src/model"
	"tradengine/src/notify"
	"tradengine/src/state"
)

// ReconcileOrders is the order persistence surface the reconciler needs.
type ReconcileOrders interface {
	OpenBySubscription(ctx context.Context, subscriptionID uint) ([]model.Order, error)
	LastFilledEntry(ctx context.Context, subscriptionID uint, symbol string) (*model.Order, error)
	MarkStatus(ctx context.Context, order *model.Order, status, reason string) error
}

// OutcomeRecorder books a closed trade into the risk state.
type OutcomeRecorder interface {
	RecordTradeOutcome(ctx context.Context, sub *model.Subscription, record *model.TradeRecord) (*state.Outcome, error)
}

// Reconciler compares persisted protective orders against the venue's open
// order book at the start of each cycle. A protective order that is gone
// while the position is flat means the position closed: the trade outcome is
// recorded and the surviving sibling order is cancelled so no orphaned
// reduce-only order fires into a future position.
type Reconciler struct {
	orders ReconcileOrders
	store  OutcomeRecorder
	events Emitter
}

func NewReconciler(orders ReconcileOrders, store OutcomeRecorder, events Emitter) *Reconciler {
	return &Reconciler{orders: orders, store: store, events: events}
}

// Reconcile runs once per cycle, before signal evaluation.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	sub *model.Subscription,
	conn connectors.Connector,
	positions []connectors.Position,
	lastPrice decimal.Decimal,
) error {
	open, err := r.orders.OpenBySubscription(ctx, sub.ID)
	if err != nil {
		return err
	}

	protective := make(map[string][]model.Order) // symbol -> stop/target rows
	for _, o := range open {
		if o.OrderDir == model.OrderDirectionEntry || o.Status != model.OrderStatusSubmitted {
			continue
		}
		protective[o.Symbol] = append(protective[o.Symbol], o)
	}
	if len(protective) == 0 {
		return nil
	}

	for symbol, rows := range protective {
		venueOpen, err := conn.OpenOrders(ctx, symbol)
		if err != nil {
			return err
		}
		resting := make(map[string]bool, len(venueOpen))
		for _, vo := range venueOpen {
			if vo.ClientOrderID != "" {
				resting[vo.ClientOrderID] = true
			}
			if vo.VenueOrderID != "" {
				resting[vo.VenueOrderID] = true
			}
		}

		var gone, alive []model.Order
		for _, row := range rows {
			if resting[row.ClientOrderID] || resting[row.VenueOrderID] {
				alive = append(alive, row)
			} else {
				gone = append(gone, row)
			}
		}
		if len(gone) == 0 {
			continue
		}

		if !flat(positions, conn.NormalizeSymbol(symbol)) {
			// Order vanished but the position is still open: the venue or an
			// operator cancelled it. Record that; the position is now only
			// partially protected, which the operator must see.
			for i := range gone {
				r.markGone(ctx, &gone[i], model.OrderStatusCancelled, "order gone from venue while position open")
			}
			continue
		}

		r.bookClose(ctx, sub, symbol, gone, lastPrice)

		// The surviving sibling would fire reduce-only into a flat book.
		for i := range alive {
			if err := conn.CancelOrder(ctx, symbol, alive[i].VenueOrderID); err != nil {
				logger.WithFields(logger.Fields{
					"subscription": sub.ID,
					"symbol":       symbol,
					"order":        alive[i].VenueOrderID,
					"error":        err.Error(),
				}).Warn("RECONCILE: failed to cancel sibling order")
				continue
			}
			r.markGone(ctx, &alive[i], model.OrderStatusCancelled, "sibling filled, pair cancelled")
		}
	}
	return nil
}

// bookClose decides which protective order filled, records it and appends
// the trade outcome.
func (r *Reconciler) bookClose(
	ctx context.Context,
	sub *model.Subscription,
	symbol string,
	gone []model.Order,
	lastPrice decimal.Decimal,
) {
	filled := closestToLast(gone, lastPrice)
	for i := range gone {
		if gone[i].ID == filled.ID {
			r.markGone(ctx, &gone[i], model.OrderStatusFilled, "")
		} else {
			r.markGone(ctx, &gone[i], model.OrderStatusCancelled, "sibling filled, pair cancelled")
		}
	}

	entry, err := r.orders.LastFilledEntry(ctx, sub.ID, symbol)
	if err != nil || entry == nil || entry.Price == nil || filled.Price == nil {
		logger.WithFields(logger.Fields{
			"subscription": sub.ID,
			"symbol":       symbol,
		}).Warn("RECONCILE: position closed but entry row is unusable, outcome not booked")
		return
	}

	entryPrice := decimal.NewFromFloat(*entry.Price)
	exitPrice := decimal.NewFromFloat(*filled.Price)
	qty := decimal.NewFromFloat(entry.Quantity)

	pl := exitPrice.Sub(entryPrice).Mul(qty)
	if entry.Side == model.SignalSell {
		pl = pl.Neg()
	}

	openedAt := entry.CreatedAt
	if entry.ExecutedAt != nil {
		openedAt = *entry.ExecutedAt
	}
	record := &model.TradeRecord{
		Symbol:     symbol,
		Side:       entry.Side,
		Quantity:   qty,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		RealizedPL: pl,
		IsWin:      pl.IsPositive(),
		OpenedAt:   openedAt,
		ClosedAt:   time.Now().UTC(),
	}

	outcome, err := r.store.RecordTradeOutcome(ctx, sub, record)
	if err != nil {
		logger.WithFields(logger.Fields{
			"subscription": sub.ID,
			"symbol":       symbol,
			"error":        err.Error(),
		}).Error("RECONCILE: failed to record trade outcome")
		return
	}

	logger.WithFields(logger.Fields{
		"subscription": sub.ID,
		"symbol":       symbol,
		"realized_pl":  pl.String(),
		"is_win":       record.IsWin,
	}).Info("RECONCILE: position closed, outcome recorded")

	if outcome.EnteredCooldown {
		r.events.Emit(notify.Event{
			Kind:           notify.EventCooldownEntered,
			Severity:       notify.SeverityWarn,
			SubscriptionID: sub.ID,
			Payload: map[string]any{
				"symbol":         symbol,
				"cooldown_until": outcome.CooldownUntil.Format(time.RFC3339),
				"daily_loss":     outcome.DailyLoss.String(),
			},
		})
	}
}

func (r *Reconciler) markGone(ctx context.Context, order *model.Order, status, reason string) {
	if err := r.orders.MarkStatus(ctx, order, status, reason); err != nil {
		logger.WithFields(logger.Fields{
			"order": order.ID,
			"error": err.Error(),
		}).Error("RECONCILE: failed to persist order status")
	}
}

// closestToLast picks the order whose price sits nearest the last trade.
// With one candidate this is trivially it; with both gone the venue gave no
// fill report, so proximity to the last price is the best available guess.
func closestToLast(gone []model.Order, lastPrice decimal.Decimal) model.Order {
	best := gone[0]
	bestDist := math.MaxFloat64
	last, _ := lastPrice.Float64()
	for _, o := range gone {
		if o.Price == nil {
			continue
		}
		dist := math.Abs(*o.Price - last)
		if dist < bestDist {
			bestDist = dist
			best = o
		}
	}
	return best
}

func flat(positions []connectors.Position, symbol string) bool {
	for _, p := range positions {
		if p.Symbol == symbol && !p.Size.IsZero() {
			return false
		}
	}
	return true
}
