package engine

import (
	"context"
	"testing"
	"time"

	"tradengine/src/connectors"
	"tradengine/src/model"
	"tradengine/src/notify"
	"tradengine/src/state"
)

// reconcileConnector scripts the venue's open order book.
type reconcileConnector struct {
	fakeConnector
	openOrders []connectors.OpenOrder
	cancelled  []string
}

func (c *reconcileConnector) OpenOrders(context.Context, string) ([]connectors.OpenOrder, error) {
	return c.openOrders, nil
}

func (c *reconcileConnector) CancelOrder(_ context.Context, _ string, venueOrderID string) error {
	c.cancelled = append(c.cancelled, venueOrderID)
	return nil
}

type reconcileOrders struct {
	open     []model.Order
	entry    *model.Order
	statuses map[uint]string
}

func (f *reconcileOrders) OpenBySubscription(context.Context, uint) ([]model.Order, error) {
	return f.open, nil
}

func (f *reconcileOrders) LastFilledEntry(context.Context, uint, string) (*model.Order, error) {
	return f.entry, nil
}

func (f *reconcileOrders) MarkStatus(_ context.Context, order *model.Order, status, _ string) error {
	if f.statuses == nil {
		f.statuses = make(map[uint]string)
	}
	f.statuses[order.ID] = status
	return nil
}

type fakeRecorder struct {
	records []*model.TradeRecord
	outcome *state.Outcome
}

func (f *fakeRecorder) RecordTradeOutcome(_ context.Context, _ *model.Subscription, record *model.TradeRecord) (*state.Outcome, error) {
	f.records = append(f.records, record)
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &state.Outcome{}, nil
}

func fptr(v float64) *float64 { return &v }

func protectivePair() (stop, target model.Order) {
	stop = model.Order{
		ID: 11, SubscriptionID: 1, Symbol: "BTCUSDT", Side: "sell",
		OrderType: connectors.OrderTypeStop, Quantity: 0.5, Price: fptr(98),
		ClientOrderID: "te-stop", VenueOrderID: "v-stop",
		Status: model.OrderStatusSubmitted, OrderDir: model.OrderDirectionStopLoss,
	}
	target = model.Order{
		ID: 12, SubscriptionID: 1, Symbol: "BTCUSDT", Side: "sell",
		OrderType: connectors.OrderTypeLimit, Quantity: 0.5, Price: fptr(104),
		ClientOrderID: "te-tp", VenueOrderID: "v-tp",
		Status: model.OrderStatusSubmitted, OrderDir: model.OrderDirectionTakeProfit,
	}
	return stop, target
}

func filledEntry() *model.Order {
	at := time.Date(2026, 8, 19, 11, 0, 0, 0, time.UTC)
	return &model.Order{
		ID: 10, SubscriptionID: 1, Symbol: "BTCUSDT", Side: model.SignalBuy,
		OrderType: connectors.OrderTypeMarket, Quantity: 0.5, Price: fptr(100),
		Status: model.OrderStatusFilled, OrderDir: model.OrderDirectionEntry,
		ExecutedAt: &at,
	}
}

func TestReconcileBooksTakeProfitClose(t *testing.T) {
	stop, target := protectivePair()
	orders := &reconcileOrders{open: []model.Order{stop, target}, entry: filledEntry()}
	recorder := &fakeRecorder{}
	events := &fakeEmitter{}

	// The take-profit is gone from the book, the stop still rests, the
	// position is flat: the target filled.
	conn := &reconcileConnector{openOrders: []connectors.OpenOrder{
		{VenueOrderID: "v-stop", ClientOrderID: "te-stop", Symbol: "BTCUSDT"},
	}}

	r := NewReconciler(orders, recorder, events)
	sub := &model.Subscription{ID: 1, Venue: "binance", Symbol: "BTCUSDT"}
	if err := r.Reconcile(context.Background(), sub, conn, nil, d("103.9")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("expected one trade record, got %d", len(recorder.records))
	}
	rec := recorder.records[0]
	if !rec.RealizedPL.Equal(d("2")) { // (104-100)*0.5
		t.Fatalf("expected realized P&L 2, got %s", rec.RealizedPL)
	}
	if !rec.IsWin {
		t.Fatal("take-profit close must book a win")
	}

	if orders.statuses[target.ID] != model.OrderStatusFilled {
		t.Fatalf("target must be marked filled: %v", orders.statuses)
	}
	if len(conn.cancelled) != 1 || conn.cancelled[0] != "v-stop" {
		t.Fatalf("surviving stop must be cancelled, got %v", conn.cancelled)
	}
	if orders.statuses[stop.ID] != model.OrderStatusCancelled {
		t.Fatalf("stop must be marked cancelled: %v", orders.statuses)
	}
}

func TestReconcileBooksStopLossAndEmitsCooldown(t *testing.T) {
	stop, target := protectivePair()
	orders := &reconcileOrders{open: []model.Order{stop, target}, entry: filledEntry()}
	until := time.Date(2026, 8, 19, 14, 0, 0, 0, time.UTC)
	recorder := &fakeRecorder{outcome: &state.Outcome{
		EnteredCooldown: true,
		CooldownUntil:   until,
		DailyLoss:       d("1"),
	}}
	events := &fakeEmitter{}

	// Both protective orders are gone and the book is flat; the last price
	// sits at the stop, so the stop is booked as the fill.
	conn := &reconcileConnector{}

	r := NewReconciler(orders, recorder, events)
	sub := &model.Subscription{ID: 1, Venue: "binance", Symbol: "BTCUSDT"}
	if err := r.Reconcile(context.Background(), sub, conn, nil, d("98.2")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(recorder.records) != 1 {
		t.Fatalf("expected one trade record, got %d", len(recorder.records))
	}
	rec := recorder.records[0]
	if !rec.RealizedPL.Equal(d("-1")) { // (98-100)*0.5
		t.Fatalf("expected realized P&L -1, got %s", rec.RealizedPL)
	}
	if rec.IsWin {
		t.Fatal("stop close must book a loss")
	}

	var sawCooldown bool
	for _, e := range events.events {
		if e.Kind == notify.EventCooldownEntered {
			sawCooldown = true
		}
	}
	if !sawCooldown {
		t.Fatal("expected cooldown_entered event")
	}
}

func TestReconcileLeavesRestingOrdersAlone(t *testing.T) {
	stop, target := protectivePair()
	orders := &reconcileOrders{open: []model.Order{stop, target}, entry: filledEntry()}
	recorder := &fakeRecorder{}

	// Both orders still rest on the venue.
	conn := &reconcileConnector{openOrders: []connectors.OpenOrder{
		{VenueOrderID: "v-stop", ClientOrderID: "te-stop", Symbol: "BTCUSDT"},
		{VenueOrderID: "v-tp", ClientOrderID: "te-tp", Symbol: "BTCUSDT"},
	}}

	r := NewReconciler(orders, recorder, &fakeEmitter{})
	sub := &model.Subscription{ID: 1, Venue: "binance", Symbol: "BTCUSDT"}
	if err := r.Reconcile(context.Background(), sub, conn, []connectors.Position{
		{Symbol: "BTCUSDT", Side: "buy", Size: d("0.5"), EntryPrice: d("100")},
	}, d("101")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(recorder.records) != 0 {
		t.Fatal("nothing closed, nothing to book")
	}
	if len(orders.statuses) != 0 {
		t.Fatalf("no status changes expected, got %v", orders.statuses)
	}
}

func TestReconcileCancelledOrderWithOpenPosition(t *testing.T) {
	stop, target := protectivePair()
	orders := &reconcileOrders{open: []model.Order{stop, target}, entry: filledEntry()}
	recorder := &fakeRecorder{}

	// The stop vanished but the position is still open: operator or venue
	// cancelled it. No outcome is booked.
	conn := &reconcileConnector{openOrders: []connectors.OpenOrder{
		{VenueOrderID: "v-tp", ClientOrderID: "te-tp", Symbol: "BTCUSDT"},
	}}

	r := NewReconciler(orders, recorder, &fakeEmitter{})
	sub := &model.Subscription{ID: 1, Venue: "binance", Symbol: "BTCUSDT"}
	if err := r.Reconcile(context.Background(), sub, conn, []connectors.Position{
		{Symbol: "BTCUSDT", Side: "buy", Size: d("0.5"), EntryPrice: d("100")},
	}, d("99")); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if len(recorder.records) != 0 {
		t.Fatal("open position must not book an outcome")
	}
	if orders.statuses[stop.ID] != model.OrderStatusCancelled {
		t.Fatalf("vanished stop must be marked cancelled: %v", orders.statuses)
	}
	if _, touched := orders.statuses[target.ID]; touched {
		t.Fatal("resting target must be untouched")
	}
}
