package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradengine/src/connectors"
	"tradengine/src/model"
	"tradengine/src/notify"
	"tradengine/src/risk"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeConnector scripts venue behavior per order type.
type fakeConnector struct {
	marketErrs      []error // consumed per attempt; nil means success
	stopErr         error
	limitErr        error
	marketAckStatus string // status echoed on the entry ack

	marketTokens []string
	stopParams   *connectors.OrderParams
	limitParams  *connectors.OrderParams
	leverageSet  int
}

func (f *fakeConnector) Venue() string                            { return "binance" }
func (f *fakeConnector) TestConnectivity(context.Context) error   { return nil }
func (f *fakeConnector) NormalizeSymbol(input string) string      { return input }
func (f *fakeConnector) AccountInfo(context.Context) (*connectors.Balances, error) {
	return &connectors.Balances{Equity: d("10000")}, nil
}
func (f *fakeConnector) Positions(context.Context, string) ([]connectors.Position, error) {
	return nil, nil
}
func (f *fakeConnector) Ticker(context.Context, string) (*connectors.Ticker, error) {
	return &connectors.Ticker{Last: d("100")}, nil
}
func (f *fakeConnector) Klines(context.Context, string, string, int) ([]connectors.Kline, error) {
	return nil, nil
}
func (f *fakeConnector) SymbolPrecision(context.Context, string) (*connectors.SymbolPrecision, error) {
	return &connectors.SymbolPrecision{QtyStep: d("0.001"), PriceStep: d("0.01")}, nil
}
func (f *fakeConnector) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverageSet = leverage
	return nil
}
func (f *fakeConnector) CreateMarketOrder(_ context.Context, p connectors.OrderParams) (*connectors.OrderAck, error) {
	f.marketTokens = append(f.marketTokens, p.ClientOrderID)
	if len(f.marketErrs) > 0 {
		err := f.marketErrs[0]
		f.marketErrs = f.marketErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &connectors.OrderAck{VenueOrderID: "entry-1", ClientOrderID: p.ClientOrderID, Status: f.marketAckStatus}, nil
}
func (f *fakeConnector) CreateStopOrder(_ context.Context, p connectors.OrderParams) (*connectors.OrderAck, error) {
	f.stopParams = &p
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &connectors.OrderAck{VenueOrderID: "stop-1", ClientOrderID: p.ClientOrderID}, nil
}
func (f *fakeConnector) CreateLimitOrder(_ context.Context, p connectors.OrderParams) (*connectors.OrderAck, error) {
	f.limitParams = &p
	if f.limitErr != nil {
		return nil, f.limitErr
	}
	return &connectors.OrderAck{VenueOrderID: "limit-1", ClientOrderID: p.ClientOrderID}, nil
}
func (f *fakeConnector) CancelOrder(context.Context, string, string) error { return nil }
func (f *fakeConnector) OpenOrders(context.Context, string) ([]connectors.OpenOrder, error) {
	return nil, nil
}
func (f *fakeConnector) RoundQuantity(_ context.Context, _ string, qty decimal.Decimal) (decimal.Decimal, error) {
	return qty.Div(d("0.001")).Floor().Mul(d("0.001")), nil
}
func (f *fakeConnector) RoundPrice(_ context.Context, _ string, price decimal.Decimal) (decimal.Decimal, error) {
	return price.Div(d("0.01")).Floor().Mul(d("0.01")), nil
}

type fakeOrders struct {
	mu       sync.Mutex
	created  []*model.Order
	statuses map[string]string // client order id -> final status
	nextID   uint
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{statuses: make(map[string]string)}
}

func (f *fakeOrders) Create(_ context.Context, order *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order.ID = f.nextID
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrders) MarkStatus(_ context.Context, order *model.Order, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[order.ClientOrderID] = status
	return nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeEmitter) Emit(event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEmitter) highSeverity() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, e := range f.events {
		if e.Severity == notify.SeverityHigh {
			out = append(out, e)
		}
	}
	return out
}

func approvedDecision() risk.Decision {
	return risk.Decision{
		Outcome: risk.OutcomeApproved,
		Signal: model.Signal{
			Action:     model.SignalBuy,
			Symbol:     "BTCUSDT",
			Entry:      d("100"),
			StopLoss:   d("98"),
			TakeProfit: d("104"),
		},
		Quantity: d("0.5"),
		Leverage: 5,
	}
}

func newTestExecutor(orders Orders, events Emitter) *Executor {
	e := NewExecutor(orders, events)
	e.config.RetryBaseDelay = time.Millisecond
	e.config.RetryMaxDelay = 2 * time.Millisecond
	return e
}

func TestExecutePlacesEntryAndProtectiveOrders(t *testing.T) {
	conn := &fakeConnector{}
	orders := newFakeOrders()
	events := &fakeEmitter{}
	executor := newTestExecutor(orders, events)
	sub := &model.Subscription{ID: 1, Venue: "binance"}

	result, err := executor.Execute(context.Background(), sub, conn, approvedDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if conn.leverageSet != 5 {
		t.Fatalf("expected leverage 5, got %d", conn.leverageSet)
	}
	if result.Entry == nil || result.StopLoss == nil || result.TakeProfit == nil {
		t.Fatalf("expected all three orders, got %+v", result)
	}
	if result.Unprotected {
		t.Fatal("position must not be flagged unprotected")
	}

	// Protective orders close a long, so they sell reduce-only.
	if conn.stopParams.Side != connectors.SideSell || !conn.stopParams.ReduceOnly {
		t.Fatalf("bad stop params %+v", conn.stopParams)
	}
	if conn.limitParams.Side != connectors.SideSell || !conn.limitParams.ReduceOnly {
		t.Fatalf("bad limit params %+v", conn.limitParams)
	}
	if !conn.stopParams.StopPrice.Equal(d("98")) {
		t.Fatalf("expected stop trigger 98, got %s", conn.stopParams.StopPrice)
	}
	if !conn.limitParams.Price.Equal(d("104")) {
		t.Fatalf("expected target 104, got %s", conn.limitParams.Price)
	}

	if orders.statuses[result.Entry.ClientOrderID] != model.OrderStatusFilled {
		t.Fatalf("entry not marked filled: %v", orders.statuses)
	}

	// Each order carries its own idempotency token.
	tokens := map[string]bool{
		result.Entry.ClientOrderID:      true,
		result.StopLoss.ClientOrderID:   true,
		result.TakeProfit.ClientOrderID: true,
	}
	if len(tokens) != 3 {
		t.Fatal("client order ids must be distinct per order")
	}
}

func TestExecuteUnmatchedAckStaysSubmitted(t *testing.T) {
	// An ack of "new" means the venue accepted but has not matched yet;
	// the row must not claim a fill the venue never confirmed.
	conn := &fakeConnector{marketAckStatus: "new"}
	orders := newFakeOrders()
	executor := newTestExecutor(orders, &fakeEmitter{})
	sub := &model.Subscription{ID: 1, Venue: "binance"}

	result, err := executor.Execute(context.Background(), sub, conn, approvedDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if orders.statuses[result.Entry.ClientOrderID] != model.OrderStatusSubmitted {
		t.Fatalf("expected entry to stay submitted, got %v", orders.statuses)
	}

	conn = &fakeConnector{marketAckStatus: "FILLED"}
	orders = newFakeOrders()
	executor = newTestExecutor(orders, &fakeEmitter{})
	result, err = executor.Execute(context.Background(), sub, conn, approvedDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if orders.statuses[result.Entry.ClientOrderID] != model.OrderStatusFilled {
		t.Fatalf("expected confirmed fill, got %v", orders.statuses)
	}
}

func TestExecuteRetriesTransientWithSameToken(t *testing.T) {
	transient := &connectors.VenueError{Venue: "binance", Kind: connectors.KindTransient, Msg: "rate limit"}
	conn := &fakeConnector{marketErrs: []error{transient, transient, nil}}
	orders := newFakeOrders()
	executor := newTestExecutor(orders, &fakeEmitter{})
	sub := &model.Subscription{ID: 1, Venue: "binance"}

	result, err := executor.Execute(context.Background(), sub, conn, approvedDecision())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(conn.marketTokens) != 3 {
		t.Fatalf("expected 3 entry attempts, got %d", len(conn.marketTokens))
	}
	if conn.marketTokens[0] != conn.marketTokens[1] || conn.marketTokens[1] != conn.marketTokens[2] {
		t.Fatalf("retries must reuse the idempotency token: %v", conn.marketTokens)
	}
	if result.Entry.ClientOrderID != conn.marketTokens[0] {
		t.Fatal("persisted order must carry the submitted token")
	}
}

func TestExecuteRejectedEntryStopsCycle(t *testing.T) {
	rejection := &connectors.VenueError{Venue: "binance", Kind: connectors.KindRejected, Code: "-4164", Msg: "notional below minimum"}
	conn := &fakeConnector{marketErrs: []error{rejection, rejection, rejection}}
	orders := newFakeOrders()
	events := &fakeEmitter{}
	executor := newTestExecutor(orders, events)
	sub := &model.Subscription{ID: 1, Venue: "binance"}

	_, err := executor.Execute(context.Background(), sub, conn, approvedDecision())
	if !connectors.IsRejected(err) {
		t.Fatalf("expected rejection to surface, got %v", err)
	}

	// One attempt only: repeating unchanged parameters is pointless.
	if len(conn.marketTokens) != 1 {
		t.Fatalf("rejected entry must not be retried, got %d attempts", len(conn.marketTokens))
	}
	if conn.stopParams != nil || conn.limitParams != nil {
		t.Fatal("no protective orders after a failed entry")
	}
	if orders.statuses[orders.created[0].ClientOrderID] != model.OrderStatusRejected {
		t.Fatalf("entry must be marked rejected: %v", orders.statuses)
	}
}

func TestExecuteAlertsOnUnprotectedPosition(t *testing.T) {
	conn := &fakeConnector{
		stopErr: &connectors.VenueError{Venue: "binance", Kind: connectors.KindRejected, Msg: "bad trigger"},
	}
	orders := newFakeOrders()
	events := &fakeEmitter{}
	executor := newTestExecutor(orders, events)
	sub := &model.Subscription{ID: 1, Venue: "binance"}

	result, err := executor.Execute(context.Background(), sub, conn, approvedDecision())
	if err != nil {
		t.Fatalf("entry succeeded, execute must not fail outright: %v", err)
	}
	if !result.Unprotected {
		t.Fatal("expected unprotected flag")
	}
	if len(events.highSeverity()) == 0 {
		t.Fatal("expected a high-severity alert for the unprotected position")
	}
	// The take-profit is still attempted even when the stop failed.
	if conn.limitParams == nil {
		t.Fatal("take-profit must still be submitted")
	}
}
