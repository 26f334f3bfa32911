package connectors

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order sides and types in the normalized contract. Venue-native casing and
// naming is translated inside each connector.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
	OrderTypeStop   = "stop"
)

// Balances is the account snapshot used for sizing and exposure checks.
type Balances struct {
	Currency  string
	Equity    decimal.Decimal
	Available decimal.Decimal
}

// Position is an open position as reported by the venue.
type Position struct {
	Symbol     string
	Side       string // buy = long, sell = short
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	Leverage   int
}

// Ticker is the latest traded price for a symbol.
type Ticker struct {
	Symbol string
	Last   decimal.Decimal
	At     time.Time
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// SymbolPrecision is the tick/step grid for a symbol. Venues reject orders
// off this grid with non-obvious messages, so callers must round through
// the connector before submitting anything.
type SymbolPrecision struct {
	QtyStep        decimal.Decimal
	PriceStep      decimal.Decimal
	QtyPrecision   int32
	PricePrecision int32
}

// OrderParams is a normalized order request. Price is ignored for market
// orders; true market orders are sent without any price field.
type OrderParams struct {
	Symbol     string
	Side       string
	Quantity   decimal.Decimal
	Price      decimal.Decimal // limit price
	StopPrice  decimal.Decimal // trigger price for stop orders
	ReduceOnly bool

	// ClientOrderID is the caller-assigned idempotency token. Submitting
	// the same token twice must not create a second order on the venue.
	ClientOrderID string
}

// OrderAck is the venue's answer to a create call.
type OrderAck struct {
	VenueOrderID  string
	ClientOrderID string
	Status        string
}

// OpenOrder is a resting order as reported by the venue.
type OpenOrder struct {
	VenueOrderID  string
	ClientOrderID string
	Symbol        string
	Side          string
	OrderType     string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
	Status        string
}

// Connector is the single capability contract every venue implements. No
// venue-specific behavior is visible to callers after construction; symbol
// formats, passphrases, contract lots and leverage tiers are absorbed here.
type Connector interface {
	Venue() string

	TestConnectivity(ctx context.Context) error
	AccountInfo(ctx context.Context) (*Balances, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	Ticker(ctx context.Context, symbol string) (*Ticker, error)
	Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error)

	SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error)
	CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error)
	CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error)
	CancelOrder(ctx context.Context, symbol, venueOrderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)

	NormalizeSymbol(input string) string
	RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error)
	RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error)
}
