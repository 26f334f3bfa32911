// REST CONNECTOR FOR BINANCE USDT-M FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// binanceErrorKinds maps Binance API error codes to the shared taxonomy.
var binanceErrorKinds = map[int]ErrorKind{
	-1002: KindAuth,      // unauthorized
	-1022: KindAuth,      // invalid signature
	-2014: KindAuth,      // bad API key format
	-2015: KindAuth,      // invalid key, IP or permission
	-1003: KindTransient, // too many requests
	-1007: KindTransient, // timeout waiting for backend
	-1015: KindTransient, // too many orders (rate)
	-1013: KindRejected,  // filter failure (lot size, price filter)
	-1111: KindRejected,  // precision over maximum
	-2010: KindRejected,  // new order rejected
	-2019: KindRejected,  // margin insufficient
	-2021: KindRejected,  // order would immediately trigger
	-4164: KindRejected,  // notional below minimum
}

type BinanceConnector struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	prec      *precisionCache
}

func NewBinanceConnector(apiKey, apiSecret, baseURL string) *BinanceConnector {
	return &BinanceConnector{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      newRestClient(baseURL),
		prec:      newPrecisionCache(),
	}
}

func (c *BinanceConnector) Venue() string { return VenueBinance }

// NormalizeSymbol maps free-form input like "btc/usd" to Binance's
// concatenated USDT-margined form "BTCUSDT".
func (c *BinanceConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

func (c *BinanceConnector) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceConnector) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + c.sign(query)
	}

	req := c.http.R().SetContext(ctx).SetHeader("X-MBX-APIKEY", c.apiKey)
	if query != "" {
		req.SetQueryString(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, transportError(VenueBinance, err)
	}
	if resp.StatusCode() != 200 {
		return nil, c.apiError(resp)
	}
	return resp.Body(), nil
}

func (c *BinanceConnector) apiError(resp *resty.Response) *VenueError {
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Code != 0 {
		kind, ok := binanceErrorKinds[body.Code]
		if !ok {
			kind = httpKind(resp.StatusCode())
		}
		if kind == KindUnknown || kind == "" {
			kind = KindUnknown
		}
		return &VenueError{
			Venue: VenueBinance,
			Kind:  kind,
			Code:  strconv.Itoa(body.Code),
			Msg:   body.Msg,
			Raw:   string(resp.Body()),
		}
	}
	return httpError(VenueBinance, resp)
}

func (c *BinanceConnector) TestConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/fapi/v1/ping", nil, false)
	return err
}

func (c *BinanceConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	raw, err := c.do(ctx, "GET", "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		TotalMarginBalance string `json:"totalMarginBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode account: %w", err)
	}
	return &Balances{
		Currency:  "USDT",
		Equity:    parseDec(parsed.TotalMarginBalance),
		Available: parseDec(parsed.AvailableBalance),
	}, nil
}

func (c *BinanceConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
		Leverage    string `json:"leverage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode positions: %w", err)
	}

	var out []Position
	for _, p := range parsed {
		amt := parseDec(p.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := SideBuy
		if amt.IsNegative() {
			side = SideSell
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       amt.Abs(),
			EntryPrice: parseDec(p.EntryPrice),
			MarkPrice:  parseDec(p.MarkPrice),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (c *BinanceConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", c.NormalizeSymbol(symbol))
	raw, err := c.do(ctx, "GET", "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Time   int64  `json:"time"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode ticker: %w", err)
	}
	return &Ticker{
		Symbol: parsed.Symbol,
		Last:   parseDec(parsed.Price),
		At:     time.UnixMilli(parsed.Time),
	}, nil
}

func (c *BinanceConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", c.NormalizeSymbol(symbol))
	params.Set("interval", timeframe)
	params.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, "GET", "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, _ := row[0].(float64)
		out = append(out, Kline{
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     anyDec(row[1]),
			High:     anyDec(row[2]),
			Low:      anyDec(row[3]),
			Close:    anyDec(row[4]),
			Volume:   anyDec(row[5]),
		})
	}
	return out, nil
}

func (c *BinanceConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenueBinance, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *BinanceConnector) fetchPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	raw, err := c.do(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
				TickSize   string `json:"tickSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode exchangeInfo: %w", err)
	}

	for _, s := range parsed.Symbols {
		if s.Symbol != symbol {
			continue
		}
		p := &SymbolPrecision{}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				p.QtyStep = parseDec(f.StepSize)
			case "PRICE_FILTER":
				p.PriceStep = parseDec(f.TickSize)
			}
		}
		p.QtyPrecision = stepPrecision(p.QtyStep)
		p.PricePrecision = stepPrecision(p.PriceStep)
		return p, nil
	}
	return nil, &VenueError{Venue: VenueBinance, Kind: KindRejected, Msg: "symbol not found: " + symbol}
}

func (c *BinanceConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", c.NormalizeSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.do(ctx, "POST", "/fapi/v1/leverage", params, true)
	return err
}

func (c *BinanceConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	params := c.orderParams(p)
	params.Set("type", "MARKET")
	// No price field on market orders. Binance (and others) reject priceless
	// order types that carry a stray price with misleading bound errors.
	return c.submitOrder(ctx, params)
}

func (c *BinanceConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	params := c.orderParams(p)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", p.Price.String())
	return c.submitOrder(ctx, params)
}

func (c *BinanceConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	params := c.orderParams(p)
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", p.StopPrice.String())
	return c.submitOrder(ctx, params)
}

func (c *BinanceConnector) orderParams(p OrderParams) url.Values {
	params := url.Values{}
	params.Set("symbol", c.NormalizeSymbol(p.Symbol))
	params.Set("side", strings.ToUpper(p.Side))
	params.Set("quantity", p.Quantity.String())
	if p.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if p.ClientOrderID != "" {
		params.Set("newClientOrderId", p.ClientOrderID)
	}
	return params
}

func (c *BinanceConnector) submitOrder(ctx context.Context, params url.Values) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode order ack: %w", err)
	}
	return &OrderAck{
		VenueOrderID:  strconv.FormatInt(parsed.OrderID, 10),
		ClientOrderID: parsed.ClientOrderID,
		Status:        strings.ToLower(parsed.Status),
	}, nil
}

func (c *BinanceConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	params := url.Values{}
	params.Set("symbol", c.NormalizeSymbol(symbol))
	params.Set("orderId", venueOrderID)
	_, err := c.do(ctx, "DELETE", "/fapi/v1/order", params, true)
	return err
}

func (c *BinanceConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Type          string `json:"type"`
		OrigQty       string `json:"origQty"`
		Price         string `json:"price"`
		ReduceOnly    bool   `json:"reduceOnly"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed))
	for _, o := range parsed {
		out = append(out, OpenOrder{
			VenueOrderID:  strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          strings.ToLower(o.Side),
			OrderType:     strings.ToLower(o.Type),
			Quantity:      parseDec(o.OrigQty),
			Price:         parseDec(o.Price),
			ReduceOnly:    o.ReduceOnly,
			Status:        strings.ToLower(o.Status),
		})
	}
	return out, nil
}

func (c *BinanceConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *BinanceConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
