// REST CONNECTOR FOR KUCOIN FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// kucoinErrorKinds maps KuCoin result codes to the shared taxonomy.
var kucoinErrorKinds = map[string]ErrorKind{
	"400003": KindAuth,      // KC-API-KEY not exists
	"400004": KindAuth,      // passphrase error
	"400005": KindAuth,      // signature error
	"400007": KindAuth,      // access denied
	"429000": KindTransient, // too many requests
	"200002": KindTransient, // too frequent, retry later
	"300000": KindRejected,  // order validation failed
	"300003": KindRejected,  // balance insufficient
	"300012": KindRejected,  // price or size precision
}

// KucoinConnector absorbs the two big KuCoin futures quirks: quantities are
// integer contract lots (base qty divided by the contract multiplier) and
// every signed call carries an HMAC-signed passphrase. Leverage is a
// per-order field on KuCoin, so SetLeverage records the value and the order
// methods send it.
type KucoinConnector struct {
	apiKey     string
	apiSecret  string
	passphrase string
	http       *resty.Client
	prec       *precisionCache

	mu          sync.RWMutex
	multipliers map[string]decimal.Decimal
	leverage    map[string]int
}

func NewKucoinConnector(apiKey, apiSecret, passphrase, baseURL string) *KucoinConnector {
	return &KucoinConnector{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		passphrase:  passphrase,
		http:        newRestClient(baseURL),
		prec:        newPrecisionCache(),
		multipliers: make(map[string]decimal.Decimal),
		leverage:    make(map[string]int),
	}
}

func (c *KucoinConnector) Venue() string { return VenueKucoin }

// NormalizeSymbol maps "BTCUSDT" to KuCoin futures' "XBTUSDTM" form.
func (c *KucoinConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	if strings.HasSuffix(s, "USDTM") {
		return s
	}
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	if strings.HasPrefix(s, "BTC") {
		s = "XBT" + strings.TrimPrefix(s, "BTC")
	}
	return s + "M"
}

// signPassphrase is base64(HMAC-SHA256(secret, passphrase)), key version 2.
func (c *KucoinConnector) signPassphrase() string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(c.passphrase))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *KucoinConnector) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *KucoinConnector) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("kucoin: encode body: %w", err)
		}
		bodyStr = string(b)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.http.R().SetContext(ctx).
		SetHeader("KC-API-KEY", c.apiKey).
		SetHeader("KC-API-SIGN", c.sign(timestamp, method, requestPath, bodyStr)).
		SetHeader("KC-API-TIMESTAMP", timestamp).
		SetHeader("KC-API-PASSPHRASE", c.signPassphrase()).
		SetHeader("KC-API-KEY-VERSION", "2")
	if bodyStr != "" {
		req.SetBody(bodyStr).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, requestPath)
	if err != nil {
		return nil, transportError(VenueKucoin, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenueKucoin, resp)
	}

	var wrapper struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return nil, fmt.Errorf("kucoin: decode response: %w", err)
	}
	if wrapper.Code != "200000" {
		kind, ok := kucoinErrorKinds[wrapper.Code]
		if !ok {
			kind = KindUnknown
		}
		return nil, &VenueError{
			Venue: VenueKucoin,
			Kind:  kind,
			Code:  wrapper.Code,
			Msg:   wrapper.Msg,
			Raw:   string(resp.Body()),
		}
	}
	return wrapper.Data, nil
}

func (c *KucoinConnector) TestConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/api/v1/timestamp", nil, nil)
	return err
}

func (c *KucoinConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	query := url.Values{}
	query.Set("currency", "USDT")
	raw, err := c.do(ctx, "GET", "/api/v1/account-overview", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		AccountEquity    float64 `json:"accountEquity"`
		AvailableBalance float64 `json:"availableBalance"`
		Currency         string  `json:"currency"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode account overview: %w", err)
	}
	return &Balances{
		Currency:  parsed.Currency,
		Equity:    decimal.NewFromFloat(parsed.AccountEquity),
		Available: decimal.NewFromFloat(parsed.AvailableBalance),
	}, nil
}

func (c *KucoinConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	var raw json.RawMessage
	var err error
	if symbol != "" {
		query := url.Values{}
		query.Set("symbol", c.NormalizeSymbol(symbol))
		raw, err = c.do(ctx, "GET", "/api/v1/position", query, nil)
		if err != nil {
			return nil, err
		}
		raw = json.RawMessage("[" + string(raw) + "]")
	} else {
		raw, err = c.do(ctx, "GET", "/api/v1/positions", nil, nil)
		if err != nil {
			return nil, err
		}
	}

	var parsed []struct {
		Symbol        string  `json:"symbol"`
		CurrentQty    float64 `json:"currentQty"`
		AvgEntryPrice float64 `json:"avgEntryPrice"`
		MarkPrice     float64 `json:"markPrice"`
		RealLeverage  float64 `json:"realLeverage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode positions: %w", err)
	}

	var out []Position
	for _, p := range parsed {
		if p.CurrentQty == 0 {
			continue
		}
		side := SideBuy
		qty := decimal.NewFromFloat(p.CurrentQty)
		if qty.IsNegative() {
			side = SideSell
		}
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       c.lotsToQty(p.Symbol, qty.Abs()),
			EntryPrice: decimal.NewFromFloat(p.AvgEntryPrice),
			MarkPrice:  decimal.NewFromFloat(p.MarkPrice),
			Leverage:   int(p.RealLeverage),
		})
	}
	return out, nil
}

func (c *KucoinConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	query := url.Values{}
	query.Set("symbol", c.NormalizeSymbol(symbol))
	raw, err := c.do(ctx, "GET", "/api/v1/ticker", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
		Ts     int64  `json:"ts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode ticker: %w", err)
	}
	return &Ticker{
		Symbol: parsed.Symbol,
		Last:   parseDec(parsed.Price),
		At:     time.Unix(0, parsed.Ts),
	}, nil
}

// kucoinGranularity is the timeframe in whole minutes.
func kucoinGranularity(timeframe string) string {
	switch timeframe {
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "1440"
	default:
		return strings.TrimSuffix(timeframe, "m")
	}
}

func (c *KucoinConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	granularity := kucoinGranularity(timeframe)
	minutes, _ := strconv.Atoi(granularity)
	from := time.Now().Add(-time.Duration(limit*minutes) * time.Minute)

	query := url.Values{}
	query.Set("symbol", c.NormalizeSymbol(symbol))
	query.Set("granularity", granularity)
	query.Set("from", strconv.FormatInt(from.UnixMilli(), 10))
	raw, err := c.do(ctx, "GET", "/api/v1/kline/query", query, nil)
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("kucoin: decode klines: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, Kline{
			OpenTime: time.UnixMilli(int64(anyFloat(row[0]))),
			Open:     anyDec(row[1]),
			High:     anyDec(row[2]),
			Low:      anyDec(row[3]),
			Close:    anyDec(row[4]),
			Volume:   anyDec(row[5]),
		})
	}
	return out, nil
}

func (c *KucoinConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenueKucoin, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *KucoinConnector) fetchPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	raw, err := c.do(ctx, "GET", "/api/v1/contracts/"+symbol, nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Multiplier float64 `json:"multiplier"`
		LotSize    float64 `json:"lotSize"`
		TickSize   float64 `json:"tickSize"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode contract: %w", err)
	}

	multiplier := decimal.NewFromFloat(parsed.Multiplier)
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	lotSize := decimal.NewFromFloat(parsed.LotSize)
	if lotSize.IsZero() {
		lotSize = decimal.NewFromInt(1)
	}

	c.mu.Lock()
	c.multipliers[symbol] = multiplier
	c.mu.Unlock()

	// Base-quantity grid: one lot is multiplier base units, so the visible
	// quantity step keeps callers on whole-lot boundaries.
	p := &SymbolPrecision{
		QtyStep:   multiplier.Mul(lotSize),
		PriceStep: decimal.NewFromFloat(parsed.TickSize),
	}
	p.QtyPrecision = stepPrecision(p.QtyStep)
	p.PricePrecision = stepPrecision(p.PriceStep)
	return p, nil
}

func (c *KucoinConnector) multiplier(symbol string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.multipliers[symbol]; ok && !m.IsZero() {
		return m
	}
	return decimal.NewFromInt(1)
}

// qtyToLots converts a base quantity to KuCoin's integer contract count.
func (c *KucoinConnector) qtyToLots(symbol string, qty decimal.Decimal) int64 {
	return qty.Div(c.multiplier(symbol)).Floor().IntPart()
}

func (c *KucoinConnector) lotsToQty(symbol string, lots decimal.Decimal) decimal.Decimal {
	return lots.Mul(c.multiplier(symbol))
}

// SetLeverage records the leverage locally; KuCoin takes leverage per order.
func (c *KucoinConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[c.NormalizeSymbol(symbol)] = leverage
	return nil
}

func (c *KucoinConnector) orderLeverage(symbol string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if lev, ok := c.leverage[symbol]; ok && lev > 0 {
		return strconv.Itoa(lev)
	}
	return "1"
}

func (c *KucoinConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "market")
	return c.submitOrder(ctx, body)
}

func (c *KucoinConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "limit")
	body["price"] = p.Price.String()
	return c.submitOrder(ctx, body)
}

func (c *KucoinConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "market")
	stop := "down"
	if p.Side == SideBuy {
		stop = "up"
	}
	body["stop"] = stop
	body["stopPrice"] = p.StopPrice.String()
	body["stopPriceType"] = "MP"
	return c.submitOrder(ctx, body)
}

func (c *KucoinConnector) orderBody(p OrderParams, orderType string) map[string]any {
	symbol := c.NormalizeSymbol(p.Symbol)
	body := map[string]any{
		"clientOid": p.ClientOrderID,
		"symbol":    symbol,
		"side":      p.Side,
		"type":      orderType,
		"leverage":  c.orderLeverage(symbol),
		"size":      c.qtyToLots(symbol, p.Quantity),
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	return body
}

func (c *KucoinConnector) submitOrder(ctx context.Context, body map[string]any) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", "/api/v1/orders", nil, body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode order ack: %w", err)
	}
	return &OrderAck{
		VenueOrderID:  parsed.OrderID,
		ClientOrderID: parsed.ClientOid,
		Status:        "submitted",
	}, nil
}

func (c *KucoinConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	_, err := c.do(ctx, "DELETE", "/api/v1/orders/"+venueOrderID, nil, nil)
	return err
}

func (c *KucoinConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{}
	query.Set("status", "active")
	if symbol != "" {
		query.Set("symbol", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/api/v1/orders", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Items []struct {
			ID         string  `json:"id"`
			ClientOid  string  `json:"clientOid"`
			Symbol     string  `json:"symbol"`
			Side       string  `json:"side"`
			Type       string  `json:"type"`
			Size       float64 `json:"size"`
			Price      string  `json:"price"`
			ReduceOnly bool    `json:"reduceOnly"`
			Status     string  `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("kucoin: decode open orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed.Items))
	for _, o := range parsed.Items {
		out = append(out, OpenOrder{
			VenueOrderID:  o.ID,
			ClientOrderID: o.ClientOid,
			Symbol:        o.Symbol,
			Side:          o.Side,
			OrderType:     o.Type,
			Quantity:      c.lotsToQty(o.Symbol, decimal.NewFromFloat(o.Size)),
			Price:         parseDec(o.Price),
			ReduceOnly:    o.ReduceOnly,
			Status:        o.Status,
		})
	}
	return out, nil
}

func (c *KucoinConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *KucoinConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
