// REST CONNECTOR FOR OKX V5 USDT-MARGINED PERPETUAL SWAPS
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

// okxErrorKinds maps OKX result codes to the shared taxonomy.
var okxErrorKinds = map[string]ErrorKind{
	"50102": KindTransient, // timestamp expired
	"50011": KindTransient, // rate limit
	"50013": KindTransient, // system busy
	"50111": KindAuth,      // invalid api key
	"50113": KindAuth,      // invalid signature
	"50114": KindAuth,      // invalid authorization
	"51000": KindRejected,  // parameter error
	"51008": KindRejected,  // insufficient balance
	"51020": KindRejected,  // order size below minimum
	"51121": KindRejected,  // order quantity precision
}

// OKXConnector absorbs two OKX quirks: the mandatory passphrase header and
// the "-SWAP" instrument id format. Swap sizes are denominated in
// contracts, so quantities are converted through the contract value.
type OKXConnector struct {
	apiKey     string
	apiSecret  string
	passphrase string
	demo       bool
	http       *resty.Client
	prec       *precisionCache

	mu     sync.RWMutex
	ctVals map[string]decimal.Decimal
}

func NewOKXConnector(apiKey, apiSecret, passphrase, baseURL string, demo bool) *OKXConnector {
	return &OKXConnector{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		demo:       demo,
		http:       newRestClient(baseURL),
		prec:       newPrecisionCache(),
		ctVals:     make(map[string]decimal.Decimal),
	}
}

func (c *OKXConnector) Venue() string { return VenueOKX }

// NormalizeSymbol maps "BTCUSDT" or "btc/usdt" to "BTC-USDT-SWAP".
func (c *OKXConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	if strings.HasSuffix(s, "-SWAP") {
		return s
	}
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	base := strings.TrimSuffix(s, "USDT")
	return base + "-USDT-SWAP"
}

func okxBar(timeframe string) string {
	switch timeframe {
	case "1h":
		return "1H"
	case "4h":
		return "4H"
	case "1d":
		return "1D"
	default:
		return timeframe
	}
}

func (c *OKXConnector) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *OKXConnector) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	requestPath := path
	if query != nil && len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("okx: encode body: %w", err)
		}
		bodyStr = string(b)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	req := c.http.R().SetContext(ctx).
		SetHeader("OK-ACCESS-KEY", c.apiKey).
		SetHeader("OK-ACCESS-SIGN", c.sign(timestamp, method, requestPath, bodyStr)).
		SetHeader("OK-ACCESS-TIMESTAMP", timestamp).
		SetHeader("OK-ACCESS-PASSPHRASE", c.passphrase)
	if c.demo {
		req.SetHeader("x-simulated-trading", "1")
	}
	if bodyStr != "" {
		req.SetBody(bodyStr).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, requestPath)
	if err != nil {
		return nil, transportError(VenueOKX, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenueOKX, resp)
	}

	var wrapper struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return nil, fmt.Errorf("okx: decode response: %w", err)
	}
	if wrapper.Code != "0" {
		kind, ok := okxErrorKinds[wrapper.Code]
		if !ok {
			kind = KindUnknown
		}
		return nil, &VenueError{
			Venue: VenueOKX,
			Kind:  kind,
			Code:  wrapper.Code,
			Msg:   wrapper.Msg,
			Raw:   string(resp.Body()),
		}
	}
	return wrapper.Data, nil
}

func (c *OKXConnector) TestConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/api/v5/public/time", nil, nil)
	return err
}

func (c *OKXConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	raw, err := c.do(ctx, "GET", "/api/v5/account/balance", nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		TotalEq string `json:"totalEq"`
		Details []struct {
			Ccy     string `json:"ccy"`
			AvailEq string `json:"availEq"`
		} `json:"details"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode balance: %w", err)
	}
	if len(parsed) == 0 {
		return &Balances{Currency: "USDT"}, nil
	}
	out := &Balances{Currency: "USDT", Equity: parseDec(parsed[0].TotalEq)}
	for _, d := range parsed[0].Details {
		if d.Ccy == "USDT" {
			out.Available = parseDec(d.AvailEq)
		}
	}
	return out, nil
}

func (c *OKXConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	query := url.Values{}
	query.Set("instType", "SWAP")
	if symbol != "" {
		query.Set("instId", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/api/v5/account/positions", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		InstID   string `json:"instId"`
		PosSide  string `json:"posSide"`
		Pos      string `json:"pos"`
		AvgPx    string `json:"avgPx"`
		MarkPx   string `json:"markPx"`
		Lever    string `json:"lever"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode positions: %w", err)
	}

	var out []Position
	for _, p := range parsed {
		pos := parseDec(p.Pos)
		if pos.IsZero() {
			continue
		}
		side := SideBuy
		if pos.IsNegative() || p.PosSide == "short" {
			side = SideSell
		}
		lev, _ := strconv.Atoi(p.Lever)
		out = append(out, Position{
			Symbol:     p.InstID,
			Side:       side,
			Size:       c.contractsToQty(p.InstID, pos.Abs()),
			EntryPrice: parseDec(p.AvgPx),
			MarkPrice:  parseDec(p.MarkPx),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (c *OKXConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	query := url.Values{}
	query.Set("instId", c.NormalizeSymbol(symbol))
	raw, err := c.do(ctx, "GET", "/api/v5/market/ticker", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode ticker: %w", err)
	}
	if len(parsed) == 0 {
		return nil, &VenueError{Venue: VenueOKX, Kind: KindRejected, Msg: "ticker not found: " + symbol}
	}
	ms, _ := strconv.ParseInt(parsed[0].Ts, 10, 64)
	return &Ticker{
		Symbol: parsed[0].InstID,
		Last:   parseDec(parsed[0].Last),
		At:     time.UnixMilli(ms),
	}, nil
}

func (c *OKXConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	query := url.Values{}
	query.Set("instId", c.NormalizeSymbol(symbol))
	query.Set("bar", okxBar(timeframe))
	query.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, "GET", "/api/v5/market/candles", query, nil)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("okx: decode candles: %w", err)
	}

	// Newest first; flip to chronological order.
	out := make([]Kline, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, Kline{
			OpenTime: time.UnixMilli(ms),
			Open:     parseDec(row[1]),
			High:     parseDec(row[2]),
			Low:      parseDec(row[3]),
			Close:    parseDec(row[4]),
			Volume:   parseDec(row[5]),
		})
	}
	return out, nil
}

func (c *OKXConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenueOKX, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *OKXConnector) fetchPrecision(ctx context.Context, instID string) (*SymbolPrecision, error) {
	query := url.Values{}
	query.Set("instType", "SWAP")
	query.Set("instId", instID)
	raw, err := c.do(ctx, "GET", "/api/v5/public/instruments", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		LotSz  string `json:"lotSz"`
		TickSz string `json:"tickSz"`
		CtVal  string `json:"ctVal"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode instruments: %w", err)
	}
	if len(parsed) == 0 {
		return nil, &VenueError{Venue: VenueOKX, Kind: KindRejected, Msg: "instrument not found: " + instID}
	}

	ctVal := parseDec(parsed[0].CtVal)
	if ctVal.IsZero() {
		ctVal = decimal.NewFromInt(1)
	}
	c.mu.Lock()
	c.ctVals[instID] = ctVal
	c.mu.Unlock()

	// The caller-visible quantity grid is contract value times lot size, so
	// a rounded quantity always maps to a whole number of contracts.
	p := &SymbolPrecision{
		QtyStep:   ctVal.Mul(parseDec(parsed[0].LotSz)),
		PriceStep: parseDec(parsed[0].TickSz),
	}
	p.QtyPrecision = stepPrecision(p.QtyStep)
	p.PricePrecision = stepPrecision(p.PriceStep)
	return p, nil
}

func (c *OKXConnector) ctVal(instID string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.ctVals[instID]; ok && !v.IsZero() {
		return v
	}
	return decimal.NewFromInt(1)
}

func (c *OKXConnector) qtyToContracts(instID string, qty decimal.Decimal) string {
	return qty.Div(c.ctVal(instID)).Floor().String()
}

func (c *OKXConnector) contractsToQty(instID string, contracts decimal.Decimal) decimal.Decimal {
	return contracts.Mul(c.ctVal(instID))
}

func (c *OKXConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.do(ctx, "POST", "/api/v5/account/set-leverage", nil, map[string]any{
		"instId":  c.NormalizeSymbol(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	})
	return err
}

func (c *OKXConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	instID := c.NormalizeSymbol(p.Symbol)
	body := map[string]any{
		"instId":  instID,
		"tdMode":  "cross",
		"side":    p.Side,
		"ordType": "market",
		"sz":      c.qtyToContracts(instID, p.Quantity),
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.ClientOrderID != "" {
		body["clOrdId"] = okxClientID(p.ClientOrderID)
	}
	return c.submitOrder(ctx, "/api/v5/trade/order", body)
}

func (c *OKXConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	instID := c.NormalizeSymbol(p.Symbol)
	body := map[string]any{
		"instId":  instID,
		"tdMode":  "cross",
		"side":    p.Side,
		"ordType": "limit",
		"px":      p.Price.String(),
		"sz":      c.qtyToContracts(instID, p.Quantity),
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.ClientOrderID != "" {
		body["clOrdId"] = okxClientID(p.ClientOrderID)
	}
	return c.submitOrder(ctx, "/api/v5/trade/order", body)
}

func (c *OKXConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	instID := c.NormalizeSymbol(p.Symbol)
	body := map[string]any{
		"instId":    instID,
		"tdMode":    "cross",
		"side":      p.Side,
		"ordType":   "trigger",
		"triggerPx": p.StopPrice.String(),
		"orderPx":   "-1", // market execution once triggered
		"sz":        c.qtyToContracts(instID, p.Quantity),
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.ClientOrderID != "" {
		body["algoClOrdId"] = okxClientID(p.ClientOrderID)
	}
	return c.submitOrder(ctx, "/api/v5/trade/order-algo", body)
}

// okxClientID strips characters OKX does not accept in client order ids.
func okxClientID(id string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(id)
}

func (c *OKXConnector) submitOrder(ctx context.Context, path string, body map[string]any) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", path, nil, body)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		OrdID   string `json:"ordId"`
		AlgoID  string `json:"algoId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode order ack: %w", err)
	}
	if len(parsed) == 0 {
		return nil, &VenueError{Venue: VenueOKX, Kind: KindUnknown, Msg: "empty order ack", Raw: string(raw)}
	}
	first := parsed[0]
	if first.SCode != "" && first.SCode != "0" {
		kind, ok := okxErrorKinds[first.SCode]
		if !ok {
			kind = KindRejected
		}
		return nil, &VenueError{Venue: VenueOKX, Kind: kind, Code: first.SCode, Msg: first.SMsg, Raw: string(raw)}
	}
	id := first.OrdID
	if id == "" {
		id = first.AlgoID
	}
	return &OrderAck{VenueOrderID: id, ClientOrderID: first.ClOrdID, Status: "submitted"}, nil
}

func (c *OKXConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	_, err := c.do(ctx, "POST", "/api/v5/trade/cancel-order", nil, map[string]any{
		"instId": c.NormalizeSymbol(symbol),
		"ordId":  venueOrderID,
	})
	return err
}

func (c *OKXConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{}
	query.Set("instType", "SWAP")
	if symbol != "" {
		query.Set("instId", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/api/v5/trade/orders-pending", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		OrdID      string `json:"ordId"`
		ClOrdID    string `json:"clOrdId"`
		InstID     string `json:"instId"`
		Side       string `json:"side"`
		OrdType    string `json:"ordType"`
		Sz         string `json:"sz"`
		Px         string `json:"px"`
		ReduceOnly string `json:"reduceOnly"`
		State      string `json:"state"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("okx: decode open orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed))
	for _, o := range parsed {
		out = append(out, OpenOrder{
			VenueOrderID:  o.OrdID,
			ClientOrderID: o.ClOrdID,
			Symbol:        o.InstID,
			Side:          o.Side,
			OrderType:     o.OrdType,
			Quantity:      c.contractsToQty(o.InstID, parseDec(o.Sz)),
			Price:         parseDec(o.Px),
			ReduceOnly:    o.ReduceOnly == "true",
			Status:        o.State,
		})
	}
	return out, nil
}

func (c *OKXConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *OKXConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
