// REST CONNECTOR FOR BITGET V2 USDT-FUTURES
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
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const bitgetProductType = "USDT-FUTURES"

// bitgetErrorKinds maps Bitget result codes to the shared taxonomy.
var bitgetErrorKinds = map[string]ErrorKind{
	"40001": KindAuth,      // ACCESS-KEY header missing
	"40002": KindAuth,      // signature header missing
	"40006": KindAuth,      // invalid signature
	"40009": KindAuth,      // signature mismatch
	"40037": KindAuth,      // api key does not exist
	"40725": KindTransient, // service returned an error, retry
	"40762": KindRejected,  // insufficient balance
	"40786": KindRejected,  // duplicate client order id
	"45110": KindRejected,  // below minimum trade amount
}

// BitgetConnector carries the productType parameter every mix-futures call
// requires and the signed passphrase header.
type BitgetConnector struct {
	apiKey     string
	apiSecret  string
	passphrase string
	http       *resty.Client
	prec       *precisionCache
}

func NewBitgetConnector(apiKey, apiSecret, passphrase, baseURL string) *BitgetConnector {
	return &BitgetConnector{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		passphrase: passphrase,
		http:       newRestClient(baseURL),
		prec:       newPrecisionCache(),
	}
}

func (c *BitgetConnector) Venue() string { return VenueBitget }

func (c *BitgetConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

func bitgetGranularity(timeframe string) string {
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

func (c *BitgetConnector) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *BitgetConnector) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("bitget: encode body: %w", err)
		}
		bodyStr = string(b)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.http.R().SetContext(ctx).
		SetHeader("ACCESS-KEY", c.apiKey).
		SetHeader("ACCESS-SIGN", c.sign(timestamp, method, requestPath, bodyStr)).
		SetHeader("ACCESS-TIMESTAMP", timestamp).
		SetHeader("ACCESS-PASSPHRASE", c.passphrase)
	if bodyStr != "" {
		req.SetBody(bodyStr).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, requestPath)
	if err != nil {
		return nil, transportError(VenueBitget, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenueBitget, resp)
	}

	var wrapper struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return nil, fmt.Errorf("bitget: decode response: %w", err)
	}
	if wrapper.Code != "00000" {
		kind, ok := bitgetErrorKinds[wrapper.Code]
		if !ok {
			kind = KindUnknown
		}
		return nil, &VenueError{
			Venue: VenueBitget,
			Kind:  kind,
			Code:  wrapper.Code,
			Msg:   wrapper.Msg,
			Raw:   string(resp.Body()),
		}
	}
	return wrapper.Data, nil
}

func (c *BitgetConnector) TestConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/api/v2/public/time", nil, nil)
	return err
}

func (c *BitgetConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	raw, err := c.do(ctx, "GET", "/api/v2/mix/account/accounts", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		MarginCoin       string `json:"marginCoin"`
		AccountEquity    string `json:"accountEquity"`
		CrossedMaxAvailable string `json:"crossedMaxAvailable"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode accounts: %w", err)
	}
	for _, a := range parsed {
		if a.MarginCoin == "USDT" {
			return &Balances{
				Currency:  "USDT",
				Equity:    parseDec(a.AccountEquity),
				Available: parseDec(a.CrossedMaxAvailable),
			}, nil
		}
	}
	return &Balances{Currency: "USDT"}, nil
}

func (c *BitgetConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	query.Set("marginCoin", "USDT")
	raw, err := c.do(ctx, "GET", "/api/v2/mix/position/all-position", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		Symbol       string `json:"symbol"`
		HoldSide     string `json:"holdSide"`
		Total        string `json:"total"`
		OpenPriceAvg string `json:"openPriceAvg"`
		MarkPrice    string `json:"markPrice"`
		Leverage     string `json:"leverage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode positions: %w", err)
	}

	want := ""
	if symbol != "" {
		want = c.NormalizeSymbol(symbol)
	}
	var out []Position
	for _, p := range parsed {
		if want != "" && p.Symbol != want {
			continue
		}
		size := parseDec(p.Total)
		if size.IsZero() {
			continue
		}
		side := SideBuy
		if p.HoldSide == "short" {
			side = SideSell
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       size,
			EntryPrice: parseDec(p.OpenPriceAvg),
			MarkPrice:  parseDec(p.MarkPrice),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (c *BitgetConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	query.Set("symbol", c.NormalizeSymbol(symbol))
	raw, err := c.do(ctx, "GET", "/api/v2/mix/market/ticker", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		Symbol string `json:"symbol"`
		LastPr string `json:"lastPr"`
		Ts     string `json:"ts"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode ticker: %w", err)
	}
	if len(parsed) == 0 {
		return nil, &VenueError{Venue: VenueBitget, Kind: KindRejected, Msg: "ticker not found: " + symbol}
	}
	ms, _ := strconv.ParseInt(parsed[0].Ts, 10, 64)
	return &Ticker{
		Symbol: parsed[0].Symbol,
		Last:   parseDec(parsed[0].LastPr),
		At:     time.UnixMilli(ms),
	}, nil
}

func (c *BitgetConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	query.Set("symbol", c.NormalizeSymbol(symbol))
	query.Set("granularity", bitgetGranularity(timeframe))
	query.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, "GET", "/api/v2/mix/market/candles", query, nil)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("bitget: decode candles: %w", err)
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
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

func (c *BitgetConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenueBitget, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *BitgetConnector) fetchPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	query.Set("symbol", symbol)
	raw, err := c.do(ctx, "GET", "/api/v2/mix/market/contracts", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed []struct {
		VolumePlace  string `json:"volumePlace"`
		PricePlace   string `json:"pricePlace"`
		PriceEndStep string `json:"priceEndStep"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode contracts: %w", err)
	}
	if len(parsed) == 0 {
		return nil, &VenueError{Venue: VenueBitget, Kind: KindRejected, Msg: "contract not found: " + symbol}
	}

	// Bitget publishes decimal places, not steps: qty step = 10^-volumePlace,
	// price step = priceEndStep * 10^-pricePlace.
	volPlace, _ := strconv.Atoi(parsed[0].VolumePlace)
	prPlace, _ := strconv.Atoi(parsed[0].PricePlace)
	endStep := parseDec(parsed[0].PriceEndStep)
	if endStep.IsZero() {
		endStep = decimal.NewFromInt(1)
	}
	p := &SymbolPrecision{
		QtyStep:        decimal.New(1, int32(-volPlace)),
		PriceStep:      endStep.Mul(decimal.New(1, int32(-prPlace))),
		QtyPrecision:   int32(volPlace),
		PricePrecision: int32(prPlace),
	}
	return p, nil
}

func (c *BitgetConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.do(ctx, "POST", "/api/v2/mix/account/set-leverage", nil, map[string]any{
		"symbol":      c.NormalizeSymbol(symbol),
		"productType": bitgetProductType,
		"marginCoin":  "USDT",
		"leverage":    strconv.Itoa(leverage),
	})
	return err
}

func (c *BitgetConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "market")
	return c.submitOrder(ctx, "/api/v2/mix/order/place-order", body)
}

func (c *BitgetConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "limit")
	body["price"] = p.Price.String()
	return c.submitOrder(ctx, "/api/v2/mix/order/place-order", body)
}

func (c *BitgetConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "market")
	body["planType"] = "normal_plan"
	body["triggerPrice"] = p.StopPrice.String()
	body["triggerType"] = "mark_price"
	return c.submitOrder(ctx, "/api/v2/mix/order/place-plan-order", body)
}

func (c *BitgetConnector) orderBody(p OrderParams, orderType string) map[string]any {
	body := map[string]any{
		"symbol":      c.NormalizeSymbol(p.Symbol),
		"productType": bitgetProductType,
		"marginMode":  "crossed",
		"marginCoin":  "USDT",
		"size":        p.Quantity.String(),
		"side":        p.Side,
		"orderType":   orderType,
	}
	if p.ReduceOnly {
		body["reduceOnly"] = "YES"
	}
	if p.ClientOrderID != "" {
		body["clientOid"] = p.ClientOrderID
	}
	return body
}

func (c *BitgetConnector) submitOrder(ctx context.Context, path string, body map[string]any) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", path, nil, body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrderID   string `json:"orderId"`
		ClientOid string `json:"clientOid"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode order ack: %w", err)
	}
	return &OrderAck{
		VenueOrderID:  parsed.OrderID,
		ClientOrderID: parsed.ClientOid,
		Status:        "submitted",
	}, nil
}

func (c *BitgetConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	_, err := c.do(ctx, "POST", "/api/v2/mix/order/cancel-order", nil, map[string]any{
		"symbol":      c.NormalizeSymbol(symbol),
		"productType": bitgetProductType,
		"orderId":     venueOrderID,
	})
	return err
}

func (c *BitgetConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{}
	query.Set("productType", bitgetProductType)
	if symbol != "" {
		query.Set("symbol", c.NormalizeSymbol(symbol))
	}
	raw, err := c.do(ctx, "GET", "/api/v2/mix/order/orders-pending", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		EntrustedList []struct {
			OrderID   string `json:"orderId"`
			ClientOid string `json:"clientOid"`
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			OrderType string `json:"orderType"`
			Size      string `json:"size"`
			Price     string `json:"price"`
			ReduceOnly string `json:"reduceOnly"`
			Status    string `json:"status"`
		} `json:"entrustedList"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bitget: decode open orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed.EntrustedList))
	for _, o := range parsed.EntrustedList {
		out = append(out, OpenOrder{
			VenueOrderID:  o.OrderID,
			ClientOrderID: o.ClientOid,
			Symbol:        o.Symbol,
			Side:          o.Side,
			OrderType:     o.OrderType,
			Quantity:      parseDec(o.Size),
			Price:         parseDec(o.Price),
			ReduceOnly:    strings.EqualFold(o.ReduceOnly, "YES"),
			Status:        o.Status,
		})
	}
	return out, nil
}

func (c *BitgetConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *BitgetConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
