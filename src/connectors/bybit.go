// REST CONNECTOR FOR BYBIT V5 LINEAR PERPETUALS
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

const bybitRecvWindow = "5000"

// bybitErrorKinds maps Bybit retCode values to the shared taxonomy.
var bybitErrorKinds = map[int]ErrorKind{
	10003:  KindAuth,      // invalid api key
	10004:  KindAuth,      // signature error
	10005:  KindAuth,      // permission denied
	33004:  KindAuth,      // api key expired
	10006:  KindTransient, // rate limit
	10016:  KindTransient, // service error
	10001:  KindRejected,  // request parameter error
	110003: KindRejected,  // price off bounds
	110007: KindRejected,  // insufficient balance
	110017: KindRejected,  // reduce-only rule violated
	110094: KindRejected,  // below minimum notional
}

type BybitConnector struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	prec      *precisionCache
}

func NewBybitConnector(apiKey, apiSecret, baseURL string) *BybitConnector {
	return &BybitConnector{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      newRestClient(baseURL),
		prec:      newPrecisionCache(),
	}
}

func (c *BybitConnector) Venue() string { return VenueBybit }

func (c *BybitConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

// bybitInterval translates the engine timeframe notation to Bybit's.
func bybitInterval(timeframe string) string {
	switch timeframe {
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return strings.TrimSuffix(timeframe, "m")
	}
}

// sign computes HMAC-SHA256 over timestamp+key+recvWindow+payload, where
// payload is the query string for GET and the JSON body for POST.
func (c *BybitConnector) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp + c.apiKey + bybitRecvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BybitConnector) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := ""
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("bybit: encode body: %w", err)
		}
		payload = string(bodyBytes)
	} else if query != nil {
		payload = query.Encode()
	}

	req := c.http.R().SetContext(ctx).
		SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", bybitRecvWindow).
		SetHeader("X-BAPI-SIGN", c.sign(timestamp, payload))

	if query != nil {
		req.SetQueryString(query.Encode())
	}
	if bodyBytes != nil {
		req.SetBody(bodyBytes).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, transportError(VenueBybit, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenueBybit, resp)
	}

	var wrapper struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return nil, fmt.Errorf("bybit: decode response: %w", err)
	}
	if wrapper.RetCode != 0 {
		kind, ok := bybitErrorKinds[wrapper.RetCode]
		if !ok {
			kind = KindUnknown
		}
		return nil, &VenueError{
			Venue: VenueBybit,
			Kind:  kind,
			Code:  strconv.Itoa(wrapper.RetCode),
			Msg:   wrapper.RetMsg,
			Raw:   string(resp.Body()),
		}
	}
	return wrapper.Result, nil
}

func (c *BybitConnector) TestConnectivity(ctx context.Context) error {
	_, err := c.do(ctx, "GET", "/v5/market/time", nil, nil)
	return err
}

func (c *BybitConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	query := url.Values{}
	query.Set("accountType", "UNIFIED")
	raw, err := c.do(ctx, "GET", "/v5/account/wallet-balance", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List []struct {
			TotalEquity     string `json:"totalEquity"`
			TotalMarginBal  string `json:"totalMarginBalance"`
			TotalAvailable  string `json:"totalAvailableBalance"`
			AccountCurrency string `json:"accountType"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode balance: %w", err)
	}
	if len(parsed.List) == 0 {
		return &Balances{Currency: "USDT"}, nil
	}
	return &Balances{
		Currency:  "USDT",
		Equity:    parseDec(parsed.List[0].TotalEquity),
		Available: parseDec(parsed.List[0].TotalAvailable),
	}, nil
}

func (c *BybitConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	query := url.Values{}
	query.Set("category", "linear")
	if symbol != "" {
		query.Set("symbol", c.NormalizeSymbol(symbol))
	} else {
		query.Set("settleCoin", "USDT")
	}
	raw, err := c.do(ctx, "GET", "/v5/position/list", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List []struct {
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Size     string `json:"size"`
			AvgPrice string `json:"avgPrice"`
			MarkPrice string `json:"markPrice"`
			Leverage string `json:"leverage"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode positions: %w", err)
	}

	var out []Position
	for _, p := range parsed.List {
		size := parseDec(p.Size)
		if size.IsZero() {
			continue
		}
		side := SideBuy
		if strings.EqualFold(p.Side, "Sell") {
			side = SideSell
		}
		lev, _ := strconv.Atoi(strings.SplitN(p.Leverage, ".", 2)[0])
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       size,
			EntryPrice: parseDec(p.AvgPrice),
			MarkPrice:  parseDec(p.MarkPrice),
			Leverage:   lev,
		})
	}
	return out, nil
}

func (c *BybitConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", c.NormalizeSymbol(symbol))
	raw, err := c.do(ctx, "GET", "/v5/market/tickers", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode ticker: %w", err)
	}
	if len(parsed.List) == 0 {
		return nil, &VenueError{Venue: VenueBybit, Kind: KindRejected, Msg: "ticker not found: " + symbol}
	}
	return &Ticker{
		Symbol: parsed.List[0].Symbol,
		Last:   parseDec(parsed.List[0].LastPrice),
		At:     time.Now(),
	}, nil
}

func (c *BybitConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", c.NormalizeSymbol(symbol))
	query.Set("interval", bybitInterval(timeframe))
	query.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, "GET", "/v5/market/kline", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode klines: %w", err)
	}

	// Bybit returns newest first; flip to chronological order.
	out := make([]Kline, 0, len(parsed.List))
	for i := len(parsed.List) - 1; i >= 0; i-- {
		row := parsed.List[i]
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

func (c *BybitConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenueBybit, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *BybitConnector) fetchPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", symbol)
	raw, err := c.do(ctx, "GET", "/v5/market/instruments-info", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode instruments-info: %w", err)
	}
	if len(parsed.List) == 0 {
		return nil, &VenueError{Venue: VenueBybit, Kind: KindRejected, Msg: "symbol not found: " + symbol}
	}
	p := &SymbolPrecision{
		QtyStep:   parseDec(parsed.List[0].LotSizeFilter.QtyStep),
		PriceStep: parseDec(parsed.List[0].PriceFilter.TickSize),
	}
	p.QtyPrecision = stepPrecision(p.QtyStep)
	p.PricePrecision = stepPrecision(p.PriceStep)
	return p, nil
}

func (c *BybitConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	_, err := c.do(ctx, "POST", "/v5/position/set-leverage", nil, map[string]any{
		"category":     "linear",
		"symbol":       c.NormalizeSymbol(symbol),
		"buyLeverage":  lev,
		"sellLeverage": lev,
	})
	// Bybit answers 110043 when leverage is already at the requested value.
	var ve *VenueError
	if err != nil && asVenueError(err, &ve) && ve.Code == "110043" {
		return nil
	}
	return err
}

func (c *BybitConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Market")
	return c.submitOrder(ctx, body)
}

func (c *BybitConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Limit")
	body["price"] = p.Price.String()
	return c.submitOrder(ctx, body)
}

func (c *BybitConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Market")
	body["triggerPrice"] = p.StopPrice.String()
	body["triggerDirection"] = triggerDirection(p.Side)
	return c.submitOrder(ctx, body)
}

func (c *BybitConnector) orderBody(p OrderParams, orderType string) map[string]any {
	side := "Buy"
	if p.Side == SideSell {
		side = "Sell"
	}
	body := map[string]any{
		"category":  "linear",
		"symbol":    c.NormalizeSymbol(p.Symbol),
		"side":      side,
		"orderType": orderType,
		"qty":       p.Quantity.String(),
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	if p.ClientOrderID != "" {
		body["orderLinkId"] = p.ClientOrderID
	}
	return body
}

// triggerDirection: a sell stop triggers when price falls, a buy stop when
// it rises.
func triggerDirection(side string) int {
	if side == SideSell {
		return 2
	}
	return 1
}

func (c *BybitConnector) submitOrder(ctx context.Context, body map[string]any) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", "/v5/order/create", nil, body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode order ack: %w", err)
	}
	return &OrderAck{
		VenueOrderID:  parsed.OrderID,
		ClientOrderID: parsed.OrderLinkID,
		Status:        "submitted",
	}, nil
}

func (c *BybitConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	_, err := c.do(ctx, "POST", "/v5/order/cancel", nil, map[string]any{
		"category": "linear",
		"symbol":   c.NormalizeSymbol(symbol),
		"orderId":  venueOrderID,
	})
	return err
}

func (c *BybitConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := url.Values{}
	query.Set("category", "linear")
	if symbol != "" {
		query.Set("symbol", c.NormalizeSymbol(symbol))
	} else {
		query.Set("settleCoin", "USDT")
	}
	raw, err := c.do(ctx, "GET", "/v5/order/realtime", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
			Symbol      string `json:"symbol"`
			Side        string `json:"side"`
			OrderType   string `json:"orderType"`
			Qty         string `json:"qty"`
			Price       string `json:"price"`
			ReduceOnly  bool   `json:"reduceOnly"`
			OrderStatus string `json:"orderStatus"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("bybit: decode open orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed.List))
	for _, o := range parsed.List {
		out = append(out, OpenOrder{
			VenueOrderID:  o.OrderID,
			ClientOrderID: o.OrderLinkID,
			Symbol:        o.Symbol,
			Side:          strings.ToLower(o.Side),
			OrderType:     strings.ToLower(o.OrderType),
			Quantity:      parseDec(o.Qty),
			Price:         parseDec(o.Price),
			ReduceOnly:    o.ReduceOnly,
			Status:        strings.ToLower(o.OrderStatus),
		})
	}
	return out, nil
}

func (c *BybitConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *BybitConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
