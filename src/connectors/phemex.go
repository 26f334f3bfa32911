// FULL REST API CLIENT FOR PHEMEX USDT-M FUTURES
// RESTY ONLY + INTERNAL RETRY
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
)

// phemexErrorKinds maps Phemex business codes to the shared taxonomy.
var phemexErrorKinds = map[int]ErrorKind{
	401:   KindAuth,      // invalid token
	10001: KindAuth,      // request expired
	10002: KindAuth,      // signature mismatch
	10500: KindTransient, // internal error
	39995: KindTransient, // too many requests
	39996: KindTransient, // rate limited
	11001: KindRejected,  // insufficient available balance
	11006: KindRejected,  // position mode mismatch
	11082: KindRejected,  // leverage above contract tier
	19999: KindRejected,  // request validation failed
}

type phemexResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// PhemexConnector talks to Phemex USDT-M futures. Its quirk is the fixed
// leverage tier: every contract publishes a maximum leverage and requests
// above it are rejected outright, so SetLeverage clamps to the tier instead
// of bouncing the whole cycle.
type PhemexConnector struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	prec      *precisionCache

	mu     sync.RWMutex
	maxLev map[string]int
}

func NewPhemexConnector(apiKey, apiSecret, baseURL string) *PhemexConnector {
	return &PhemexConnector{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      newRestClient(baseURL),
		prec:      newPrecisionCache(),
		maxLev:    make(map[string]int),
	}
}

func (c *PhemexConnector) Venue() string { return VenuePhemex }

func (c *PhemexConnector) NormalizeSymbol(input string) string {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

// phemexSign is hex(HMAC-SHA256(secret, path + query + expiry + body)).
func phemexSign(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *PhemexConnector) do(ctx context.Context, method, path, query string, body any) (json.RawMessage, error) {
	var bodyStr string
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("phemex: encode body: %w", err)
		}
		bodyStr = string(b)
	}

	expiry := time.Now().Add(1 * time.Minute).Unix()
	sig := phemexSign(path, query, bodyStr, expiry, c.apiSecret)

	req := c.http.R().SetContext(ctx).
		SetHeader("x-phemex-access-token", c.apiKey).
		SetHeader("x-phemex-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-phemex-request-signature", sig)
	if query != "" {
		req.SetQueryString(query)
	}
	if bodyStr != "" {
		req.SetBody(bodyStr).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, transportError(VenuePhemex, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenuePhemex, resp)
	}

	var wrapper phemexResponse
	if err := json.Unmarshal(resp.Body(), &wrapper); err != nil {
		return nil, fmt.Errorf("phemex: decode response: %w", err)
	}
	if wrapper.Code != 0 {
		kind, ok := phemexErrorKinds[wrapper.Code]
		if !ok {
			kind = KindUnknown
		}
		return nil, &VenueError{
			Venue: VenuePhemex,
			Kind:  kind,
			Code:  fmt.Sprintf("%d", wrapper.Code),
			Msg:   wrapper.Msg,
			Raw:   string(resp.Body()),
		}
	}
	return wrapper.Data, nil
}

func (c *PhemexConnector) TestConnectivity(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/public/products")
	if err != nil {
		return transportError(VenuePhemex, err)
	}
	if resp.StatusCode() != 200 {
		return httpError(VenuePhemex, resp)
	}
	return nil
}

func (c *PhemexConnector) accountPositions(ctx context.Context) (*phemexAccountPositions, error) {
	raw, err := c.do(ctx, "GET", "/g-accounts/positions", "currency=USDT", nil)
	if err != nil {
		return nil, err
	}
	var parsed phemexAccountPositions
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode account positions: %w", err)
	}
	return &parsed, nil
}

type phemexAccountPositions struct {
	Account struct {
		Currency         string `json:"currency"`
		AccountBalanceRv string `json:"accountBalanceRv"`
		TotalUsedRv      string `json:"totalUsedBalanceRv"`
	} `json:"account"`
	Positions []struct {
		Symbol          string `json:"symbol"`
		Side            string `json:"side"`
		SizeRq          string `json:"sizeRq"`
		AvgEntryPriceRp string `json:"avgEntryPriceRp"`
		MarkPriceRp     string `json:"markPriceRp"`
		LeverageRr      string `json:"leverageRr"`
	} `json:"positions"`
}

func (c *PhemexConnector) AccountInfo(ctx context.Context) (*Balances, error) {
	parsed, err := c.accountPositions(ctx)
	if err != nil {
		return nil, err
	}
	equity := parseDec(parsed.Account.AccountBalanceRv)
	used := parseDec(parsed.Account.TotalUsedRv)
	return &Balances{
		Currency:  parsed.Account.Currency,
		Equity:    equity,
		Available: equity.Sub(used),
	}, nil
}

func (c *PhemexConnector) Positions(ctx context.Context, symbol string) ([]Position, error) {
	parsed, err := c.accountPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := ""
	if symbol != "" {
		want = c.NormalizeSymbol(symbol)
	}

	var out []Position
	for _, p := range parsed.Positions {
		size := parseDec(p.SizeRq)
		if size.IsZero() {
			continue
		}
		if want != "" && p.Symbol != want {
			continue
		}
		side := SideBuy
		if strings.EqualFold(p.Side, "Sell") {
			side = SideSell
		}
		out = append(out, Position{
			Symbol:     p.Symbol,
			Side:       side,
			Size:       size.Abs(),
			EntryPrice: parseDec(p.AvgEntryPriceRp),
			MarkPrice:  parseDec(p.MarkPriceRp),
			Leverage:   int(parseDec(p.LeverageRr).Abs().IntPart()),
		})
	}
	return out, nil
}

func (c *PhemexConnector) Ticker(ctx context.Context, symbol string) (*Ticker, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", c.NormalizeSymbol(symbol)).
		Get("/md/v3/ticker/24hr")
	if err != nil {
		return nil, transportError(VenuePhemex, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenuePhemex, resp)
	}
	var parsed struct {
		Result struct {
			Symbol    string `json:"symbol"`
			LastRp    string `json:"lastRp"`
			Timestamp int64  `json:"timestamp"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode ticker: %w", err)
	}
	return &Ticker{
		Symbol: parsed.Result.Symbol,
		Last:   parseDec(parsed.Result.LastRp),
		At:     time.Unix(0, parsed.Result.Timestamp),
	}, nil
}

// phemexResolution is the timeframe in whole seconds.
func phemexResolution(timeframe string) string {
	switch timeframe {
	case "1m":
		return "60"
	case "5m":
		return "300"
	case "15m":
		return "900"
	case "30m":
		return "1800"
	case "1h":
		return "3600"
	case "4h":
		return "14400"
	case "1d":
		return "86400"
	}
	return "3600"
}

func (c *PhemexConnector) Klines(ctx context.Context, symbol, timeframe string, limit int) ([]Kline, error) {
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", c.NormalizeSymbol(symbol)).
		SetQueryParam("resolution", phemexResolution(timeframe)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		Get("/exchange/public/md/v2/kline/last")
	if err != nil {
		return nil, transportError(VenuePhemex, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenuePhemex, resp)
	}
	var parsed struct {
		Data struct {
			Rows [][]any `json:"rows"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode klines: %w", err)
	}

	// Row layout: ts, interval, lastClose, open, high, low, close, volume, turnover.
	out := make([]Kline, 0, len(parsed.Data.Rows))
	for _, row := range parsed.Data.Rows {
		if len(row) < 8 {
			continue
		}
		out = append(out, Kline{
			OpenTime: time.Unix(int64(anyFloat(row[0])), 0),
			Open:     anyDec(row[3]),
			High:     anyDec(row[4]),
			Low:      anyDec(row[5]),
			Close:    anyDec(row[6]),
			Volume:   anyDec(row[7]),
		})
	}
	return out, nil
}

func (c *PhemexConnector) SymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.prec.lookup(ctx, VenuePhemex, c.NormalizeSymbol(symbol), c.fetchPrecision)
}

func (c *PhemexConnector) fetchPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/public/products")
	if err != nil {
		return nil, transportError(VenuePhemex, err)
	}
	if resp.StatusCode() != 200 {
		return nil, httpError(VenuePhemex, resp)
	}
	var parsed struct {
		Data struct {
			PerpProductsV2 []struct {
				Symbol      string `json:"symbol"`
				QtyStepSize string `json:"qtyStepSize"`
				TickSize    string `json:"tickSize"`
				MaxLeverage int    `json:"maxLeverage"`
			} `json:"perpProductsV2"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode products: %w", err)
	}

	for _, prod := range parsed.Data.PerpProductsV2 {
		if prod.Symbol != symbol {
			continue
		}
		c.mu.Lock()
		c.maxLev[symbol] = prod.MaxLeverage
		c.mu.Unlock()

		p := &SymbolPrecision{
			QtyStep:   parseDec(prod.QtyStepSize),
			PriceStep: parseDec(prod.TickSize),
		}
		p.QtyPrecision = stepPrecision(p.QtyStep)
		p.PricePrecision = stepPrecision(p.PriceStep)
		return p, nil
	}
	return nil, &VenueError{Venue: VenuePhemex, Kind: KindRejected, Msg: "unknown symbol " + symbol}
}

// SetLeverage clamps to the contract's fixed leverage tier before sending.
// Phemex rejects anything above the tier instead of capping it server-side.
func (c *PhemexConnector) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	normalized := c.NormalizeSymbol(symbol)
	if _, err := c.SymbolPrecision(ctx, symbol); err != nil {
		return err
	}

	c.mu.RLock()
	tier := c.maxLev[normalized]
	c.mu.RUnlock()
	if tier > 0 && leverage > tier {
		logger.WithFields(logger.Fields{
			"symbol":    normalized,
			"requested": leverage,
			"tier":      tier,
		}).Warn("PHEMEX: leverage clamped to contract tier")
		leverage = tier
	}

	query := fmt.Sprintf("symbol=%s&leverageRr=%d", normalized, leverage)
	_, err := c.do(ctx, "PUT", "/g-positions/leverage", query, nil)
	return err
}

func (c *PhemexConnector) CreateMarketOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Market")
	body["timeInForce"] = "ImmediateOrCancel"
	return c.submitOrder(ctx, body)
}

func (c *PhemexConnector) CreateLimitOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Limit")
	body["priceRp"] = p.Price.String()
	body["timeInForce"] = "GoodTillCancel"
	return c.submitOrder(ctx, body)
}

func (c *PhemexConnector) CreateStopOrder(ctx context.Context, p OrderParams) (*OrderAck, error) {
	body := c.orderBody(p, "Stop")
	body["stopPxRp"] = p.StopPrice.String()
	body["triggerType"] = "ByMarkPrice"
	body["timeInForce"] = "ImmediateOrCancel"
	return c.submitOrder(ctx, body)
}

func (c *PhemexConnector) orderBody(p OrderParams, ordType string) map[string]any {
	side := "Buy"
	if p.Side == SideSell {
		side = "Sell"
	}
	body := map[string]any{
		"symbol":     c.NormalizeSymbol(p.Symbol),
		"side":       side,
		"posSide":    "Merged",
		"ordType":    ordType,
		"orderQtyRq": p.Quantity.String(),
		"clOrdID":    p.ClientOrderID,
	}
	if p.ReduceOnly {
		body["reduceOnly"] = true
	}
	return body
}

func (c *PhemexConnector) submitOrder(ctx context.Context, body map[string]any) (*OrderAck, error) {
	raw, err := c.do(ctx, "POST", "/g-orders", "", body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		OrderID string `json:"orderID"`
		ClOrdID string `json:"clOrdID"`
		Status  string `json:"ordStatus"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode order ack: %w", err)
	}
	return &OrderAck{
		VenueOrderID:  parsed.OrderID,
		ClientOrderID: parsed.ClOrdID,
		Status:        strings.ToLower(parsed.Status),
	}, nil
}

func (c *PhemexConnector) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	query := fmt.Sprintf("symbol=%s&orderID=%s", c.NormalizeSymbol(symbol), venueOrderID)
	_, err := c.do(ctx, "DELETE", "/g-orders/cancel", query, nil)
	return err
}

func (c *PhemexConnector) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	query := "symbol=" + c.NormalizeSymbol(symbol)
	raw, err := c.do(ctx, "GET", "/g-orders/activeList", query, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Rows []struct {
			OrderID    string `json:"orderID"`
			ClOrdID    string `json:"clOrdID"`
			Symbol     string `json:"symbol"`
			Side       string `json:"side"`
			OrdType    string `json:"ordType"`
			OrderQtyRq string `json:"orderQtyRq"`
			PriceRp    string `json:"priceRp"`
			ReduceOnly bool   `json:"reduceOnly"`
			OrdStatus  string `json:"ordStatus"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("phemex: decode active orders: %w", err)
	}

	out := make([]OpenOrder, 0, len(parsed.Rows))
	for _, o := range parsed.Rows {
		side := SideBuy
		if strings.EqualFold(o.Side, "Sell") {
			side = SideSell
		}
		out = append(out, OpenOrder{
			VenueOrderID:  o.OrderID,
			ClientOrderID: o.ClOrdID,
			Symbol:        o.Symbol,
			Side:          side,
			OrderType:     strings.ToLower(o.OrdType),
			Quantity:      parseDec(o.OrderQtyRq),
			Price:         parseDec(o.PriceRp),
			ReduceOnly:    o.ReduceOnly,
			Status:        strings.ToLower(o.OrdStatus),
		})
	}
	return out, nil
}

func (c *PhemexConnector) RoundQuantity(ctx context.Context, symbol string, qty decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(qty, p.QtyStep), nil
}

func (c *PhemexConnector) RoundPrice(ctx context.Context, symbol string, price decimal.Decimal) (decimal.Decimal, error) {
	p, err := c.SymbolPrecision(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return floorToStep(price, p.PriceStep), nil
}
