package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBinanceMarketOrderOmitsPrice(t *testing.T) {
	var gotQuery map[string][]string
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/order":
			gotQuery = r.URL.Query()
			gotAPIKey = r.Header.Get("X-MBX-APIKEY")
			_, _ = w.Write([]byte(`{"orderId":123,"clientOrderId":"tok-1","status":"NEW"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	conn := NewBinanceConnector("key", "secret", server.URL)
	ack, err := conn.CreateMarketOrder(context.Background(), OrderParams{
		Symbol:        "btc/usd",
		Side:          SideBuy,
		Quantity:      d("0.5"),
		Price:         d("64000"), // must be dropped for market orders
		ClientOrderID: "tok-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if ack.VenueOrderID != "123" || ack.ClientOrderID != "tok-1" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if gotAPIKey != "key" {
		t.Fatalf("expected api key header, got %q", gotAPIKey)
	}
	if _, ok := gotQuery["price"]; ok {
		t.Fatal("market order must not carry a price parameter")
	}
	if got := gotQuery["type"]; len(got) != 1 || got[0] != "MARKET" {
		t.Fatalf("expected type=MARKET, got %v", got)
	}
	if got := gotQuery["symbol"]; len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("expected symbol=BTCUSDT, got %v", got)
	}
	if got := gotQuery["newClientOrderId"]; len(got) != 1 || got[0] != "tok-1" {
		t.Fatalf("expected client order id tok-1, got %v", got)
	}
	if len(gotQuery["signature"]) != 1 || len(gotQuery["timestamp"]) != 1 {
		t.Fatal("signed request must carry signature and timestamp")
	}
}

func TestBinanceErrorCodeMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	defer server.Close()

	conn := NewBinanceConnector("key", "secret", server.URL)
	_, err := conn.AccountInfo(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuth(err) {
		t.Fatalf("expected auth classification, got %v", err)
	}

	var ve *VenueError
	if !asVenueError(err, &ve) {
		t.Fatalf("expected *VenueError, got %T", err)
	}
	if ve.Code != "-2015" {
		t.Fatalf("expected code -2015, got %s", ve.Code)
	}
	if ve.Raw == "" {
		t.Fatal("raw venue payload must be preserved")
	}
}

func TestBinanceRoundQuantityUsesExchangeInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/exchangeInfo" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
			{"filterType":"LOT_SIZE","stepSize":"0.001"},
			{"filterType":"PRICE_FILTER","tickSize":"0.10"}]}]}`))
	}))
	defer server.Close()

	conn := NewBinanceConnector("key", "secret", server.URL)
	qty, err := conn.RoundQuantity(context.Background(), "BTCUSDT", d("0.12345678"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !qty.Equal(d("0.123")) {
		t.Fatalf("expected 0.123, got %s", qty)
	}

	price, err := conn.RoundPrice(context.Background(), "BTCUSDT", d("64000.17"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !price.Equal(d("64000.1")) {
		t.Fatalf("expected 64000.1, got %s", price)
	}
}
