package connectors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// kucoinMockBody builds a KuCoin-style response wrapper.
func kucoinMockBody(code, data string) string {
	return `{"code":"` + code + `","data":` + data + `}`
}

func TestKucoinIntegerContractLots(t *testing.T) {
	var gotOrder map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/contracts/XBTUSDTM":
			_, _ = w.Write([]byte(kucoinMockBody("200000",
				`{"multiplier":0.001,"lotSize":1,"tickSize":0.1}`)))
		case r.URL.Path == "/api/v1/orders" && r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(body, &gotOrder); err != nil {
				t.Errorf("decode order body: %v", err)
			}
			if r.Header.Get("KC-API-KEY-VERSION") != "2" {
				t.Error("expected key version 2 header")
			}
			if r.Header.Get("KC-API-PASSPHRASE") == "pass" {
				t.Error("passphrase must be sent HMAC-signed, not in the clear")
			}
			_, _ = w.Write([]byte(kucoinMockBody("200000",
				`{"orderId":"abc123","clientOid":"tok-9"}`)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	conn := NewKucoinConnector("key", "secret", "pass", server.URL)

	// Prime the multiplier cache the way callers do: round first.
	qty, err := conn.RoundQuantity(context.Background(), "BTCUSDT", d("0.5004"))
	if err != nil {
		t.Fatalf("round quantity: %v", err)
	}
	if !qty.Equal(d("0.5")) {
		t.Fatalf("expected 0.5, got %s", qty)
	}

	ack, err := conn.CreateMarketOrder(context.Background(), OrderParams{
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Quantity:      qty,
		ClientOrderID: "tok-9",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if ack.VenueOrderID != "abc123" || ack.ClientOrderID != "tok-9" {
		t.Fatalf("unexpected ack %+v", ack)
	}

	// 0.5 base units at a 0.001 multiplier is 500 whole contracts.
	size, ok := gotOrder["size"].(float64)
	if !ok || size != 500 {
		t.Fatalf("expected size 500, got %v", gotOrder["size"])
	}
	if gotOrder["symbol"] != "XBTUSDTM" {
		t.Fatalf("expected symbol XBTUSDTM, got %v", gotOrder["symbol"])
	}
	if _, hasPrice := gotOrder["price"]; hasPrice {
		t.Fatal("market order must not carry a price field")
	}
}

func TestKucoinErrorCodeMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"400004","msg":"Invalid KC-API-PASSPHRASE"}`))
	}))
	defer server.Close()

	conn := NewKucoinConnector("key", "secret", "wrong", server.URL)
	err := conn.TestConnectivity(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuth(err) {
		t.Fatalf("expected auth classification, got %v", err)
	}
}

func TestKucoinLeverageAppliedPerOrder(t *testing.T) {
	var gotLeverage string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/contracts/ETHUSDTM":
			_, _ = w.Write([]byte(kucoinMockBody("200000",
				`{"multiplier":0.01,"lotSize":1,"tickSize":0.01}`)))
		case r.URL.Path == "/api/v1/orders":
			var body map[string]any
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &body)
			gotLeverage, _ = body["leverage"].(string)
			_, _ = w.Write([]byte(kucoinMockBody("200000", `{"orderId":"x","clientOid":"y"}`)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	conn := NewKucoinConnector("key", "secret", "pass", server.URL)
	if err := conn.SetLeverage(context.Background(), "ETHUSDT", 5); err != nil {
		t.Fatalf("set leverage: %v", err)
	}
	if _, err := conn.RoundQuantity(context.Background(), "ETHUSDT", d("1")); err != nil {
		t.Fatalf("round quantity: %v", err)
	}

	_, err := conn.CreateMarketOrder(context.Background(), OrderParams{
		Symbol:        "ETHUSDT",
		Side:          SideSell,
		Quantity:      d("1"),
		ClientOrderID: "y",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if gotLeverage != "5" {
		t.Fatalf("expected leverage 5 on the order body, got %q", gotLeverage)
	}
}
