package connectors

import (
	"errors"
	"testing"

	"tradengine/src/model"
)

func TestFactoryResolvesEveryVenue(t *testing.T) {
	creds := Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}
	venues := []string{VenueBinance, VenueBybit, VenueOKX, VenueBitget, VenueKucoin, VenuePhemex}

	for _, venue := range venues {
		conn, err := New(venue, creds, model.NetworkMainnet)
		if err != nil {
			t.Fatalf("%s: %v", venue, err)
		}
		if conn.Venue() != venue {
			t.Fatalf("expected venue %s, got %s", venue, conn.Venue())
		}
	}
}

func TestFactoryUnknownVenue(t *testing.T) {
	_, err := New("mtgox", Credentials{}, model.NetworkMainnet)
	var unsupported *UnsupportedVenueError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedVenueError, got %v", err)
	}
	if unsupported.Venue != "mtgox" {
		t.Fatalf("unexpected venue %q", unsupported.Venue)
	}
}

func TestNormalizeSymbolPerVenue(t *testing.T) {
	cases := []struct {
		venue string
		input string
		want  string
	}{
		{VenueBinance, "btc/usd", "BTCUSDT"},
		{VenueBinance, "BTCUSDT", "BTCUSDT"},
		{VenueBybit, "eth-usdt", "ETHUSDT"},
		{VenueOKX, "BTCUSDT", "BTC-USDT-SWAP"},
		{VenueBitget, "btc_usdt", "BTCUSDT"},
		{VenueKucoin, "BTCUSDT", "XBTUSDTM"},
		{VenueKucoin, "ethusdt", "ETHUSDTM"},
		{VenuePhemex, "btc/usd", "BTCUSDT"},
	}

	for _, tc := range cases {
		conn, err := New(tc.venue, Credentials{APIKey: "k", APISecret: "s", Passphrase: "p"}, model.NetworkMainnet)
		if err != nil {
			t.Fatalf("%s: %v", tc.venue, err)
		}
		if got := conn.NormalizeSymbol(tc.input); got != tc.want {
			t.Fatalf("%s: NormalizeSymbol(%q) = %q, want %q", tc.venue, tc.input, got, tc.want)
		}
	}
}
