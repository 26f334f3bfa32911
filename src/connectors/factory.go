package connectors

import (
	logger "github.com/sirupsen/logrus"

	"tradengine/src/model"
)

// Venue identifiers accepted by the factory.
const (
	VenueBinance = "binance"
	VenueBybit   = "bybit"
	VenueOKX     = "okx"
	VenueBitget  = "bitget"
	VenueKucoin  = "kucoin"
	VenuePhemex  = "phemex"
)

// SupportedVenues lists every venue the factory can resolve.
func SupportedVenues() []string {
	return []string{VenueBinance, VenueBybit, VenueOKX, VenueBitget, VenueKucoin, VenuePhemex}
}

// Credentials is the decrypted API credential set for one subscription.
// Passphrase is only meaningful on venues that require it; connectors for
// the other venues ignore it.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// New resolves a venue identifier plus credentials to a concrete connector.
// Unknown venues fail fast with *UnsupportedVenueError instead of handing
// out a partially-functional adapter. Connector instances are cheap; only
// the per-venue precision cache is shared state, and it is concurrent-safe.
func New(venue string, creds Credentials, network string) (Connector, error) {
	config := GetConfig()
	testnet := network == model.NetworkTestnet

	switch venue {
	case VenueBinance:
		base := config.BinanceBaseURL
		if testnet {
			base = config.BinanceTestnetBaseURL
		}
		return NewBinanceConnector(creds.APIKey, creds.APISecret, base), nil

	case VenueBybit:
		base := config.BybitBaseURL
		if testnet {
			base = config.BybitTestnetBaseURL
		}
		return NewBybitConnector(creds.APIKey, creds.APISecret, base), nil

	case VenueOKX:
		// OKX keeps one host; demo trading is a header flag.
		return NewOKXConnector(creds.APIKey, creds.APISecret, creds.Passphrase, config.OKXBaseURL, testnet), nil

	case VenueBitget:
		return NewBitgetConnector(creds.APIKey, creds.APISecret, creds.Passphrase, config.BitgetBaseURL), nil

	case VenueKucoin:
		return NewKucoinConnector(creds.APIKey, creds.APISecret, creds.Passphrase, config.KucoinBaseURL), nil

	case VenuePhemex:
		base := config.PhemexBaseURL
		if testnet {
			base = config.PhemexTestnetBaseURL
		}
		return NewPhemexConnector(creds.APIKey, creds.APISecret, base), nil
	}

	logger.WithField("venue", venue).Error("no connector registered for venue")
	return nil, &UnsupportedVenueError{Venue: venue}
}
