package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPTimeout   time.Duration `envconfig:"VENUE_HTTP_TIMEOUT" default:"15s"`
	RetryAttempts int           `envconfig:"VENUE_RETRY_ATTEMPTS" default:"5"`

	BinanceBaseURL        string `envconfig:"BINANCE_BASE_URL" default:"https://fapi.binance.com"`
	BinanceTestnetBaseURL string `envconfig:"BINANCE_TESTNET_BASE_URL" default:"https://testnet.binancefuture.com"`
	BinanceStreamURL      string `envconfig:"BINANCE_STREAM_URL" default:"wss://fstream.binance.com/stream"`

	BybitBaseURL        string `envconfig:"BYBIT_BASE_URL" default:"https://api.bybit.com"`
	BybitTestnetBaseURL string `envconfig:"BYBIT_TESTNET_BASE_URL" default:"https://api-testnet.bybit.com"`

	OKXBaseURL string `envconfig:"OKX_BASE_URL" default:"https://www.okx.com"`

	BitgetBaseURL string `envconfig:"BITGET_BASE_URL" default:"https://api.bitget.com"`

	KucoinBaseURL string `envconfig:"KUCOIN_BASE_URL" default:"https://api-futures.kucoin.com"`

	PhemexBaseURL        string `envconfig:"PHEMEX_BASE_URL" default:"https://api.phemex.com"`
	PhemexTestnetBaseURL string `envconfig:"PHEMEX_TESTNET_BASE_URL" default:"https://testnet-api.phemex.com"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
