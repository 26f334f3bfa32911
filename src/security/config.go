package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Base64-encoded 32-byte secretbox key. The default only exists so local
	// development works out of the box; production must set its own.
	ExchangeCRKey string `envconfig:"EXCHANGE_CREDENTIALS_KEY" default:"kU9GItaIhu1bF5/JzOxfb8xD5hnBv9HUGxdzLeBTXhA="`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
