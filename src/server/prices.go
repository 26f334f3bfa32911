package server

import (
	"sync"

	"tradengine/src/connectors"
)

// PriceBoard holds the latest mark price per symbol, fed by the Binance
// websocket stream and read by the status endpoint.
type PriceBoard struct {
	mu     sync.RWMutex
	prices map[string]connectors.MarkPrice
}

func NewPriceBoard() *PriceBoard {
	return &PriceBoard{prices: make(map[string]connectors.MarkPrice)}
}

// Consume drains the stream until the channel closes. Run it in its own
// goroutine.
func (b *PriceBoard) Consume(updates <-chan connectors.MarkPrice) {
	for update := range updates {
		b.mu.Lock()
		b.prices[update.Symbol] = update
		b.mu.Unlock()
	}
}

// Snapshot copies the current board.
func (b *PriceBoard) Snapshot() map[string]connectors.MarkPrice {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]connectors.MarkPrice, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}
