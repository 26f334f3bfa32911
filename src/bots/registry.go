// SIGNAL PRODUCER REGISTRY
package bots

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"tradengine/src/connectors"
	"tradengine/src/model"
)

// MarketData is the preprocessed snapshot handed to a producer each cycle.
type MarketData struct {
	Klines    []connectors.Kline
	LastPrice decimal.Decimal
}

// Producer turns market data into a signal. Implementations must be
// stateless across subscriptions; any per-subscription memory belongs in
// the subscription's own configuration or the persistence layer.
type Producer interface {
	ProduceSignal(ctx context.Context, data MarketData, sub *model.Subscription) (model.Signal, error)
}

// UnknownBotError is returned when no producer matches an id/version pair.
type UnknownBotError struct {
	BotID   string
	Version int
}

func (e *UnknownBotError) Error() string {
	return fmt.Sprintf("unknown bot %q version %d", e.BotID, e.Version)
}

type registryKey struct {
	id      string
	version int
}

// Registry maps (bot id, version) to a producer factory. Versions are
// explicit so a tuned strategy can roll out without breaking subscriptions
// pinned to the old behavior.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]func() Producer
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[registryKey]func() Producer)}
}

// Register adds a producer factory for a bot id and version. Later
// registrations for the same key win, which tests use to inject stubs.
func (r *Registry) Register(botID string, version int, factory func() Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey{id: botID, version: version}] = factory
}

// Resolve returns a fresh producer for the given id and version.
func (r *Registry) Resolve(botID string, version int) (Producer, error) {
	r.mu.RLock()
	factory, ok := r.factories[registryKey{id: botID, version: version}]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownBotError{BotID: botID, Version: version}
	}
	return factory(), nil
}

// DefaultRegistry returns a registry with the built-in producers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sma_cross", 1, func() Producer {
		return NewSMACross(9, 21)
	})
	r.Register("sma_cross", 2, func() Producer {
		// Slower variant for higher timeframes.
		return NewSMACross(20, 50)
	})
	return r
}
