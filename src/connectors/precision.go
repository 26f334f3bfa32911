package connectors

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// precisionCache stores symbol precision metadata keyed by venue|symbol.
// It is fetched once per symbol for the connector's lifetime and safe for
// concurrent read.
type precisionCache struct {
	mu sync.RWMutex
	m  map[string]*SymbolPrecision
}

func newPrecisionCache() *precisionCache {
	return &precisionCache{m: make(map[string]*SymbolPrecision)}
}

func (c *precisionCache) get(venue, symbol string) (*SymbolPrecision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.m[venue+"|"+symbol]
	return p, ok
}

func (c *precisionCache) put(venue, symbol string, p *SymbolPrecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[venue+"|"+symbol] = p
}

// lookup returns the cached precision or loads it through fetch exactly
// once per symbol.
func (c *precisionCache) lookup(
	ctx context.Context,
	venue, symbol string,
	fetch func(context.Context, string) (*SymbolPrecision, error),
) (*SymbolPrecision, error) {
	if p, ok := c.get(venue, symbol); ok {
		return p, nil
	}
	p, err := fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if p.QtyStep.IsZero() {
		return nil, fmt.Errorf("%s: empty quantity step for %s", venue, symbol)
	}
	c.put(venue, symbol, p)
	return p, nil
}

// floorToStep snaps v down to the closest multiple of step. Quantities are
// never rounded up: 0.12345678 on a 0.001 step becomes 0.123.
func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() || v.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// stepPrecision derives the number of decimal places implied by a step
// size, e.g. 0.001 -> 3.
func stepPrecision(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	p := -step.Exponent()
	if p < 0 {
		return 0
	}
	return p
}
