package model

import "github.com/shopspring/decimal"

// Signal actions.
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

// Signal is the ephemeral output of a bot cycle. It is never persisted
// verbatim; the risk evaluator may tighten stops, shrink size or downgrade
// the action to hold before anything reaches a venue.
type Signal struct {
	Action     string          `json:"action"`
	Symbol     string          `json:"symbol"`
	Entry      decimal.Decimal `json:"entry"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	SizeHint   decimal.Decimal `json:"size_hint"`
	Rationale  string          `json:"rationale"`
}

// IsEntry reports whether the signal asks for a new position.
func (s *Signal) IsEntry() bool {
	return s.Action == SignalBuy || s.Action == SignalSell
}
