package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is an append-only ledger entry produced when a position
// closes. It is the sole input to consecutive-loss and daily-loss updates.
type TradeRecord struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	SubscriptionID uint `gorm:"index;not null" json:"subscription_id"`

	Symbol     string          `gorm:"size:30;not null" json:"symbol"`
	Side       string          `gorm:"size:10;not null" json:"side"`
	Quantity   decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	EntryPrice decimal.Decimal `gorm:"type:numeric" json:"entry_price"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric" json:"exit_price"`
	RealizedPL decimal.Decimal `gorm:"type:numeric" json:"realized_pl"`
	IsWin      bool            `gorm:"not null" json:"is_win"`

	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `gorm:"index" json:"closed_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (TradeRecord) TableName() string {
	return "trade_records"
}
