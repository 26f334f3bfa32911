package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCV is one candle of market history, written by the backfill command
// and read by signal producers during warm-up.
type OHLCV struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	Venue     string          `gorm:"size:30;not null;uniqueIndex:idx_ohlcv_bar" json:"venue"`
	Symbol    string          `gorm:"size:30;not null;uniqueIndex:idx_ohlcv_bar" json:"symbol"`
	Timeframe string          `gorm:"size:10;not null;uniqueIndex:idx_ohlcv_bar" json:"timeframe"`
	Datetime  time.Time       `gorm:"not null;uniqueIndex:idx_ohlcv_bar" json:"datetime"`
	Open      decimal.Decimal `gorm:"type:numeric" json:"open"`
	High      decimal.Decimal `gorm:"type:numeric" json:"high"`
	Low       decimal.Decimal `gorm:"type:numeric" json:"low"`
	Close     decimal.Decimal `gorm:"type:numeric" json:"close"`
	Volume    decimal.Decimal `gorm:"type:numeric" json:"volume"`

	CreatedAt time.Time `json:"created_at"`
}

func (OHLCV) TableName() string {
	return "ohlcv"
}
