package model

import "time"

// Exception is a persisted system error for operator investigation, e.g. a
// venue rejecting a priceless market order with a price-bound message.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	Service string `gorm:"size:60" json:"service"`
	Module  string `gorm:"size:60" json:"module"`
	Method  string `gorm:"size:120" json:"method"`
	Level   string `gorm:"size:20" json:"level"`
	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack,omitempty"`
	Context string `gorm:"type:text" json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Exception) TableName() string {
	return "exceptions"
}
