package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskState is the mutable per-subscription runtime state consumed by the
// risk evaluator. All read-modify-write access goes through the state store,
// which serializes it per subscription.
type RiskState struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	SubscriptionID uint `gorm:"not null;uniqueIndex" json:"subscription_id"`

	ConsecutiveLosses int        `gorm:"not null;default:0" json:"consecutive_losses"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`

	// DailyLossAmount only grows within a UTC day and is reset exactly once
	// when LastLossResetDate rolls over.
	DailyLossAmount   decimal.Decimal `gorm:"type:numeric" json:"daily_loss_amount"`
	LastLossResetDate time.Time       `json:"last_loss_reset_date"`

	TrailingActive bool            `gorm:"not null;default:false" json:"trailing_active"`
	PeakPrice      decimal.Decimal `gorm:"type:numeric" json:"peak_price"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RiskState) TableName() string {
	return "risk_states"
}

// InCooldown reports whether new entries are blocked at the given time.
func (s *RiskState) InCooldown(now time.Time) bool {
	return s.CooldownUntil != nil && now.Before(*s.CooldownUntil)
}
