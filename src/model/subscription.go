package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Subscription lifecycle statuses.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPaused    = "paused"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Network modes for a subscription.
const (
	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"
)

// Risk evaluation modes.
const (
	RiskModeRules   = "rules"
	RiskModeAdvisor = "advisor"
)

// Subscription is one configured trading instance: a venue, a credential
// reference, a pair, a cadence and the risk policy that gates every cycle.
type Subscription struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	UserID       uint   `gorm:"index" json:"user_id"`
	Venue        string `gorm:"size:30;not null;index" json:"venue"`
	Network      string `gorm:"size:20;not null;default:testnet" json:"network"`
	Symbol       string `gorm:"size:30;not null" json:"symbol"`
	SecondSymbol string `gorm:"size:30" json:"second_symbol,omitempty"`
	BotID        string `gorm:"size:60;not null;default:sma_cross" json:"bot_id"`
	BotVersion   int    `gorm:"not null;default:1" json:"bot_version"`

	// Encrypted credential material, sealed by src/security. Never logged.
	APIKeySealed        string `gorm:"column:api_key;type:text" json:"-"`
	APISecretSealed     string `gorm:"column:api_secret;type:text" json:"-"`
	APIPassphraseSealed string `gorm:"column:api_passphrase;type:text" json:"-"`

	CadenceSeconds  int        `gorm:"not null;default:300" json:"cadence_seconds"`
	Status          string     `gorm:"size:20;not null;default:active;index" json:"status"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`

	Policy RiskPolicy `gorm:"embedded;embeddedPrefix:policy_" json:"policy"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Cadence returns the configured cycle interval.
func (s *Subscription) Cadence() time.Duration {
	if s.CadenceSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.CadenceSeconds) * time.Second
}

// IsActive reports whether the scheduler may trigger a new cycle.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// RiskPolicy is the per-subscription risk configuration. It is read-only to
// the risk evaluator; only subscription updates may change it.
type RiskPolicy struct {
	Mode string `gorm:"size:20;not null;default:rules" json:"mode"`

	RiskPerTradePercent  decimal.Decimal `gorm:"type:numeric" json:"risk_per_trade_percent"`
	MinRiskRewardRatio   decimal.Decimal `gorm:"type:numeric" json:"min_risk_reward_ratio"`
	MaxLeverage          int             `json:"max_leverage"`
	MaxPositionSize      decimal.Decimal `gorm:"type:numeric" json:"max_position_size"`
	MaxPortfolioExposure decimal.Decimal `gorm:"type:numeric" json:"max_portfolio_exposure"`
	DailyLossLimitPct    decimal.Decimal `gorm:"type:numeric" json:"daily_loss_limit_pct"`

	StopLossPercent   decimal.Decimal `gorm:"type:numeric" json:"stop_loss_percent"`
	TakeProfitPercent decimal.Decimal `gorm:"type:numeric" json:"take_profit_percent"`

	TrailingActivationPct decimal.Decimal `gorm:"type:numeric" json:"trailing_activation_pct"`
	TrailingPct           decimal.Decimal `gorm:"type:numeric" json:"trailing_pct"`

	// Trading window, UTC. Hours are inclusive start, exclusive end. An
	// empty AllowedDays list means every day is allowed.
	WindowStartHour int    `json:"window_start_hour"`
	WindowEndHour   int    `json:"window_end_hour"`
	AllowedDays     string `gorm:"size:30" json:"allowed_days"` // "1,2,3,4,5" = Mon..Fri

	CooldownTriggerLosses int `json:"cooldown_trigger_losses"`
	CooldownMinutes       int `json:"cooldown_minutes"`

	// Safety bounds that advisor output is re-validated against.
	AdvisorMinStopLossPct   decimal.Decimal `gorm:"type:numeric" json:"advisor_min_stop_loss_pct"`
	AdvisorMaxStopLossPct   decimal.Decimal `gorm:"type:numeric" json:"advisor_max_stop_loss_pct"`
	AdvisorMinTakeProfitPct decimal.Decimal `gorm:"type:numeric" json:"advisor_min_take_profit_pct"`
	AdvisorMaxTakeProfitPct decimal.Decimal `gorm:"type:numeric" json:"advisor_max_take_profit_pct"`
}

// CooldownDuration returns the configured cooldown window.
func (p *RiskPolicy) CooldownDuration() time.Duration {
	if p.CooldownMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(p.CooldownMinutes) * time.Minute
}
