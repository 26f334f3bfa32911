package model

import "time"

// Order directions.
const (
	OrderDirectionEntry      = "entry"
	OrderDirectionStopLoss   = "stop_loss"
	OrderDirectionTakeProfit = "take_profit"
)

// Order statuses as reported back by the venue or set by the engine.
const (
	OrderStatusPending   = "pending"
	OrderStatusSubmitted = "submitted"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
	OrderStatusError     = "error"
)

// Order is the normalized request/response pair the engine sends to a venue.
// Quantity and price are already rounded to venue precision before the row
// is created.
type Order struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	SubscriptionID uint `gorm:"index" json:"subscription_id"`
	UserID         uint `gorm:"index" json:"user_id"`

	Venue     string   `gorm:"size:30;not null" json:"venue"`
	Symbol    string   `gorm:"size:30;not null" json:"symbol"`
	Side      string   `gorm:"size:10;not null" json:"side"`
	OrderType string   `gorm:"size:20;not null" json:"order_type"`
	Quantity  float64  `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`
	Leverage  int      `json:"leverage"`

	// ClientOrderID is the idempotency token sent on every submission
	// attempt, so a retried request cannot create a duplicate position.
	ClientOrderID string `gorm:"size:64;index" json:"client_order_id"`
	VenueOrderID  string `gorm:"size:64;index" json:"venue_order_id"`

	Status     string `gorm:"size:20;not null;default:pending" json:"status"`
	OrderDir   string `gorm:"size:20;not null" json:"order_dir"`
	ReduceOnly bool   `gorm:"not null;default:false" json:"reduce_only"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Logs []OrderLog `gorm:"foreignKey:OrderID" json:"order_logs,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Terminal reports whether the venue already gave a final answer.
func (o *Order) Terminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// OrderLog is an append-only audit record of every status transition.
type OrderLog struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	OrderID uint `gorm:"index;not null" json:"order_id"`

	Symbol    string   `json:"symbol"`
	Side      string   `json:"side"`
	OrderType string   `json:"order_type"`
	Quantity  float64  `json:"quantity"`
	Price     *float64 `json:"price,omitempty"`
	Status    string   `gorm:"size:20;not null" json:"status"`
	Reason    string   `gorm:"size:255" json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (OrderLog) TableName() string {
	return "order_logs"
}
