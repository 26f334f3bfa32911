package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradengine/src/database"
	"tradengine/src/model"
)

// OrderRepository implements order persistence using GORM.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository bound to MainDB.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	logger.WithField("component", "OrderRepository").
		Debug("Creating OrderRepository with custom DB instance")

	return &OrderRepository{db: db}
}

// Create inserts a new order row.
func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	logger.WithFields(map[string]interface{}{
		"repo":            "OrderRepository",
		"op":              "Create",
		"subscription":    order.SubscriptionID,
		"symbol":          order.Symbol,
		"side":            order.Side,
		"order_dir":       order.OrderDir,
		"client_order_id": order.ClientOrderID,
	}).Debug("Creating order")

	return r.db.WithContext(ctx).Create(order).Error
}

// FindByClientOrderID looks up an order by its idempotency token.
// Returns (nil, nil) if not found.
func (r *OrderRepository) FindByClientOrderID(ctx context.Context, clientOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("client_order_id = ?", clientOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// MarkStatus records the venue's answer for an order, appending an audit log
// row in the same transaction.
func (r *OrderRepository) MarkStatus(ctx context.Context, order *model.Order, status, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         status,
			"venue_order_id": order.VenueOrderID,
		}
		if status == model.OrderStatusFilled || status == model.OrderStatusSubmitted {
			now := time.Now().UTC()
			updates["executed_at"] = &now
		}
		if err := tx.Model(order).Updates(updates).Error; err != nil {
			return err
		}

		log := model.OrderLog{
			OrderID:   order.ID,
			Symbol:    order.Symbol,
			Side:      order.Side,
			OrderType: order.OrderType,
			Quantity:  order.Quantity,
			Price:     order.Price,
			Status:    status,
			Reason:    reason,
		}
		return tx.Create(&log).Error
	})
}

// LastFilledEntry returns the most recent filled entry order for a symbol,
// or (nil, nil) when the subscription never entered that symbol.
func (r *OrderRepository) LastFilledEntry(ctx context.Context, subscriptionID uint, symbol string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND symbol = ? AND order_dir = ? AND status = ?",
			subscriptionID, symbol, model.OrderDirectionEntry, model.OrderStatusFilled).
		Order("executed_at DESC").
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// OpenBySubscription lists non-terminal orders for a subscription.
func (r *OrderRepository) OpenBySubscription(ctx context.Context, subscriptionID uint) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status IN ?", subscriptionID,
			[]string{model.OrderStatusPending, model.OrderStatusSubmitted}).
		Find(&orders).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "OrderRepository",
			"op":           "OpenBySubscription",
			"subscription": subscriptionID,
		}).WithError(err).Error("Failed to list open orders")
		return nil, err
	}
	return orders, nil
}
