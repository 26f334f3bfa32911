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

// SubscriptionRepository implements subscription persistence using GORM.
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new repository bound to MainDB.
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *SubscriptionRepository) WithDB(db *gorm.DB) *SubscriptionRepository {
	logger.WithField("component", "SubscriptionRepository").
		Debug("Creating SubscriptionRepository with custom DB instance")

	return &SubscriptionRepository{db: db}
}

// Create inserts a new subscription.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	logger.WithFields(map[string]interface{}{
		"repo":  "SubscriptionRepository",
		"op":    "Create",
		"venue": sub.Venue,
		"user":  sub.UserID,
	}).Debug("Creating subscription")

	return r.db.WithContext(ctx).Create(sub).Error
}

// FindByID fetches a subscription by primary ID. Returns (nil, nil) if not found.
func (r *SubscriptionRepository) FindByID(ctx context.Context, id uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "SubscriptionRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch subscription")
		return nil, err
	}
	return &sub, nil
}

// FindActive returns all subscriptions the scheduler may trigger.
func (r *SubscriptionRepository) FindActive(ctx context.Context) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ?", model.SubscriptionStatusActive).
		Find(&subs).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "SubscriptionRepository",
			"op":   "FindActive",
		}).WithError(err).Error("Failed to list active subscriptions")
		return nil, err
	}
	return subs, nil
}

// UpdateStatus transitions the subscription lifecycle status.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "SubscriptionRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Info("Updating subscription status")

	return r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// TouchLastExecution records the start of a cycle.
func (r *SubscriptionRepository) TouchLastExecution(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", id).
		Update("last_execution_at", at).Error
}

// Save persists all mutable fields of an existing subscription.
func (r *SubscriptionRepository) Save(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}
