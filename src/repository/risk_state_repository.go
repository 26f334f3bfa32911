package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradengine/src/database"
	"tradengine/src/model"
)

// RiskStateRepository implements risk-state persistence using GORM. All
// read-modify-write sequences on a given subscription's row are serialized
// by the state store; the repository itself stays dumb.
type RiskStateRepository struct {
	db *gorm.DB
}

// NewRiskStateRepository creates a new repository bound to MainDB.
func NewRiskStateRepository() *RiskStateRepository {
	return &RiskStateRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *RiskStateRepository) WithDB(db *gorm.DB) *RiskStateRepository {
	logger.WithField("component", "RiskStateRepository").
		Debug("Creating RiskStateRepository with custom DB instance")

	return &RiskStateRepository{db: db}
}

// GetOrCreate returns the state row for a subscription, creating a zeroed
// one on first use.
func (r *RiskStateRepository) GetOrCreate(ctx context.Context, subscriptionID uint) (*model.RiskState, error) {
	var state model.RiskState
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&state).Error
	if err == nil {
		return &state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.WithFields(map[string]interface{}{
			"repo":         "RiskStateRepository",
			"op":           "GetOrCreate",
			"subscription": subscriptionID,
		}).WithError(err).Error("Failed to fetch risk state")
		return nil, err
	}

	state = model.RiskState{SubscriptionID: subscriptionID}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":         "RiskStateRepository",
		"op":           "GetOrCreate",
		"subscription": subscriptionID,
	}).Info("Created initial risk state")

	return &state, nil
}

// Save persists the full state row.
func (r *RiskStateRepository) Save(ctx context.Context, state *model.RiskState) error {
	return r.db.WithContext(ctx).Save(state).Error
}
