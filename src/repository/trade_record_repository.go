package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tradengine/src/database"
	"tradengine/src/model"
)

// TradeRecordRepository persists the append-only trade ledger.
type TradeRecordRepository struct {
	db *gorm.DB
}

// NewTradeRecordRepository creates a new repository bound to MainDB.
func NewTradeRecordRepository() *TradeRecordRepository {
	return &TradeRecordRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRecordRepository) WithDB(db *gorm.DB) *TradeRecordRepository {
	logger.WithField("component", "TradeRecordRepository").
		Debug("Creating TradeRecordRepository with custom DB instance")

	return &TradeRecordRepository{db: db}
}

// Create appends one ledger entry. Rows are never updated or deleted.
func (r *TradeRecordRepository) Create(ctx context.Context, record *model.TradeRecord) error {
	logger.WithFields(map[string]interface{}{
		"repo":         "TradeRecordRepository",
		"op":           "Create",
		"subscription": record.SubscriptionID,
		"symbol":       record.Symbol,
		"is_win":       record.IsWin,
		"realized_pl":  record.RealizedPL.String(),
	}).Info("Recording trade outcome")

	return r.db.WithContext(ctx).Create(record).Error
}

// ListBySubscription returns the most recent ledger entries, newest first.
func (r *TradeRecordRepository) ListBySubscription(ctx context.Context, subscriptionID uint, limit int) ([]model.TradeRecord, error) {
	var records []model.TradeRecord
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("closed_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":         "TradeRecordRepository",
			"op":           "ListBySubscription",
			"subscription": subscriptionID,
		}).WithError(err).Error("Failed to list trade records")
		return nil, err
	}
	return records, nil
}
