package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tradengine/src/database"
	"tradengine/src/model"
)

// OHLCVRepository persists candle history for warm-up and backfill.
type OHLCVRepository struct {
	db *gorm.DB
}

// NewOHLCVRepository creates a new repository bound to MainDB.
func NewOHLCVRepository() *OHLCVRepository {
	return &OHLCVRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *OHLCVRepository) WithDB(db *gorm.DB) *OHLCVRepository {
	return &OHLCVRepository{db: db}
}

// UpsertBatch writes candles idempotently on the (venue, symbol, timeframe,
// datetime) key, so overlapping backfill runs never duplicate bars.
func (r *OHLCVRepository) UpsertBatch(ctx context.Context, candles []model.OHLCV) error {
	if len(candles) == 0 {
		return nil
	}

	logger.WithFields(map[string]interface{}{
		"repo":  "OHLCVRepository",
		"op":    "UpsertBatch",
		"count": len(candles),
	}).Debug("Upserting candle batch")

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "venue"}, {Name: "symbol"}, {Name: "timeframe"}, {Name: "datetime"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).Create(&candles).Error
}

// Latest returns the most recent bars for a series, oldest first.
func (r *OHLCVRepository) Latest(ctx context.Context, venue, symbol, timeframe string, limit int) ([]model.OHLCV, error) {
	var candles []model.OHLCV
	err := r.db.WithContext(ctx).
		Where("venue = ? AND symbol = ? AND timeframe = ?", venue, symbol, timeframe).
		Order("datetime DESC").
		Limit(limit).
		Find(&candles).Error
	if err != nil {
		return nil, err
	}

	// Flip to chronological order for indicator math.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// LastBarTime returns the newest stored bar time, or the zero time when the
// series is empty.
func (r *OHLCVRepository) LastBarTime(ctx context.Context, venue, symbol, timeframe string) (time.Time, error) {
	var candle model.OHLCV
	err := r.db.WithContext(ctx).
		Where("venue = ? AND symbol = ? AND timeframe = ?", venue, symbol, timeframe).
		Order("datetime DESC").
		First(&candle).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return candle.Datetime, nil
}
