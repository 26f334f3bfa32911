// OHLCV BACKFILL
// Pulls candle history from Binance spot and upserts it into the ohlcv
// table so signal producers have warm-up data on a fresh deployment.
package backfill

import (
	"context"
	"net/http"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradengine/src/model"
	"tradengine/src/repository"
)

const (
	Duration1m = "1m"
	Duration1h = "1h"
	Duration4h = "4h"
	Duration1d = "1d"
)

const sourceVenue = "binance"

type Backfill struct {
	Log      *logger.Entry
	Repo     *repository.OHLCVRepository
	Config   *Config
	exchange goex.API
}

func (b *Backfill) Start() error {
	b.Config = GetConfig()
	b.exchange = b.newBinanceInstance()

	ctx := context.Background()

	if b.Config.AutoMode {
		if err := b.determineStartPoint(ctx); err != nil {
			return err
		}
	}

	return b.aggregateAndSave(ctx)
}

func (*Backfill) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

func (b *Backfill) symbol() string {
	return b.Config.Symbol + b.Config.Quote
}

func (b *Backfill) aggregateAndSave(ctx context.Context) error {
	series, err := b.fetchOHLCVSeries()
	if err != nil {
		return err
	}

	candles := make([]model.OHLCV, 0, len(series))
	for i := range series {
		result := series[i]
		candles = append(candles, model.OHLCV{
			Venue:     sourceVenue,
			Symbol:    b.symbol(),
			Timeframe: b.Config.DurationStr,
			Datetime:  time.Unix(result.Timestamp, 0).UTC(),
			Open:      decimal.NewFromFloat(result.Open),
			High:      decimal.NewFromFloat(result.High),
			Low:       decimal.NewFromFloat(result.Low),
			Close:     decimal.NewFromFloat(result.Close),
			Volume:    decimal.NewFromFloat(result.Vol),
		})
	}

	if err := b.Repo.UpsertBatch(ctx, candles); err != nil {
		b.Log.WithError(err).Error("aggregateAndSave, UpsertBatch")
		return err
	}

	b.Log.WithFields(logger.Fields{
		"Symbol":    b.symbol(),
		"Timeframe": b.Config.DurationStr,
		"Count":     len(candles),
	}).Info("OHLCV data inserted or updated in database")

	return nil
}

// determineStartPoint resumes one interval before the newest stored bar so
// a partially-written last candle gets overwritten by the upsert.
func (b *Backfill) determineStartPoint(ctx context.Context) error {
	b.Config.StartDt = b.Config.StartDt.Add(-b.parseDuration())
	b.Config.EndDt = time.Now()

	latest, err := b.Repo.LastBarTime(ctx, sourceVenue, b.symbol(), b.Config.DurationStr)
	if err != nil {
		b.Log.WithError(err).Error("Failed to query latest datetime")
		return err
	}

	if latest.IsZero() {
		b.Log.
			WithField("StartDt", b.Config.StartDt.String()).
			WithField("EndDt", b.Config.EndDt.String()).
			Info("determineStartPoint no records found, start from the configured StartDt")
		return nil
	}

	b.Config.StartDt = latest.Add(-b.parseDuration())
	b.Log.
		WithField("StartDt", b.Config.StartDt.String()).
		WithField("EndDt", b.Config.EndDt.String()).
		Info("determineStartPoint valid date found")

	return nil
}

func (b *Backfill) fetchOHLCVSeries() ([]goex.Kline, error) {
	targetSymbol := goex.NewCurrencyPair(
		goex.Currency{Symbol: b.Config.Symbol},
		goex.Currency{Symbol: b.Config.Quote},
	)

	const millis = 1000
	klines, err := b.exchange.GetKlineRecords(
		targetSymbol,
		b.parseDurationToGoex(),
		b.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", b.Config.StartDt.Unix()*millis).
			Optional("endTime", b.Config.EndDt.Unix()*millis),
	)
	if err != nil {
		return nil, err
	}

	return klines, nil
}

func (b *Backfill) parseDuration() time.Duration {
	switch b.Config.DurationStr {
	case Duration1m:
		return time.Minute
	case Duration1h:
		return time.Hour
	case Duration4h:
		return 4 * time.Hour
	case Duration1d:
		return 24 * time.Hour
	default:
		panic("invalid DURATION env var")
	}
}

func (b *Backfill) parseDurationToGoex() goex.KlinePeriod {
	switch b.Config.DurationStr {
	case Duration1m:
		return goex.KLINE_PERIOD_1MIN
	case Duration1h:
		return goex.KLINE_PERIOD_1H
	case Duration4h:
		return goex.KLINE_PERIOD_4H
	case Duration1d:
		return goex.KLINE_PERIOD_1DAY
	default:
		panic("invalid DURATION env var")
	}
}
