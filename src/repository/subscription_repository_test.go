package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tradengine/src/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	return gdb, mock
}

func TestSubscriptionRepositoryFindActive(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SubscriptionRepository{db: mockDB}

	rows := sqlmock.NewRows([]string{"id", "venue", "symbol", "status", "cadence_seconds"}).
		AddRow(1, "binance", "BTCUSDT", model.SubscriptionStatusActive, 300).
		AddRow(2, "bybit", "ETHUSDT", model.SubscriptionStatusActive, 900)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE status = $1`)).
		WithArgs(model.SubscriptionStatusActive).
		WillReturnRows(rows)

	subs, err := repo.FindActive(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "binance", subs[0].Venue)
	require.Equal(t, "bybit", subs[1].Venue)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryFindByIDNotFound(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SubscriptionRepository{db: mockDB}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "subscriptions" WHERE "subscriptions"."id" = $1 ORDER BY "subscriptions"."id" LIMIT $2`)).
		WithArgs(99, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	sub, err := repo.FindByID(context.Background(), 99)
	require.NoError(t, err, "not-found must not be an error")
	require.Nil(t, sub)
}

func TestSubscriptionRepositoryUpdateStatus(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SubscriptionRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "subscriptions" SET "status"=$1,"updated_at"=$2 WHERE id = $3`)).
		WithArgs(model.SubscriptionStatusPaused, sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateStatus(context.Background(), 7, model.SubscriptionStatusPaused))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepositoryTouchLastExecution(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &SubscriptionRepository{db: mockDB}

	at := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "subscriptions" SET "last_execution_at"=$1,"updated_at"=$2 WHERE id = $3`)).
		WithArgs(at, sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.TouchLastExecution(context.Background(), 7, at))
}
