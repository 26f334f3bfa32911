package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"tradengine/src/model"
)

func TestOrderRepositoryFindByClientOrderID(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	rows := sqlmock.NewRows([]string{"id", "symbol", "client_order_id", "status"}).
		AddRow(4, "BTCUSDT", "tok-42", model.OrderStatusSubmitted)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE client_order_id = $1 ORDER BY "orders"."id" LIMIT $2`)).
		WithArgs("tok-42", 1).
		WillReturnRows(rows)

	order, err := repo.FindByClientOrderID(context.Background(), "tok-42")
	require.NoError(t, err)
	require.NotNil(t, order)
	require.Equal(t, "tok-42", order.ClientOrderID)

	// Unknown token is (nil, nil), not an error.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE client_order_id = $1 ORDER BY "orders"."id" LIMIT $2`)).
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err = repo.FindByClientOrderID(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, order)
}

func TestOrderRepositoryMarkStatusAppendsLog(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	order := &model.Order{ID: 4, Symbol: "BTCUSDT", Side: "buy", OrderType: "market", VenueOrderID: "v-1"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "order_logs"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkStatus(context.Background(), order, model.OrderStatusFilled, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}
