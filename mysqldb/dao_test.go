package mysqldb

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/anchel/voucher-seckill/model"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestDecrementStockIfPositive(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	q := regexp.QuoteMeta("UPDATE seckill_voucher SET stock = stock - 1 WHERE id = ? AND stock > 0")

	mock.ExpectExec(q).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.DecrementStockIfPositive(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(q).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.DecrementStockIfPositive(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertOrder_DuplicateEntryIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	order := model.Order{ID: 11, UserID: 1, VoucherID: 2, CreatedAt: time.Now()}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO voucher_order")).
		WithArgs(order.ID, order.UserID, order.VoucherID, order.CreatedAt).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := s.InsertOrder(context.Background(), order)
	assert.ErrorIs(t, err, model.ErrOrderConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx(t *testing.T) {
	t.Run("commits and routes statements through the tx", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM voucher_order")).
			WithArgs(int64(1), int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectCommit()

		err := s.WithTx(context.Background(), func(ctx context.Context) error {
			n, err := s.CountOrders(ctx, 1, 2)
			assert.Equal(t, int64(0), n)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.WithTx(context.Background(), func(ctx context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested call joins the outer tx", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := s.WithTx(context.Background(), func(ctx context.Context) error {
			return s.WithTx(ctx, func(context.Context) error { return nil })
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetVoucher(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	q := regexp.QuoteMeta("SELECT id, title, stock, begin_time, end_time, created_at, updated_at FROM seckill_voucher WHERE id = ?")
	begin := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q).WithArgs(int64(5)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "title", "stock", "begin_time", "end_time", "created_at", "updated_at"}).
			AddRow(5, "half price", 100, begin, begin.Add(time.Hour), begin, begin))
	v, err := s.GetVoucher(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Stock)
	assert.Equal(t, "half price", v.Title)

	mock.ExpectQuery(q).WithArgs(int64(6)).WillReturnRows(
		sqlmock.NewRows([]string{"id", "title", "stock", "begin_time", "end_time", "created_at", "updated_at"}))
	_, err = s.GetVoucher(ctx, 6)
	assert.ErrorIs(t, err, model.ErrVoucherNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertVoucher(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO seckill_voucher")).
		WillReturnResult(sqlmock.NewResult(42, 1))

	id, err := s.InsertVoucher(context.Background(), model.Voucher{Title: "t", Stock: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestGetOrderByUser_AbsentIsNil(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM voucher_order WHERE user_id = ? AND voucher_id = ?")).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "voucher_id", "created_at"}))

	o, err := s.GetOrderByUser(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS seckill_voucher").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS voucher_order").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
