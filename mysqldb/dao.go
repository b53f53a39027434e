package mysqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.db, fn)
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) InsertVoucher(ctx context.Context, v model.Voucher) (int64, error) {
	now := time.Now().UTC()
	result, err := s.conn(ctx).ExecContext(ctx,
		"INSERT INTO seckill_voucher (title, stock, begin_time, end_time, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		v.Title, v.Stock, v.BeginTime, v.EndTime, now, now)
	if err != nil {
		log.Error("mysqldb dao InsertVoucher", "err", err)
		return 0, fmt.Errorf("insert voucher: %w", err)
	}
	return result.LastInsertId()
}

func (s *Store) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	var e EntitySeckillVoucher
	err := s.conn(ctx).QueryRowContext(ctx,
		"SELECT id, title, stock, begin_time, end_time, created_at, updated_at FROM seckill_voucher WHERE id = ?", id).
		Scan(&e.ID, &e.Title, &e.Stock, &e.BeginTime, &e.EndTime, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrVoucherNotFound
		}
		log.Error("mysqldb dao GetVoucher", "id", id, "err", err)
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return e.toModel(), nil
}

// UpdateVoucher never touches stock.
func (s *Store) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	result, err := s.conn(ctx).ExecContext(ctx,
		"UPDATE seckill_voucher SET title = ?, begin_time = ?, end_time = ?, updated_at = ? WHERE id = ?",
		v.Title, v.BeginTime, v.EndTime, time.Now().UTC(), v.ID)
	if err != nil {
		log.Error("mysqldb dao UpdateVoucher", "id", v.ID, "err", err)
		return fmt.Errorf("update voucher: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update voucher: %w", err)
	}
	if n == 0 {
		// MySQL reports 0 for unchanged rows as well
		if _, err := s.GetVoucher(ctx, v.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DecrementStockIfPositive(ctx context.Context, voucherID int64) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx,
		"UPDATE seckill_voucher SET stock = stock - 1 WHERE id = ? AND stock > 0", voucherID)
	if err != nil {
		log.Error("mysqldb dao DecrementStockIfPositive", "voucherID", voucherID, "err", err)
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return n == 1, nil
}

func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		"INSERT INTO voucher_order (id, user_id, voucher_id, created_at) VALUES (?, ?, ?, ?)",
		o.ID, o.UserID, o.VoucherID, o.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return model.ErrOrderConflict
		}
		log.Error("mysqldb dao InsertOrder", "orderID", o.ID, "err", err)
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := s.conn(ctx).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM voucher_order WHERE user_id = ? AND voucher_id = ?", userID, voucherID).Scan(&n)
	if err != nil {
		log.Error("mysqldb dao CountOrders", "userID", userID, "voucherID", voucherID, "err", err)
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	return s.queryOrder(ctx, "SELECT id, user_id, voucher_id, created_at FROM voucher_order WHERE id = ?", id)
}

func (s *Store) GetOrderByUser(ctx context.Context, userID, voucherID int64) (*model.Order, error) {
	return s.queryOrder(ctx,
		"SELECT id, user_id, voucher_id, created_at FROM voucher_order WHERE user_id = ? AND voucher_id = ?",
		userID, voucherID)
}

// queryOrder returns nil without error when no row matches.
func (s *Store) queryOrder(ctx context.Context, query string, args ...any) (*model.Order, error) {
	var e EntityVoucherOrder
	err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&e.ID, &e.UserID, &e.VoucherID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		log.Error("mysqldb dao queryOrder", "err", err)
		return nil, fmt.Errorf("get order: %w", err)
	}
	return e.toModel(), nil
}
