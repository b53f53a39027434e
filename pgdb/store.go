package pgdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

const schema = `
CREATE TABLE IF NOT EXISTS seckill_voucher (
	id BIGSERIAL PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	stock BIGINT NOT NULL CHECK (stock >= 0),
	begin_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS voucher_order (
	id BIGINT PRIMARY KEY,
	user_id BIGINT NOT NULL,
	voucher_id BIGINT NOT NULL REFERENCES seckill_voucher(id),
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, voucher_id)
);`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *Store) InsertVoucher(ctx context.Context, v model.Voucher) (int64, error) {
	const stmt = `
INSERT INTO seckill_voucher (title, stock, begin_time, end_time)
VALUES ($1, $2, $3, $4)
RETURNING id`

	var id int64
	if err := s.queryRow(ctx, stmt, v.Title, v.Stock, v.BeginTime, v.EndTime).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert voucher: %w", err)
	}
	return id, nil
}

func (s *Store) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	const query = `
SELECT id, title, stock, begin_time, end_time, created_at, updated_at
FROM seckill_voucher
WHERE id = $1`

	var v model.Voucher
	err := s.queryRow(ctx, query, id).
		Scan(&v.ID, &v.Title, &v.Stock, &v.BeginTime, &v.EndTime, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	return &v, nil
}

func (s *Store) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	const stmt = `
UPDATE seckill_voucher
SET title = $2, begin_time = $3, end_time = $4, updated_at = $5
WHERE id = $1`

	tag, err := s.exec(ctx, stmt, v.ID, v.Title, v.BeginTime, v.EndTime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update voucher: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrVoucherNotFound
	}
	return nil
}

func (s *Store) DecrementStockIfPositive(ctx context.Context, voucherID int64) (bool, error) {
	const stmt = `UPDATE seckill_voucher SET stock = stock - 1 WHERE id = $1 AND stock > 0`

	tag, err := s.exec(ctx, stmt, voucherID)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) InsertOrder(ctx context.Context, o model.Order) error {
	const stmt = `
INSERT INTO voucher_order (id, user_id, voucher_id, created_at)
VALUES ($1, $2, $3, $4)`

	_, err := s.exec(ctx, stmt, o.ID, o.UserID, o.VoucherID, o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrOrderConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	const query = `SELECT COUNT(*) FROM voucher_order WHERE user_id = $1 AND voucher_id = $2`

	var n int64
	if err := s.queryRow(ctx, query, userID, voucherID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	const query = `SELECT id, user_id, voucher_id, created_at FROM voucher_order WHERE id = $1`
	return s.scanOrder(s.queryRow(ctx, query, id))
}

func (s *Store) GetOrderByUser(ctx context.Context, userID, voucherID int64) (*model.Order, error) {
	const query = `
SELECT id, user_id, voucher_id, created_at
FROM voucher_order
WHERE user_id = $1 AND voucher_id = $2`
	return s.scanOrder(s.queryRow(ctx, query, userID, voucherID))
}

func (s *Store) scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(&o.ID, &o.UserID, &o.VoucherID, &o.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}
