package service

import (
	"context"

	"github.com/anchel/voucher-seckill/model"
)

// OrderStore is the durable storage of vouchers and orders. Methods called
// with the ctx handed to a WithTx callback run inside that transaction.
type OrderStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InsertOrder returns model.ErrOrderConflict when the order id or the
	// (user, voucher) pair is already stored.
	InsertOrder(ctx context.Context, order model.Order) error
	CountOrders(ctx context.Context, userID, voucherID int64) (int64, error)
	// DecrementStockIfPositive reports false when no stock was left.
	DecrementStockIfPositive(ctx context.Context, voucherID int64) (bool, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByUser(ctx context.Context, userID, voucherID int64) (*model.Order, error)

	InsertVoucher(ctx context.Context, v model.Voucher) (int64, error)
	GetVoucher(ctx context.Context, id int64) (*model.Voucher, error)
	UpdateVoucher(ctx context.Context, v model.Voucher) error
}
