package mysqldb

import (
	"time"

	"github.com/anchel/voucher-seckill/model"
)

type EntitySeckillVoucher struct {
	ID        int64
	Title     string
	Stock     int64
	BeginTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *EntitySeckillVoucher) toModel() *model.Voucher {
	return &model.Voucher{
		ID:        e.ID,
		Title:     e.Title,
		Stock:     e.Stock,
		BeginTime: e.BeginTime,
		EndTime:   e.EndTime,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

type EntityVoucherOrder struct {
	ID        int64
	UserID    int64
	VoucherID int64
	CreatedAt time.Time
}

func (e *EntityVoucherOrder) toModel() *model.Order {
	return &model.Order{
		ID:        e.ID,
		UserID:    e.UserID,
		VoucherID: e.VoucherID,
		CreatedAt: e.CreatedAt,
	}
}
