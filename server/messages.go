package server

import (
	"time"

	"github.com/anchel/voucher-seckill/model"
)

// Times travel as unix milliseconds.

type Voucher struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Stock     int64  `json:"stock"`
	BeginTime int64  `json:"begin_time"`
	EndTime   int64  `json:"end_time"`
}

type Order struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	VoucherID int64 `json:"voucher_id"`
	CreatedAt int64 `json:"created_at"`
}

type CreateVoucherRequest struct {
	Title     string `json:"title"`
	Stock     int64  `json:"stock"`
	BeginTime int64  `json:"begin_time"`
	EndTime   int64  `json:"end_time"`
}

type CreateVoucherResponse struct {
	ID int64 `json:"id"`
}

type GetVoucherRequest struct {
	ID int64 `json:"id"`
	// Hot reads the logically expiring entry written by a warm-up.
	Hot bool `json:"hot,omitempty"`
}

type GetVoucherResponse struct {
	Voucher *Voucher `json:"voucher"`
}

type UpdateVoucherRequest struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	BeginTime int64  `json:"begin_time"`
	EndTime   int64  `json:"end_time"`
}

type UpdateVoucherResponse struct{}

type AdmitRequest struct {
	VoucherID int64 `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
}

type AdmitResponse struct {
	Status  string `json:"status"`
	OrderID int64  `json:"order_id,omitempty"`
}

type InquireOrderRequest struct {
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

type InquireOrderResponse struct {
	Status string `json:"status"`
	Order  *Order `json:"order,omitempty"`
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toVoucher(v *model.Voucher) *Voucher {
	return &Voucher{
		ID:        v.ID,
		Title:     v.Title,
		Stock:     v.Stock,
		BeginTime: v.BeginTime.UnixMilli(),
		EndTime:   v.EndTime.UnixMilli(),
	}
}

func toOrder(o *model.Order) *Order {
	if o == nil {
		return nil
	}
	return &Order{
		ID:        o.ID,
		UserID:    o.UserID,
		VoucherID: o.VoucherID,
		CreatedAt: o.CreatedAt.UnixMilli(),
	}
}
