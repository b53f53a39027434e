package model

import "time"

type Voucher struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Stock     int64     `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Order is created once by the order pipeline and never modified.
type Order struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	VoucherID int64     `json:"voucher_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Ticket is an admitted purchase intent waiting in the order stream.
type Ticket struct {
	OrderID    int64             `json:"order_id"`
	UserID     int64             `json:"user_id"`
	VoucherID  int64             `json:"voucher_id"`
	AdmittedAt int64             `json:"admitted_at"`
	Trace      map[string]string `json:"trace,omitempty"`
}
