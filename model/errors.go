package model

import "errors"

var (
	ErrVoucherNotFound = errors.New("voucher not found")
	ErrOrderConflict   = errors.New("order already exists")
	ErrInvalidVoucher  = errors.New("invalid voucher")
)
