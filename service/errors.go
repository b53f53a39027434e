package service

import (
	"errors"

	"github.com/anchel/voucher-seckill/model"
)

var (
	// ErrStoreUnavailable is retryable: the shared store or its circuit breaker refused the call.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrLockBusy leaves the ticket pending for a later delivery.
	ErrLockBusy = errors.New("order lock busy")

	ErrVoucherNotFound = model.ErrVoucherNotFound
	ErrOrderConflict   = model.ErrOrderConflict
	ErrInvalidVoucher  = model.ErrInvalidVoucher
)
