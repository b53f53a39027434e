package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/lib/cacheclient"
	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

type VoucherService struct {
	store  OrderStore
	rdb    redis.Cmdable
	cache  *cacheclient.Client
	window *WindowCache
	clock  clock.Clock
	ttl    time.Duration
}

func NewVoucherService(store OrderStore, rdb redis.Cmdable, cache *cacheclient.Client, window *WindowCache, clk clock.Clock, ttl time.Duration) *VoucherService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if window == nil {
		window = NewWindowCache()
	}
	if ttl <= 0 {
		ttl = cacheclient.DefaultTTL
	}
	return &VoucherService{store: store, rdb: rdb, cache: cache, window: window, clock: clk, ttl: ttl}
}

func (s *VoucherService) validate(v model.Voucher) error {
	if v.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidVoucher)
	}
	if v.BeginTime.IsZero() || v.EndTime.IsZero() {
		return fmt.Errorf("%w: begin_time and end_time are required", ErrInvalidVoucher)
	}
	if !v.EndTime.After(v.BeginTime) {
		return fmt.Errorf("%w: end_time must be after begin_time", ErrInvalidVoucher)
	}
	return nil
}

// CreateVoucher persists the voucher and seeds its admission stock counter.
func (s *VoucherService) CreateVoucher(ctx context.Context, v model.Voucher) (int64, error) {
	if err := s.validate(v); err != nil {
		return 0, err
	}
	if !v.EndTime.After(s.clock.Now()) {
		return 0, fmt.Errorf("%w: end_time is in the past", ErrInvalidVoucher)
	}

	id, err := s.store.InsertVoucher(ctx, v)
	if err != nil {
		log.Error("CreateVoucher store.InsertVoucher", "err", err)
		return 0, err
	}

	if err := redisop.Set(ctx, s.rdb, StockKey(id), v.Stock, 0); err != nil {
		log.Error("CreateVoucher seed stock", "voucherID", id, "err", err)
		return 0, fmt.Errorf("%w: seed stock: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

func (s *VoucherService) loadVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	v, err := s.store.GetVoucher(ctx, id)
	if errors.Is(err, ErrVoucherNotFound) {
		return nil, nil
	}
	return v, err
}

// GetVoucher reads through the TTL cache, rebuilding misses under the voucher mutex.
func (s *VoucherService) GetVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	v, err := cacheclient.QueryWithMutex(ctx, s.cache, voucherCachePrefix, voucherLockPrefix, id, s.loadVoucher, s.ttl)
	if errors.Is(err, cacheclient.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	return v, err
}

// WarmVoucher writes a logically expiring entry for a hot voucher.
func (s *VoucherService) WarmVoucher(ctx context.Context, id int64, ttl time.Duration) error {
	v, err := s.store.GetVoucher(ctx, id)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.cache.SetWithLogicalExpire(ctx, voucherHotPrefix+fmt.Sprint(id), v, ttl)
}

// GetHotVoucher serves a warmed voucher, possibly stale, without blocking.
func (s *VoucherService) GetHotVoucher(ctx context.Context, id int64) (*model.Voucher, error) {
	v, err := cacheclient.QueryWithLogicalExpire(ctx, s.cache, voucherHotPrefix, voucherLockPrefix+"hot:", id, s.loadVoucher, s.ttl)
	if errors.Is(err, cacheclient.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	return v, err
}

// UpdateVoucher changes title and sale window. Stock belongs to the order pipeline.
func (s *VoucherService) UpdateVoucher(ctx context.Context, v model.Voucher) error {
	if err := s.validate(v); err != nil {
		return err
	}
	if err := s.store.UpdateVoucher(ctx, v); err != nil {
		return err
	}

	s.window.Delete(v.ID)
	if err := s.cache.Delete(ctx, voucherCachePrefix+fmt.Sprint(v.ID)); err != nil {
		log.Warn("UpdateVoucher cache.Delete", "voucherID", v.ID, "err", err)
	}

	hot := voucherHotPrefix + fmt.Sprint(v.ID)
	n, err := s.rdb.Exists(ctx, hot).Result()
	if err != nil {
		log.Warn("UpdateVoucher Exists", "key", hot, "err", err)
		return nil
	}
	if n > 0 {
		if err := s.WarmVoucher(ctx, v.ID, 0); err != nil {
			log.Warn("UpdateVoucher WarmVoucher", "voucherID", v.ID, "err", err)
		}
	}
	return nil
}

func (s *VoucherService) lookupWindow(ctx context.Context, id int64) (*LocalCacheVoucher, error) {
	if w, ok := s.window.Load(id); ok {
		return w, nil
	}

	v, err := s.GetHotVoucher(ctx, id)
	if errors.Is(err, ErrVoucherNotFound) {
		v, err = s.GetVoucher(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return s.window.Store(v), nil
}

// CheckWindow returns NotStarted or Ended outside the sale window and
// AdmitUnknown when admission may proceed.
func (s *VoucherService) CheckWindow(ctx context.Context, voucherID int64) (model.AdmitStatus, error) {
	w, err := s.lookupWindow(ctx, voucherID)
	if err != nil {
		if errors.Is(err, ErrVoucherNotFound) {
			return model.AdmitUnknown, err
		}
		return model.AdmitUnknown, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.clock.Now()
	if now.Before(w.BeginTime) {
		return model.NotStarted, nil
	}
	if now.After(w.EndTime) {
		return model.Ended, nil
	}
	return model.AdmitUnknown, nil
}
