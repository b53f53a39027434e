package service

import (
	"context"
	"sync"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
)

// WindowCache keeps the sale window of vouchers in process memory. It is
// cleared periodically, which bounds staleness after updates made by other
// instances.
type WindowCache struct {
	m sync.Map
}

type LocalCacheVoucher struct {
	ID        int64
	BeginTime time.Time
	EndTime   time.Time
}

func NewWindowCache() *WindowCache {
	return &WindowCache{}
}

func (w *WindowCache) Load(voucherID int64) (*LocalCacheVoucher, bool) {
	v, ok := w.m.Load(voucherID)
	if !ok {
		return nil, false
	}
	return v.(*LocalCacheVoucher), true
}

// Store caches the window of v and returns the cached entry.
func (w *WindowCache) Store(v *model.Voucher) *LocalCacheVoucher {
	lv := &LocalCacheVoucher{ID: v.ID, BeginTime: v.BeginTime, EndTime: v.EndTime}
	w.m.Store(v.ID, lv)
	return lv
}

func (w *WindowCache) Delete(voucherID int64) {
	w.m.Delete(voucherID)
}

func (w *WindowCache) Clear() {
	w.m.Clear()
}

// Run clears the cache every interval until ctx ends.
func (w *WindowCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("clear local voucher window cache")
			w.Clear()
		}
	}
}
