package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/anchel/voucher-seckill/lib/cacheclient"
	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/idworker"
	"github.com/anchel/voucher-seckill/lib/redislock"
	"github.com/anchel/voucher-seckill/memstore"
	"github.com/anchel/voucher-seckill/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	clock    *clock.Manual
	store    *memstore.Store
	locker   *redislock.Locker
	cache    *cacheclient.Client
	vouchers *VoucherService
	gate     *Gate
	handler  *OrderHandler
}

func newTestEnv(t *testing.T, sinks ...SettlementSink) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := memstore.New(clk)
	locker := redislock.NewLocker(rdb, nil)
	cache := cacheclient.New(rdb, locker, clk, nil, cacheclient.Options{RetryBackoff: 5 * time.Millisecond})
	vouchers := NewVoucherService(store, rdb, cache, NewWindowCache(), clk, time.Minute)

	return &testEnv{
		mr:       mr,
		rdb:      rdb,
		clock:    clk,
		store:    store,
		locker:   locker,
		cache:    cache,
		vouchers: vouchers,
		gate:     NewGate(rdb, idworker.New(rdb, clk), vouchers, clk, nil),
		handler:  NewOrderHandler(store, rdb, locker, time.Second, clk, nil, sinks...),
	}
}

// createVoucher adds a voucher whose sale window contains the env clock.
func (e *testEnv) createVoucher(t *testing.T, stock int64) int64 {
	t.Helper()
	now := e.clock.Now()
	id, err := e.vouchers.CreateVoucher(context.Background(), model.Voucher{
		Title:     "flash",
		Stock:     stock,
		BeginTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	})
	require.NoError(t, err)
	return id
}

func (e *testEnv) redisStock(t *testing.T, voucherID int64) string {
	t.Helper()
	v, err := e.mr.Get(StockKey(voucherID))
	require.NoError(t, err)
	return v
}

func (e *testEnv) durableStock(t *testing.T, voucherID int64) int64 {
	t.Helper()
	v, err := e.store.GetVoucher(context.Background(), voucherID)
	require.NoError(t, err)
	return v.Stock
}

func (e *testEnv) pipeline(consumer string, h TicketHandler) *Pipeline {
	return NewPipeline(e.rdb, h, PipelineOptions{
		Consumer:        consumer,
		Block:           50 * time.Millisecond,
		RecoveryBackoff: 5 * time.Millisecond,
	}, nil)
}

// startPipeline runs p in the background until the returned stop is called.
func startPipeline(t *testing.T, p *Pipeline) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			t.Errorf("pipeline run: %v", err)
		}
	}()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	t.Cleanup(stop)
	return stop
}

// pendingCount returns -1 until the consumer group exists.
func (e *testEnv) pendingCount(t *testing.T) int64 {
	t.Helper()
	p, err := e.rdb.XPending(context.Background(), StreamOrders, DefaultStreamGroup).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return -1
		}
		t.Errorf("xpending: %v", err)
		return -1
	}
	return p.Count
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 10*time.Millisecond)
}
