package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anchel/voucher-seckill/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler func(ctx context.Context, streamID string, t model.Ticket) (model.Outcome, error)

func (f funcHandler) Handle(ctx context.Context, streamID string, t model.Ticket) (model.Outcome, error) {
	return f(ctx, streamID, t)
}

func TestPipeline_PersistsAdmittedTickets(t *testing.T) {
	e := newTestEnv(t)
	vid := e.createVoucher(t, 20)
	ctx := context.Background()

	startPipeline(t, e.pipeline("c1", e.handler))

	want := map[int64]int64{}
	for u := range 15 {
		res, err := e.gate.Admit(ctx, vid, int64(u+1))
		require.NoError(t, err)
		require.Equal(t, model.Admitted, res.Status)
		want[res.OrderID] = int64(u + 1)
	}

	eventually(t, func() bool { return len(e.store.Orders(vid)) == 15 })
	eventually(t, func() bool { return e.pendingCount(t) == 0 })

	for _, o := range e.store.Orders(vid) {
		assert.Equal(t, want[o.ID], o.UserID)
	}
	assert.Equal(t, int64(5), e.durableStock(t, vid))
	assert.Equal(t, "5", e.redisStock(t, vid))
}

func TestPipeline_RecoversUnackedEntriesAfterCrash(t *testing.T) {
	e := newTestEnv(t)
	vid := e.createVoucher(t, 5)
	ctx := context.Background()

	require.NoError(t, e.rdb.XGroupCreateMkStream(ctx, StreamOrders, DefaultStreamGroup, "0").Err())
	for u := range 3 {
		res, err := e.gate.Admit(ctx, vid, int64(u+1))
		require.NoError(t, err)
		require.Equal(t, model.Admitted, res.Status)
	}

	// a consumer reads the entries and dies before acknowledging them
	streams, err := e.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    DefaultStreamGroup,
		Consumer: "c1",
		Streams:  []string{StreamOrders, ">"},
		Count:    10,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams[0].Messages, 3)
	assert.Equal(t, int64(3), e.pendingCount(t))

	startPipeline(t, e.pipeline("c1", e.handler))

	eventually(t, func() bool { return e.pendingCount(t) == 0 })
	assert.Len(t, e.store.Orders(vid), 3)
	assert.Equal(t, int64(2), e.durableStock(t, vid))
}

func TestPipeline_ReplayedEntryIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	vid := e.createVoucher(t, 5)
	ctx := context.Background()

	res, err := e.gate.Admit(ctx, vid, 1)
	require.NoError(t, err)

	// the first delivery persisted the order but the ack was lost
	tk := model.Ticket{OrderID: res.OrderID, UserID: 1, VoucherID: vid}
	out, err := e.handler.Handle(ctx, "x", tk)
	require.NoError(t, err)
	require.Equal(t, model.Persisted, out)

	var (
		mu       sync.Mutex
		outcomes []model.Outcome
	)
	h := funcHandler(func(ctx context.Context, id string, t model.Ticket) (model.Outcome, error) {
		out, err := e.handler.Handle(ctx, id, t)
		mu.Lock()
		outcomes = append(outcomes, out)
		mu.Unlock()
		return out, err
	})
	startPipeline(t, e.pipeline("c1", h))

	eventually(t, func() bool { return e.pendingCount(t) == 0 })
	mu.Lock()
	assert.Equal(t, []model.Outcome{model.Replayed}, outcomes)
	mu.Unlock()
	assert.Len(t, e.store.Orders(vid), 1)
	assert.Equal(t, int64(4), e.durableStock(t, vid))
}

func TestPipeline_LockBusyKeepsEntryPending(t *testing.T) {
	e := newTestEnv(t)
	vid := e.createVoucher(t, 5)
	ctx := context.Background()

	held := e.locker.NewLock("order:1")
	ok, err := held.TryLock(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)

	stop := startPipeline(t, e.pipeline("c1", e.handler))

	_, err = e.gate.Admit(ctx, vid, 1)
	require.NoError(t, err)

	eventually(t, func() bool { return e.pendingCount(t) == 1 })
	assert.Empty(t, e.store.Orders(vid))

	require.NoError(t, held.Unlock(ctx))
	eventually(t, func() bool { return len(e.store.Orders(vid)) == 1 })
	eventually(t, func() bool { return e.pendingCount(t) == 0 })
	stop()
}

func TestPipeline_MalformedEntryIsAcked(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	h := funcHandler(func(context.Context, string, model.Ticket) (model.Outcome, error) {
		calls.Add(1)
		return model.Persisted, nil
	})
	startPipeline(t, e.pipeline("c1", h))

	require.NoError(t, e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamOrders,
		Values: map[string]any{"userId": "not-a-number", "voucherId": "1", "id": "1"},
	}).Err())
	require.NoError(t, e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamOrders,
		Values: map[string]any{"userId": "1", "voucherId": "1", "id": "2"},
	}).Err())

	eventually(t, func() bool { return calls.Load() == 1 })
	eventually(t, func() bool { return e.pendingCount(t) == 0 })
}

func TestPipeline_HandlerPanicIsRetried(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	h := funcHandler(func(context.Context, string, model.Ticket) (model.Outcome, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return model.Persisted, nil
	})
	startPipeline(t, e.pipeline("c1", h))

	require.NoError(t, e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamOrders,
		Values: map[string]any{"userId": "1", "voucherId": "1", "id": "1"},
	}).Err())

	eventually(t, func() bool { return calls.Load() >= 2 })
	eventually(t, func() bool { return e.pendingCount(t) == 0 })
}

func TestPipeline_HandlerErrorIsRetried(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	h := funcHandler(func(context.Context, string, model.Ticket) (model.Outcome, error) {
		if calls.Add(1) <= 3 {
			return model.OutcomeUnknown, errors.New("db down")
		}
		return model.Persisted, nil
	})
	startPipeline(t, e.pipeline("c1", h))

	require.NoError(t, e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamOrders,
		Values: map[string]any{"userId": "1", "voucherId": "1", "id": "1"},
	}).Err())

	eventually(t, func() bool { return calls.Load() == 4 })
	eventually(t, func() bool { return e.pendingCount(t) == 0 })
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	p := e.pipeline("c1", e.handler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	eventually(t, func() bool {
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	})
}

func TestPipeline_CancelledBeforeStartIsClean(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, e.pipeline("c1", e.handler).Run(ctx))
}

func TestPipeline_PendingCountBeforeGroup(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, int64(-1), e.pendingCount(t))

	require.NoError(t, e.rdb.XGroupCreateMkStream(context.Background(), StreamOrders, DefaultStreamGroup, "0").Err())
	assert.Equal(t, int64(0), e.pendingCount(t))
}
