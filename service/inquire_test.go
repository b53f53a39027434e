package service

import (
	"context"
	"testing"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResults map[int64]model.Outcome

func (f fakeResults) FindOutcome(_ context.Context, orderID int64) (model.Outcome, bool, error) {
	o, ok := f[orderID]
	return o, ok, nil
}

func runSubscriber(t *testing.T, e *testEnv) *Subscriber {
	t.Helper()
	sub := NewSubscriber(e.rdb)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = sub.Run(ctx) }()

	select {
	case <-sub.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("subscriber not ready")
	}
	return sub
}

// inquireAsync starts an inquiry and returns once its waiter is registered.
func inquireAsync(t *testing.T, sub *Subscriber, q *Inquirer, orderID, userID int64) <-chan InquireResult {
	t.Helper()
	out := make(chan InquireResult, 1)
	go func() {
		res, err := q.InquireOrder(context.Background(), orderID, userID)
		assert.NoError(t, err)
		out <- res
	}()
	eventually(t, func() bool {
		_, ok := sub.waiters.Load(orderID)
		return ok
	})
	return out
}

func TestInquireOrder_Persisted(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	vid := e.createVoucher(t, 1)

	require.NoError(t, e.store.InsertOrder(ctx, model.Order{ID: 5, UserID: 1, VoucherID: vid}))

	q := NewInquirer(e.store, nil, nil, time.Second)
	res, err := q.InquireOrder(ctx, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, InquireSuccess, res.Status)
	assert.Equal(t, int64(5), res.Order.ID)

	_, err = q.InquireOrder(ctx, 5, 2)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestInquireOrder_TimesOutQueueing(t *testing.T) {
	e := newTestEnv(t)
	sub := runSubscriber(t, e)

	q := NewInquirer(e.store, sub, nil, 50*time.Millisecond)
	res, err := q.InquireOrder(context.Background(), 99, 1)
	require.NoError(t, err)
	assert.Equal(t, InquireQueueing, res.Status)

	q = NewInquirer(e.store, nil, nil, 0)
	res, err = q.InquireOrder(context.Background(), 99, 1)
	require.NoError(t, err)
	assert.Equal(t, InquireQueueing, res.Status)
}

func TestInquireOrder_RecordedFailure(t *testing.T) {
	e := newTestEnv(t)
	q := NewInquirer(e.store, nil, fakeResults{7: model.SoldOut}, time.Second)

	res, err := q.InquireOrder(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, InquireFailed, res.Status)
}

func TestInquireOrder_WokenBySettlement(t *testing.T) {
	e := newTestEnv(t)
	e.handler = NewOrderHandler(e.store, e.rdb, e.locker, time.Second, e.clock, nil, NewRedisNotifier(e.rdb))
	sub := runSubscriber(t, e)
	ctx := context.Background()
	vid := e.createVoucher(t, 2)

	res, err := e.gate.Admit(ctx, vid, 1)
	require.NoError(t, err)

	q := NewInquirer(e.store, sub, nil, 3*time.Second)
	out := inquireAsync(t, sub, q, res.OrderID, 1)

	startPipeline(t, e.pipeline("c1", e.handler))

	select {
	case r := <-out:
		assert.Equal(t, InquireSuccess, r.Status)
		require.NotNil(t, r.Order)
		assert.Equal(t, vid, r.Order.VoucherID)
	case <-time.After(3 * time.Second):
		t.Fatal("inquiry not answered")
	}
	assert.GreaterOrEqual(t, sub.Received(), int64(1))
}

func TestInquireOrder_SoldOutSettlementFails(t *testing.T) {
	e := newTestEnv(t)
	e.handler = NewOrderHandler(e.store, e.rdb, e.locker, time.Second, e.clock, nil, NewRedisNotifier(e.rdb))
	sub := runSubscriber(t, e)
	ctx := context.Background()
	vid := e.createVoucher(t, 1)

	// durable stock drained behind the gate's back
	ok, err := e.store.DecrementStockIfPositive(ctx, vid)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := e.gate.Admit(ctx, vid, 1)
	require.NoError(t, err)
	require.Equal(t, model.Admitted, res.Status)

	q := NewInquirer(e.store, sub, nil, 3*time.Second)
	out := inquireAsync(t, sub, q, res.OrderID, 1)

	startPipeline(t, e.pipeline("c1", e.handler))

	select {
	case r := <-out:
		assert.Equal(t, InquireFailed, r.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("inquiry not answered")
	}
}
