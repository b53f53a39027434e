package idworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/redis/go-redis/v9"
)

const (
	// 2022-01-01T00:00:00Z
	BeginTimestamp int64 = 1640995200
	CountBits            = 32
)

var ErrStoreUnavailable = errors.New("idworker: store unavailable")

// Worker hands out ids of the form (seconds since BeginTimestamp) << 32 | daily counter.
type Worker struct {
	rdb   redis.Cmdable
	clock clock.Clock
}

func New(rdb redis.Cmdable, clk clock.Clock) *Worker {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Worker{rdb: rdb, clock: clk}
}

func (w *Worker) NextID(ctx context.Context, namespace string) (int64, error) {
	now := w.clock.Now().UTC()
	ts := now.Unix() - BeginTimestamp

	key := CounterKey(namespace, now)
	count, err := redisop.Incr(ctx, w.rdb, key)
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrStoreUnavailable, key, err)
	}

	return ts<<CountBits | count, nil
}

func CounterKey(namespace string, t time.Time) string {
	return fmt.Sprintf("icr:%s:%s", namespace, t.UTC().Format("20060102"))
}

// Split returns the second an id was issued at and its daily sequence number.
func Split(id int64) (time.Time, int64) {
	ts := id >> CountBits
	seq := id & (1<<CountBits - 1)
	return time.Unix(ts+BeginTimestamp, 0).UTC(), seq
}
