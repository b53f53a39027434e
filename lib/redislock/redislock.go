package redislock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const KeyPrefix = "lock:"

var (
	ErrBusy    = errors.New("redislock: lock is held by another owner")
	ErrNotHeld = errors.New("redislock: lock not held by this owner")
)

var (
	processID = uuid.NewString()
	sequence  atomic.Uint64
)

// unlock only when the stored token is ours
var unlockScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0
`)

// Lock is a non-reentrant lease on lock:{name}. A Lock value is used by one owner.
type Lock struct {
	rdb     redis.Cmdable
	key     string
	token   string
	metrics *obs.Metrics
}

func New(rdb redis.Cmdable, name string) *Lock {
	return &Lock{
		rdb:   rdb,
		key:   KeyPrefix + name,
		token: processID + "-" + strconv.FormatUint(sequence.Add(1), 10),
	}
}

func (l *Lock) Key() string {
	return l.key
}

func (l *Lock) Token() string {
	return l.token
}

// TryLock never blocks; false means another owner holds the lease.
func (l *Lock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := redisop.SetNX(ctx, l.rdb, l.key, l.token, ttl)
	if err != nil {
		l.metrics.Lock("acquire", "fail")
		return false, fmt.Errorf("try lock %s: %w", l.key, err)
	}
	if !ok {
		l.metrics.Lock("acquire", "busy")
		return false, nil
	}
	l.metrics.Lock("acquire", "success")
	return true, nil
}

// Unlock deletes the key only while it still carries this owner's token.
// ErrNotHeld is returned when the lease expired or was taken over.
func (l *Lock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		l.metrics.Lock("release", "fail")
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	if n == 0 {
		l.metrics.Lock("release", "busy")
		return ErrNotHeld
	}
	l.metrics.Lock("release", "success")
	return nil
}

// Locker builds locks sharing one client and metrics sink.
type Locker struct {
	rdb     redis.Cmdable
	metrics *obs.Metrics
}

func NewLocker(rdb redis.Cmdable, m *obs.Metrics) *Locker {
	return &Locker{rdb: rdb, metrics: m}
}

func (lk *Locker) NewLock(name string) *Lock {
	l := New(lk.rdb, name)
	l.metrics = lk.metrics
	return l
}

// WithLock runs fn while holding lock:{name}. It returns ErrBusy without
// running fn when the lock is taken. The lock is released on every path.
func (lk *Locker) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	l := lk.NewLock(name)
	ok, err := l.TryLock(ctx, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBusy
	}

	defer func() {
		if uerr := l.Unlock(context.WithoutCancel(ctx)); uerr != nil {
			log.Warn("redislock WithLock Unlock", "key", l.key, "err", uerr)
		}
	}()

	return fn(ctx)
}
