package cacheclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/lib/clock"
	"github.com/anchel/voucher-seckill/lib/redislock"
	"github.com/anchel/voucher-seckill/lib/redisop"
	"github.com/anchel/voucher-seckill/obs"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound means the loader reported the entity absent, or an absent marker is cached.
var ErrNotFound = errors.New("cacheclient: not found")

const (
	DefaultTTL            = 30 * time.Minute
	DefaultNullTTL        = 2 * time.Minute
	DefaultLockTTL        = 10 * time.Second
	DefaultRetryBackoff   = 50 * time.Millisecond
	DefaultRebuildWorkers = 10
)

type Options struct {
	NullTTL        time.Duration
	LockTTL        time.Duration
	RetryBackoff   time.Duration
	RebuildWorkers int
}

func (o *Options) withDefaults() {
	if o.NullTTL <= 0 {
		o.NullTTL = DefaultNullTTL
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.RebuildWorkers <= 0 {
		o.RebuildWorkers = DefaultRebuildWorkers
	}
}

// RedisData is the stored shape of a logically expiring entry. It carries no Redis TTL.
type RedisData struct {
	Data       json.RawMessage `json:"data"`
	ExpireTime time.Time       `json:"expireTime"`
}

type Client struct {
	rdb     redis.Cmdable
	locker  *redislock.Locker
	clock   clock.Clock
	metrics *obs.Metrics
	opts    Options

	sf      singleflight.Group
	rebuild *errgroup.Group
}

func New(rdb redis.Cmdable, locker *redislock.Locker, clk clock.Clock, m *obs.Metrics, opts Options) *Client {
	opts.withDefaults()
	if clk == nil {
		clk = clock.NewSystem()
	}
	g := new(errgroup.Group)
	g.SetLimit(opts.RebuildWorkers)
	return &Client{
		rdb:     rdb,
		locker:  locker,
		clock:   clk,
		metrics: m,
		opts:    opts,
		rebuild: g,
	}
}

func (c *Client) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return redisop.Set(ctx, c.rdb, key, b, ttl)
}

func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	rd, err := json.Marshal(RedisData{Data: b, ExpireTime: c.clock.Now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return redisop.Set(ctx, c.rdb, key, rd, 0)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := redisop.Del(ctx, c.rdb, key)
	return err
}

// Wait blocks until in-flight logical expiry rebuilds finish.
func (c *Client) Wait() {
	_ = c.rebuild.Wait()
}

func (c *Client) setNull(ctx context.Context, key string) {
	if err := redisop.Set(ctx, c.rdb, key, "", c.opts.NullTTL); err != nil {
		log.Warn("cacheclient setNull", "key", key, "err", err)
	}
}

// readTTL returns found=false on a miss. found with a nil value is the absent marker.
func readTTL[T any](ctx context.Context, c *Client, key string) (*T, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if raw == "" {
		return nil, true, nil
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return &v, true, nil
}

func loadAndStore[T any, ID comparable](ctx context.Context, c *Client, key string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, error) {
	v, err := loader(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		c.setNull(ctx, key)
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		log.Warn("cacheclient loadAndStore Set", "key", key, "err", err)
	}
	return v, nil
}

// QueryWithPassThrough reads key prefix+id, loading on a miss and caching
// absent results as an empty string for the null TTL. A loader returning
// (nil, nil) reports the entity absent.
func QueryWithPassThrough[T any, ID comparable](ctx context.Context, c *Client, prefix string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, error) {
	key := prefix + fmt.Sprint(id)

	v, found, err := readTTL[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if found {
		if v == nil {
			c.metrics.CacheLookup("pass_through", "null")
			return nil, ErrNotFound
		}
		c.metrics.CacheLookup("pass_through", "hit")
		return v, nil
	}

	c.metrics.CacheLookup("pass_through", "miss")
	return loadAndStore(ctx, c, key, id, loader, ttl)
}

// QueryWithMutex rebuilds a missing entry under the distributed lock
// lock:{lockPrefix}{id}. Callers that lose the lock back off and re-read
// until the winner has written the entry or ctx ends.
func QueryWithMutex[T any, ID comparable](ctx context.Context, c *Client, prefix, lockPrefix string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, error) {
	key := prefix + fmt.Sprint(id)

	v, found, err := readTTL[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if found {
		if v == nil {
			c.metrics.CacheLookup("mutex", "null")
			return nil, ErrNotFound
		}
		c.metrics.CacheLookup("mutex", "hit")
		return v, nil
	}
	c.metrics.CacheLookup("mutex", "miss")

	// the shared rebuild outlives any single caller; each caller waits on its own ctx
	ch := c.sf.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*c.opts.LockTTL)
		defer cancel()
		return rebuildWithMutex(rctx, c, key, lockPrefix+fmt.Sprint(id), id, loader, ttl)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*T), nil
	}
}

func rebuildWithMutex[T any, ID comparable](ctx context.Context, c *Client, key, lockName string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, error) {
	for {
		v, done, err := tryRebuild(ctx, c, key, lockName, id, loader, ttl)
		if done || err != nil {
			return v, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryBackoff):
		}

		v, found, err := readTTL[T](ctx, c, key)
		if err != nil {
			return nil, err
		}
		if found {
			if v == nil {
				return nil, ErrNotFound
			}
			return v, nil
		}
	}
}

// tryRebuild reports done=false when another owner holds the lock.
func tryRebuild[T any, ID comparable](ctx context.Context, c *Client, key, lockName string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, bool, error) {
	lock := c.locker.NewLock(lockName)
	ok, err := lock.TryLock(ctx, c.opts.LockTTL)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("cacheclient tryRebuild Unlock", "key", lock.Key(), "err", err)
		}
	}()

	// another owner may have finished between our miss and the lock
	v, found, err := readTTL[T](ctx, c, key)
	if err != nil {
		return nil, true, err
	}
	if found {
		if v == nil {
			return nil, true, ErrNotFound
		}
		return v, true, nil
	}

	v, err = loadAndStore(ctx, c, key, id, loader, ttl)
	return v, true, err
}

// QueryWithLogicalExpire serves pre-warmed entries. Expired values are returned
// as is while one caller, holding lock:{lockPrefix}{id}, rebuilds the entry in
// the background worker pool.
func QueryWithLogicalExpire[T any, ID comparable](ctx context.Context, c *Client, prefix, lockPrefix string, id ID, loader func(context.Context, ID) (*T, error), ttl time.Duration) (*T, error) {
	key := prefix + fmt.Sprint(id)

	v, expire, err := readLogical[T](ctx, c, key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		c.metrics.CacheLookup("logical", "miss")
		return nil, ErrNotFound
	}
	if c.clock.Now().Before(expire) {
		c.metrics.CacheLookup("logical", "hit")
		return v, nil
	}
	c.metrics.CacheLookup("logical", "stale")

	lock := c.locker.NewLock(lockPrefix + fmt.Sprint(id))
	ok, err := lock.TryLock(ctx, c.opts.LockTTL)
	if err != nil {
		log.Warn("cacheclient QueryWithLogicalExpire TryLock", "key", lock.Key(), "err", err)
		return v, nil
	}
	if !ok {
		return v, nil
	}

	// a rebuild may have finished between our read and the lock
	cur, curExpire, err := readLogical[T](ctx, c, key)
	if err == nil && cur != nil && c.clock.Now().Before(curExpire) {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("cacheclient QueryWithLogicalExpire Unlock", "key", lock.Key(), "err", err)
		}
		return cur, nil
	}

	submitted := c.rebuild.TryGo(func() error {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.LockTTL)
		defer cancel()
		defer func() {
			if err := lock.Unlock(rctx); err != nil {
				log.Warn("cacheclient rebuild Unlock", "key", lock.Key(), "err", err)
			}
		}()

		fresh, err := loader(rctx, id)
		if err != nil {
			c.metrics.CacheRebuild("fail")
			log.Error("cacheclient rebuild loader", "key", key, "err", err)
			return nil
		}
		if fresh == nil {
			c.metrics.CacheRebuild("fail")
			log.Warn("cacheclient rebuild loader returned nothing", "key", key)
			return nil
		}
		if err := c.SetWithLogicalExpire(rctx, key, fresh, ttl); err != nil {
			c.metrics.CacheRebuild("fail")
			log.Error("cacheclient rebuild SetWithLogicalExpire", "key", key, "err", err)
			return nil
		}
		c.metrics.CacheRebuild("ok")
		return nil
	})
	if !submitted {
		c.metrics.CacheRebuild("rejected")
		log.Warn("cacheclient rebuild pool full", "key", key)
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.Warn("cacheclient QueryWithLogicalExpire Unlock", "key", lock.Key(), "err", err)
		}
	}

	return v, nil
}

func readLogical[T any](ctx context.Context, c *Client, key string) (*T, time.Time, error) {
	raw, err := redisop.Get(ctx, c.rdb, key, false)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("cache get %s: %w", key, err)
	}
	if raw == "" {
		return nil, time.Time{}, nil
	}
	var rd RedisData
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		return nil, time.Time{}, fmt.Errorf("cache decode %s: %w", key, err)
	}
	var v T
	if err := json.Unmarshal(rd.Data, &v); err != nil {
		return nil, time.Time{}, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return &v, rd.ExpireTime, nil
}
