package redisop

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Get returns redis.Nil for a missing key only when nilIsError is set;
// otherwise a missing key reads as "".
func Get(ctx context.Context, rdb redis.Cmdable, key string, nilIsError bool) (string, error) {
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) && !nilIsError {
			return "", nil
		}
		log.Debug("redisop Get", "key", key, "err", err)
		return "", err
	}
	return val, nil
}

func Del(ctx context.Context, rdb redis.Cmdable, keys ...string) (int64, error) {
	val, err := rdb.Del(ctx, keys...).Result()
	if err != nil {
		log.Debug("redisop Del", "keys", keys, "err", err)
		return 0, err
	}
	return val, nil
}

func Set(ctx context.Context, rdb redis.Cmdable, key string, value any, expiration time.Duration) error {
	_, err := rdb.Set(ctx, key, value, expiration).Result()
	if err != nil {
		log.Debug("redisop Set", "key", key, "err", err)
		return err
	}
	return nil
}

func SetNX(ctx context.Context, rdb redis.Cmdable, key string, value any, expiration time.Duration) (bool, error) {
	result, err := rdb.SetNX(ctx, key, value, expiration).Result()
	if err != nil {
		log.Debug("redisop SetNX", "key", key, "err", err)
		return false, err
	}
	return result, nil
}

func Incr(ctx context.Context, rdb redis.Cmdable, key string) (int64, error) {
	val, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		log.Debug("redisop Incr", "key", key, "err", err)
		return 0, err
	}
	return val, nil
}

func XAck(ctx context.Context, rdb redis.Cmdable, stream, group string, ids ...string) error {
	_, err := rdb.XAck(ctx, stream, group, ids...).Result()
	if err != nil {
		log.Debug("redisop XAck", "stream", stream, "group", group, "ids", ids, "err", err)
		return err
	}
	return nil
}
