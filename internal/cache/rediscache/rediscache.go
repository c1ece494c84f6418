package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces read-through copies of orders and shipments.
const keyPrefix = "orderflow:"

// RedisCache implements cache.BytesCache. Entries always expire: a Set
// without a positive TTL is dropped.
type RedisCache struct {
	c *redis.Client
}

func New(addr string) *RedisCache {
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		}),
	}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return errors.Wrapf(r.c.Set(ctx, keyPrefix+key, value, ttl).Err(), "redis set %s", key)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.c.Del(ctx, keyPrefix+key).Err(), "redis del %s", key)
}

// Locker returns an order lock sharing this cache's connection pool.
func (r *RedisCache) Locker(ttl time.Duration) *Locker {
	return newLocker(r.c, ttl)
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return errors.Wrap(r.c.Ping(ctx).Err(), "redis ping")
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
