package storage

import (
	"context"
	"time"

	"github.com/gomodule/redigo/redis"
)

// RedisKV implements KV against a Redis backend, used as the cross-device
// synced storage scope.
type RedisKV struct {
	pool   *redis.Pool
	prefix string
}

// NewRedisKV creates a Redis-backed KV. Keys are namespaced under prefix.
func NewRedisKV(addr, prefix string) *RedisKV {
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr,
				redis.DialConnectTimeout(2*time.Second),
				redis.DialReadTimeout(2*time.Second),
				redis.DialWriteTimeout(2*time.Second),
			)
		},
	}
	return &RedisKV{pool: pool, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	return r.prefix + ":" + k
}

// Ping verifies the Redis backend is reachable.
func (r *RedisKV) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err
}

// Get returns the value for key; absent keys return ok=false.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	value, err := redis.Bytes(conn.Do("GET", r.key(key)))
	if err == redis.ErrNil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value under key.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("SET", r.key(key), value)
	return err
}

// Remove deletes key.
func (r *RedisKV) Remove(ctx context.Context, key string) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Do("DEL", r.key(key))
	return err
}

// PushBounded appends value to the list at key and trims the list to the
// newest cap entries. Used to mirror history appends to the synced scope.
func (r *RedisKV) PushBounded(ctx context.Context, key string, value []byte, cap int) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send("RPUSH", r.key(key), value); err != nil {
		return err
	}
	if err := conn.Send("LTRIM", r.key(key), -cap, -1); err != nil {
		return err
	}
	return conn.Flush()
}

// Close releases the connection pool.
func (r *RedisKV) Close() error {
	return r.pool.Close()
}
