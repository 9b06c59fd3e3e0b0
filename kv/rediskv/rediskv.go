// Package rediskv implements kv.Repository on top of Redis. Connection
// settings come from Options; the package reads no environment variables
// (cmd/worker maps REDIS_URL/REDIS_PASSWORD onto Options).
package rediskv

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Store implements kv.Repository using a redis.Client. Keys are namespaced
// under a caller-supplied prefix so multiple components can share one Redis
// instance without collisions.
type Store struct {
	client *redis.Client
	prefix string
}

// Options configures a Store.
type Options struct {
	// Addr is the Redis connection address (host:port). Required.
	Addr string
	// Password is the optional Redis AUTH password.
	Password string
	// DB selects the Redis logical database index.
	DB int
	// Prefix is prepended to every key (e.g. "agentex:state:").
	Prefix string
}

// New connects to Redis using opts and verifies connectivity with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("rediskv: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Store{client: client, prefix: opts.Prefix}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Get returns the value stored at key, or (nil, false, nil) if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores value at key, replacing any existing value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// BatchGet returns values for keys in order, nil for absent keys.
func (s *Store) BatchGet(ctx context.Context, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	res, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(res))
	for i, v := range res {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[i] = []byte(str)
	}
	return out, nil
}

// BatchSet stores every key/value pair in values using a pipeline.
func (s *Store) BatchSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, s.key(k), v, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// BatchDelete removes every key in keys.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}
	return s.client.Del(ctx, prefixed...).Err()
}
