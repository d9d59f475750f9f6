package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys written by RedisStore.
const DefaultRedisPrefix = "mathenv:svg:"

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps entries in Redis under prefix+digest. A zero ttl keeps
// entries forever, matching the directory store.
type RedisStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client RedisClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &IOError{Op: "connect", Err: err}
	}
	return client, nil
}

// Lookup fetches the entry for digest.
func (s *RedisStore) Lookup(ctx context.Context, digest string) (string, bool, error) {
	if err := ValidateDigest(digest); err != nil {
		return "", false, err
	}
	val, err := s.client.Get(ctx, s.prefix+digest).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, &IOError{Op: "read", Digest: digest, Err: err}
	}
	return val, true, nil
}

// Store sets the entry only if it does not exist yet.
func (s *RedisStore) Store(ctx context.Context, digest, svg string) error {
	if err := ValidateDigest(digest); err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, s.prefix+digest, svg, s.ttl).Err(); err != nil {
		return &IOError{Op: "write", Digest: digest, Err: err}
	}
	return nil
}
