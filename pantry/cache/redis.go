// cache/redis.go
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by Redis, for runs that want the domain cache
// visible to other tools (redis-cli, dashboards) while they execute.
//
// Every key lives under a prefix unique to this Redis value, so concurrent
// runs sharing one server never see each other's entries. Close deletes the
// prefix; KeyTTL bounds how long keys survive a run that died before Close.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	keyTTL    time.Duration
	ownClient bool
}

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	// Client is an existing Redis client.
	// If provided, the connection options below are ignored and Close
	// leaves the client open.
	Client redis.UniversalClient

	// Address is the Redis server address (e.g., "localhost:6379").
	Address string

	// Password for Redis authentication.
	Password string

	// DB is the database number to use.
	DB int

	// Namespace is joined with a random run ID to form the key prefix.
	// Default: "mailsieve".
	Namespace string

	// KeyTTL is set on every key. Zero means keys never expire on their own.
	KeyTTL time.Duration

	// DialTimeout is the timeout for establishing connections.
	// Default: 5 seconds.
	DialTimeout time.Duration
}

// NewRedis connects (or adopts cfg.Client) and verifies the server with PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := cfg.Client
	own := false

	if client == nil {
		if cfg.Address == "" {
			return nil, errors.New("cache: redis address required")
		}
		dial := cfg.DialTimeout
		if dial <= 0 {
			dial = 5 * time.Second
		}
		client = redis.NewClient(&redis.Options{
			Addr:        cfg.Address,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dial,
		})
		own = true
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		if own {
			_ = client.Close()
		}
		return nil, err
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "mailsieve"
	}

	return &Redis{
		client:    client,
		keyPrefix: ns + ":" + uuid.NewString() + ":",
		keyTTL:    cfg.KeyTTL,
		ownClient: own,
	}, nil
}

// Prefix returns the run-scoped key prefix.
func (r *Redis) Prefix() string {
	return r.keyPrefix
}

// Get retrieves a value by key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return result, nil
}

// Set stores a value under key.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, r.keyTTL).Err()
}

// Len counts keys under the run prefix.
// Uses SCAN, so it is linear in the size of the keyspace.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	err := r.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

// Close deletes every key under the run prefix, then closes the connection
// if this cache opened it.
func (r *Redis) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := r.scan(ctx, func(keys []string) error {
		return r.client.Del(ctx, keys...).Err()
	})

	if r.ownClient {
		if cerr := r.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Redis) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.keyPrefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
