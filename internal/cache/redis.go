package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/smartmark-io/smartmark-back/internal/config"
)

const keyPrefixSession = "smartmark:session:"

// SessionCache is a token -> user id lookaside in front of the sessions
// table. A nil *SessionCache is valid and means "no cache configured".
type SessionCache struct {
	client *redis.Client
}

// NewSessionCache returns nil (cache disabled) when no redis address is set.
func NewSessionCache(cfg *config.Config) (*SessionCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	return &SessionCache{client: client}, nil
}

func (c *SessionCache) Put(ctx context.Context, token string, userID uint64, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, keyPrefixSession+token, strconv.FormatUint(userID, 10), ttl).Err(); err != nil {
		return errors.Wrap(err, "cache session")
	}
	return nil
}

// Get returns (0, nil) on a cache miss.
func (c *SessionCache) Get(ctx context.Context, token string) (uint64, error) {
	if c == nil {
		return 0, nil
	}
	v, err := c.client.Get(ctx, keyPrefixSession+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "get cached session")
	}
	userID, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse cached session")
	}
	return userID, nil
}

func (c *SessionCache) Del(ctx context.Context, token string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, keyPrefixSession+token).Err(); err != nil {
		return errors.Wrap(err, "invalidate session")
	}
	return nil
}

func (c *SessionCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
