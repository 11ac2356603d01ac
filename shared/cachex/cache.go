package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"issue-notifications/shared/config"
)

var errNotInitialized = errors.New("redis client not initialized")

// Client is a JSON cache over redis. Keys are prefixed with the namespace.
type Client struct {
	redis     *redis.Client
	namespace string
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb, namespace: cfg.ServiceName}, nil
}

func Wrap(rdb *redis.Client, namespace string) *Client {
	return &Client{redis: rdb, namespace: namespace}
}

func (c *Client) key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *Client) Key(parts ...string) string {
	if c == nil {
		return strings.Join(parts, ":")
	}
	return c.key(parts...)
}

func (c *Client) ready() error {
	if c == nil || c.redis == nil {
		return errNotInitialized
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, c.key(key), b, ttl).Err()
}

// GetJSON reports false without error on a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	raw, err := c.redis.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.redis.SetNX(ctx, c.key(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.redis.Del(ctx, c.key(key)).Err()
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
