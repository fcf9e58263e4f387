package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the configuration for the Redis client.
type Config struct {
	Addr     string `env:"ADDRESS" envDefault:"localhost:6379"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"3"`
	PoolSize       int           `env:"POOL_SIZE" envDefault:"10"`

	PrefixKey           string `env:"PREFIX_KEY" envDefault:"exchange:"`
	ResultChannel       string `env:"RESULT_CHANNEL" envDefault:"api_result"`
	NotificationChannel string `env:"NOTIFICATION_CHANNEL" envDefault:"notification"`
}

// Client publishes engine output for read-only consumers.
type Client struct {
	cmd    redis.UniversalClient
	config Config
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cmd := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.ConnectTimeout,
		WriteTimeout: cfg.ConnectTimeout,
		PoolSize:     cfg.PoolSize,
	})
	if err := cmd.Ping(ctx).Err(); err != nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Client{cmd: cmd, config: cfg}, nil
}

func (c *Client) Close() error {
	return c.cmd.Close()
}

// PublishResults sends request outcomes on the result channel.
func (c *Client) PublishResults(ctx context.Context, payloads ...[]byte) error {
	return c.publish(ctx, c.config.ResultChannel, payloads)
}

// PublishNotifications sends user notifications on the notification channel.
func (c *Client) PublishNotifications(ctx context.Context, payloads ...[]byte) error {
	return c.publish(ctx, c.config.NotificationChannel, payloads)
}

func (c *Client) publish(ctx context.Context, channel string, payloads [][]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	pipe := c.cmd.Pipeline()
	for _, p := range payloads {
		pipe.Publish(ctx, channel, p)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// orderBookScript stores the snapshot only if its sequence id is newer
// than the one already stored.
var orderBookScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(ARGV[1]) <= tonumber(last) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// UpdateOrderBook stores the order book snapshot for sequenceID. It
// reports false when a newer snapshot is already stored.
func (c *Client) UpdateOrderBook(ctx context.Context, sequenceID int64, payload []byte) (bool, error) {
	keys := []string{c.key("order_book:last_seq"), c.key("order_book")}
	n, err := orderBookScript.Run(ctx, c.cmd, keys, sequenceID, payload).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// OrderBook returns the stored snapshot payload.
func (c *Client) OrderBook(ctx context.Context) ([]byte, error) {
	return c.cmd.Get(ctx, c.key("order_book")).Bytes()
}

func (c *Client) key(name string) string {
	return c.config.PrefixKey + name
}
