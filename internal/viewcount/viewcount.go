package viewcount

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "yardhop:views:"

// counterTTL bounds how long an unflushed counter can linger if no worker
// drains it.
const counterTTL = 14 * 24 * time.Hour

// Counter accumulates sale view counts in redis so request handlers never
// write the sales table. The worker drains counters into Postgres.
type Counter struct {
	client *redis.Client
}

// NewCounter wraps an existing redis client.
func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

// Bump adds one view for the sale.
func (c *Counter) Bump(ctx context.Context, saleID string) error {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return nil
	}
	key := keyPrefix + saleID
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, counterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Drain reads and clears every pending counter, returning saleID to views.
// GETDEL keeps each counter's read-and-reset atomic, so bumps that land
// during a drain survive into the next one.
func (c *Counter) Drain(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			val, err := c.client.GetDel(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return out, err
			}
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil || n <= 0 {
				continue
			}
			out[strings.TrimPrefix(key, keyPrefix)] += n
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Ping reports whether redis is reachable.
func (c *Counter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
