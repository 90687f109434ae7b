package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"PredMarket/internal/market"
	"PredMarket/internal/observability"
)

const eventTTL = 30 * time.Second

// EventCache caches event records in Redis with a short TTL. Cache misses
// and decode failures fall back to the store; a cache outage degrades reads,
// never corrupts them.
type EventCache struct {
	rdb     *redis.Client
	metrics *observability.Metrics
}

// NewEventCache wraps a Redis client. metrics may be nil.
func NewEventCache(rdb *redis.Client, metrics *observability.Metrics) *EventCache {
	return &EventCache{rdb: rdb, metrics: metrics}
}

// ConnectRedis dials Redis and verifies the connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func eventKey(id uint64) string { return fmt.Sprintf("event:%d", id) }

// Get retrieves a cached event. Any miss or error is reported as a miss.
func (c *EventCache) Get(ctx context.Context, eventID uint64) (*market.Event, error) {
	data, err := c.rdb.Get(ctx, eventKey(eventID)).Bytes()
	if err != nil {
		c.miss()
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("cache get event %d: %w", eventID, err)
	}

	ev, err := market.DecodeEvent(data)
	if err != nil {
		c.miss()
		return nil, err
	}
	c.hit()
	return ev, nil
}

// Set stores an event with the cache TTL. Failures are swallowed; the store
// remains authoritative.
func (c *EventCache) Set(ctx context.Context, ev *market.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, eventKey(ev.EventID), data, eventTTL)
}

// Invalidate removes an event after a mutating operation so the next read
// observes the committed record.
func (c *EventCache) Invalidate(ctx context.Context, eventID uint64) {
	c.rdb.Del(ctx, eventKey(eventID))
}

func (c *EventCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *EventCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}
