package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/venuebot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes with a TTL.
// Each mark price is stored at key "price:{venue}:{token}" with fields
// "price" and "ts" (Unix nanosecond timestamp). The TTL bounds staleness:
// an expired entry reads as domain.ErrNotFound and the caller falls back to
// the venue itself.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(venue domain.Venue, token string) string {
	return "price:" + string(venue) + ":" + token
}

// SetPrice stores the latest mark price for (venue, token).
func (pc *PriceCache) SetPrice(ctx context.Context, venue domain.Venue, token string, price float64) error {
	key := priceKey(venue, token)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(time.Now().UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: set price %s/%s: %w", venue, token, err)
	}
	return nil
}

// GetPrice retrieves the latest mark price and its timestamp for
// (venue, token). It returns domain.ErrNotFound when the key does not exist
// or has expired.
func (pc *PriceCache) GetPrice(ctx context.Context, venue domain.Venue, token string) (float64, time.Time, error) {
	key := priceKey(venue, token)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", venue, token, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", venue, token, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", venue, token, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
