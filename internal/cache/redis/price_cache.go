package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/awachter/soltrader/internal/domain"
)

// PriceCache stores the latest observed price per mint as a Redis hash at
// "soltrader:price:{mint}" with fields "price" and "ts" (Unix nanoseconds),
// plus a capped list of recent observations at "soltrader:price:hist:{mint}".
// The watch set at "soltrader:price:watch" holds the mints the trade stream
// keeps subscribed.
type PriceCache struct {
	c            *Client
	historyDepth int64
}

// NewPriceCache creates a PriceCache backed by the given Client. historyDepth
// caps the number of retained observations per mint.
func NewPriceCache(c *Client, historyDepth int) *PriceCache {
	if historyDepth <= 0 {
		historyDepth = 60
	}
	return &PriceCache{c: c, historyDepth: int64(historyDepth)}
}

func (pc *PriceCache) priceKey(mint string) string {
	return pc.c.key("price", mint)
}

func (pc *PriceCache) historyKey(mint string) string {
	return pc.c.key("price", "hist", mint)
}

func (pc *PriceCache) watchKey() string {
	return pc.c.key("price", "watch")
}

// SetPrice stores the latest observation for a mint and pushes it onto the
// capped history list.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, pt domain.PricePoint) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(pt.PriceSol, 'f', -1, 64),
		"ts":    strconv.FormatInt(pt.Timestamp.UnixNano(), 10),
	}

	pipe := pc.c.rdb.Pipeline()
	pipe.HSet(ctx, pc.priceKey(mint), fields)
	pipe.LPush(ctx, pc.historyKey(mint),
		strconv.FormatInt(pt.Timestamp.UnixNano(), 10)+":"+strconv.FormatFloat(pt.PriceSol, 'f', -1, 64))
	pipe.LTrim(ctx, pc.historyKey(mint), 0, pc.historyDepth-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice retrieves the latest observation for a mint. It returns
// domain.ErrNotFound when no observation exists.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.priceKey(mint)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse price %s: %w", mint, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse ts %s: %w", mint, err)
	}

	return domain.PricePoint{PriceSol: price, Timestamp: time.Unix(0, tsNano)}, nil
}

// GetHistory returns up to n recent observations for a mint, newest first.
// A mint with no history returns an empty slice, not an error.
func (pc *PriceCache) GetHistory(ctx context.Context, mint string, n int) ([]domain.PricePoint, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := pc.c.rdb.LRange(ctx, pc.historyKey(mint), 0, int64(n-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: get history %s: %w", mint, err)
	}

	out := make([]domain.PricePoint, 0, len(raw))
	for _, entry := range raw {
		pt, ok := parseHistoryEntry(entry)
		if !ok {
			continue
		}
		out = append(out, pt)
	}
	return out, nil
}

func parseHistoryEntry(entry string) (domain.PricePoint, bool) {
	for i := 0; i < len(entry); i++ {
		if entry[i] != ':' {
			continue
		}
		tsNano, err := strconv.ParseInt(entry[:i], 10, 64)
		if err != nil {
			return domain.PricePoint{}, false
		}
		price, err := strconv.ParseFloat(entry[i+1:], 64)
		if err != nil {
			return domain.PricePoint{}, false
		}
		return domain.PricePoint{PriceSol: price, Timestamp: time.Unix(0, tsNano)}, true
	}
	return domain.PricePoint{}, false
}

// AddWatch adds a mint to the watch set consumed by the price stream.
func (pc *PriceCache) AddWatch(ctx context.Context, mint string) error {
	if err := pc.c.rdb.SAdd(ctx, pc.watchKey(), mint).Err(); err != nil {
		return fmt.Errorf("redis: add watch %s: %w", mint, err)
	}
	return nil
}

// RemoveWatch removes a mint from the watch set and drops its cached data.
func (pc *PriceCache) RemoveWatch(ctx context.Context, mint string) error {
	pipe := pc.c.rdb.Pipeline()
	pipe.SRem(ctx, pc.watchKey(), mint)
	pipe.Del(ctx, pc.priceKey(mint), pc.historyKey(mint))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: remove watch %s: %w", mint, err)
	}
	return nil
}

// WatchList returns every mint currently in the watch set.
func (pc *PriceCache) WatchList(ctx context.Context) ([]string, error) {
	mints, err := pc.c.rdb.SMembers(ctx, pc.watchKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: watch list: %w", err)
	}
	return mints, nil
}
