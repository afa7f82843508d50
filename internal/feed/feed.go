// Package feed serves token prices, combining the Redis-backed cache the
// trade stream keeps warm with on-demand fetches against the bonding curve.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/awachter/soltrader/internal/cache/redis"
	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/platform/pumpfun"
)

// Feed implements domain.PriceFeed.
type Feed struct {
	cache  *redis.PriceCache
	stream *Stream
	curve  *pumpfun.Client
}

var _ domain.PriceFeed = (*Feed)(nil)

// New creates a price feed over the given cache, stream, and bonding-curve
// client.
func New(cache *redis.PriceCache, stream *Stream, curve *pumpfun.Client) *Feed {
	return &Feed{cache: cache, stream: stream, curve: curve}
}

// GetPrice returns the most recent cached observation for a mint. It returns
// domain.ErrNotFound when no observation exists; stale observations are the
// caller's concern.
func (f *Feed) GetPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	return f.cache.GetPrice(ctx, mint)
}

// FetchTokenPrice bypasses the cache and reads the current bonding-curve
// price directly, caching the result.
func (f *Feed) FetchTokenPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	price, err := f.curve.Price(ctx, mint)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("feed: fetch %s: %w", mint, err)
	}

	pt := domain.PricePoint{PriceSol: price, Timestamp: time.Now()}
	if err := f.cache.SetPrice(ctx, mint, pt); err != nil {
		return pt, nil
	}
	return pt, nil
}

// GetPriceHistory returns up to n recent observations, newest first.
func (f *Feed) GetPriceHistory(ctx context.Context, mint string, n int) ([]domain.PricePoint, error) {
	return f.cache.GetHistory(ctx, mint, n)
}

// AddToWatchList subscribes the stream to a mint and records it in the
// persisted watch set.
func (f *Feed) AddToWatchList(ctx context.Context, mint string) error {
	if err := f.cache.AddWatch(ctx, mint); err != nil {
		return err
	}
	return f.stream.Watch(mint)
}

// RemoveFromWatchList drops a mint from the stream and the watch set.
func (f *Feed) RemoveFromWatchList(ctx context.Context, mint string) error {
	if err := f.stream.Unwatch(mint); err != nil {
		return err
	}
	return f.cache.RemoveWatch(ctx, mint)
}
