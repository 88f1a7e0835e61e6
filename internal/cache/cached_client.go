package cache

import (
	"context"

	"bitvavo-trading-bot/internal/bitvavo"
)

// CachedClient decorates an ExchangeClient with candle caching. All
// other calls pass straight through; order flow is never cached.
type CachedClient struct {
	bitvavo.ExchangeClient
	cache *CandleCache
}

var _ bitvavo.ExchangeClient = (*CachedClient)(nil)

// NewCachedClient wraps a client with the candle cache
func NewCachedClient(client bitvavo.ExchangeClient, cache *CandleCache) *CachedClient {
	return &CachedClient{ExchangeClient: client, cache: cache}
}

// GetCandles serves from Redis when possible and refreshes the cache on
// a miss. Cache failures silently fall through to the exchange.
func (c *CachedClient) GetCandles(ctx context.Context, market, interval string, limit int) ([]bitvavo.Candle, error) {
	if cached, ok := c.cache.Get(ctx, market, interval); ok && len(cached) >= limit {
		if limit > 0 && len(cached) > limit {
			cached = cached[len(cached)-limit:]
		}
		return cached, nil
	}

	candles, err := c.ExchangeClient.GetCandles(ctx, market, interval, limit)
	if err != nil {
		return nil, err
	}
	c.cache.Put(ctx, market, interval, candles)
	return candles, nil
}
