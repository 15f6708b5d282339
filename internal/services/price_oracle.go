// internal/services/price_oracle.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/javajoker/settlement-backend/internal/config"
	"github.com/javajoker/settlement-backend/internal/metrics"
)

const (
	RateXLMUSD      = "xlm_usd"
	RatePlatformUSD = "platform_usd"
	RateUSDC        = "platform_usdc"
)

// PriceOracle quotes the live rates pricing depends on. Every method fails
// rather than return a guessed or stale value.
type PriceOracle interface {
	GetXLMUsdPrice(ctx context.Context) (decimal.Decimal, error)
	GetPlatformAssetUsdPrice(ctx context.Context) (decimal.Decimal, error)
	GetAssetToUSDCRate(ctx context.Context) (decimal.Decimal, error)
}

type oracleEndpoint struct {
	url  string
	path string
}

// HTTPPriceOracle reads each rate from a JSON endpoint at a gjson path.
type HTTPPriceOracle struct {
	client    *http.Client
	endpoints map[string]oracleEndpoint
}

func NewHTTPPriceOracle(cfg config.OracleConfig) *HTTPPriceOracle {
	return &HTTPPriceOracle{
		client: &http.Client{Timeout: cfg.Timeout},
		endpoints: map[string]oracleEndpoint{
			RateXLMUSD:      {url: cfg.XLMUSDURL, path: cfg.XLMUSDPath},
			RatePlatformUSD: {url: cfg.PlatformUSDURL, path: cfg.PlatformUSDPath},
			RateUSDC:        {url: cfg.USDCRateURL, path: cfg.USDCRatePath},
		},
	}
}

func (o *HTTPPriceOracle) GetXLMUsdPrice(ctx context.Context) (decimal.Decimal, error) {
	return o.fetch(ctx, RateXLMUSD)
}

func (o *HTTPPriceOracle) GetPlatformAssetUsdPrice(ctx context.Context) (decimal.Decimal, error) {
	return o.fetch(ctx, RatePlatformUSD)
}

func (o *HTTPPriceOracle) GetAssetToUSDCRate(ctx context.Context) (decimal.Decimal, error) {
	return o.fetch(ctx, RateUSDC)
}

func (o *HTTPPriceOracle) fetch(ctx context.Context, rate string) (decimal.Decimal, error) {
	value, err := o.get(ctx, rate)
	if err != nil {
		metrics.RecordOracleCall(rate, "error")
		return decimal.Zero, ErrPriceUnavailable.withCause("", err)
	}
	metrics.RecordOracleCall(rate, "ok")
	return value, nil
}

func (o *HTTPPriceOracle) get(ctx context.Context, rate string) (decimal.Decimal, error) {
	endpoint, ok := o.endpoints[rate]
	if !ok || endpoint.url == "" {
		return decimal.Zero, fmt.Errorf("no oracle configured for %s", rate)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build oracle request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read oracle response: %w", err)
	}

	result := gjson.GetBytes(body, endpoint.path)
	if !result.Exists() {
		return decimal.Zero, fmt.Errorf("oracle response has no value at %q", endpoint.path)
	}

	// Raw keeps the exact digits the oracle sent.
	raw := result.Raw
	if result.Type == gjson.String {
		raw = result.Str
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle value %q is not a number: %w", raw, err)
	}
	if !value.IsPositive() {
		return decimal.Zero, fmt.Errorf("oracle value %s is not positive", value)
	}
	return value, nil
}

// PriceCache stores rates for a short TTL.
type PriceCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool)
	Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration)
}

// RedisPriceCache shares rates between instances.
type RedisPriceCache struct {
	client *redis.Client
	prefix string
}

func NewRedisPriceCache(client *redis.Client) *RedisPriceCache {
	return &RedisPriceCache{client: client, prefix: "settlement:rate:"}
}

func (c *RedisPriceCache) Get(ctx context.Context, key string) (decimal.Decimal, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logrus.WithError(err).WithField("key", key).Warn("Price cache read failed")
		}
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func (c *RedisPriceCache) Set(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, value.String(), ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Price cache write failed")
	}
}

type cachedRate struct {
	value   decimal.Decimal
	expires time.Time
}

// MemoryPriceCache is the single-instance fallback when Redis is not configured.
type MemoryPriceCache struct {
	mu    sync.Mutex
	rates map[string]cachedRate
	now   func() time.Time
}

func NewMemoryPriceCache() *MemoryPriceCache {
	return &MemoryPriceCache{rates: make(map[string]cachedRate), now: time.Now}
}

func (c *MemoryPriceCache) Get(_ context.Context, key string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.rates[key]
	if !ok || !c.now().Before(entry.expires) {
		delete(c.rates, key)
		return decimal.Zero, false
	}
	return entry.value, true
}

func (c *MemoryPriceCache) Set(_ context.Context, key string, value decimal.Decimal, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[key] = cachedRate{value: value, expires: c.now().Add(ttl)}
}

// maxRateTTL caps how long a rate may be reused.
const maxRateTTL = 10 * time.Second

// CachedPriceOracle puts a short-lived cache in front of another oracle.
// Failures are never cached.
type CachedPriceOracle struct {
	next  PriceOracle
	cache PriceCache
	ttl   time.Duration
}

func NewCachedPriceOracle(next PriceOracle, cache PriceCache, ttl time.Duration) *CachedPriceOracle {
	if ttl > maxRateTTL {
		ttl = maxRateTTL
	}
	return &CachedPriceOracle{next: next, cache: cache, ttl: ttl}
}

func (o *CachedPriceOracle) GetXLMUsdPrice(ctx context.Context) (decimal.Decimal, error) {
	return o.cached(ctx, RateXLMUSD, o.next.GetXLMUsdPrice)
}

func (o *CachedPriceOracle) GetPlatformAssetUsdPrice(ctx context.Context) (decimal.Decimal, error) {
	return o.cached(ctx, RatePlatformUSD, o.next.GetPlatformAssetUsdPrice)
}

func (o *CachedPriceOracle) GetAssetToUSDCRate(ctx context.Context) (decimal.Decimal, error) {
	return o.cached(ctx, RateUSDC, o.next.GetAssetToUSDCRate)
}

func (o *CachedPriceOracle) cached(ctx context.Context, key string, load func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if o.ttl <= 0 {
		return load(ctx)
	}
	if value, ok := o.cache.Get(ctx, key); ok {
		metrics.RecordOracleCall(key, "cached")
		return value, nil
	}
	value, err := load(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	o.cache.Set(ctx, key, value, o.ttl)
	return value, nil
}

// NewPriceOracle wires the HTTP oracle behind Redis when a client is given,
// or behind the in-process cache otherwise.
func NewPriceOracle(cfg *config.Config, redisClient *redis.Client) PriceOracle {
	var cache PriceCache = NewMemoryPriceCache()
	if redisClient != nil {
		cache = NewRedisPriceCache(redisClient)
	}
	return NewCachedPriceOracle(NewHTTPPriceOracle(cfg.Oracle), cache, cfg.Pricing.CacheTTL)
}
