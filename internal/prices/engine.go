// Package prices resolves current and historical token prices across an
// ordered set of providers with caching, rate limiting and failover.
package prices

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/cache"
	"github.com/sawpanic/signalrun/internal/errs"
	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/net/ratelimit"
	"github.com/sawpanic/signalrun/internal/net/retry"
	"github.com/sawpanic/signalrun/internal/providers"
	"github.com/sawpanic/signalrun/internal/telemetry"
)

// Engine resolves current prices with ordered provider failover. Absence is
// not an error: a token no provider knows resolves to (nil, nil).
type Engine struct {
	registry map[string]providers.Provider
	order    map[models.Chain][]string

	memCache *cache.TTLCache
	redis    *cache.RedisTier // optional second tier
	limits   *ratelimit.Manager
	breakers *retry.BreakerManager
	metrics  *telemetry.Metrics
}

// EngineOpts wires the engine's collaborators.
type EngineOpts struct {
	Cache    *cache.TTLCache
	Redis    *cache.RedisTier
	Limits   *ratelimit.Manager
	Breakers *retry.BreakerManager
	Metrics  *telemetry.Metrics
}

// NewEngine builds the engine over the given providers. The failover order
// is fixed per chain: the Solana specialist leads for Solana mints, the
// general providers lead everywhere else, with the dex aggregator last.
func NewEngine(provs []providers.Provider, opts EngineOpts) *Engine {
	reg := make(map[string]providers.Provider, len(provs))
	for _, p := range provs {
		reg[p.Name()] = p
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Nop()
	}
	return &Engine{
		registry: reg,
		order: map[models.Chain][]string{
			models.ChainSolana:  {"jupiter", "geckoterminal", "coingecko", "dexscreener"},
			models.ChainEVM:     {"geckoterminal", "coingecko", "dexscreener"},
			models.ChainUnknown: {"geckoterminal", "coingecko", "dexscreener"},
		},
		memCache: opts.Cache,
		redis:    opts.Redis,
		limits:   opts.Limits,
		breakers: opts.Breakers,
		metrics:  opts.Metrics,
	}
}

// GetPrice resolves the current price of a token address. The TTL cache is
// consulted first; on a miss each provider in the chain's order is tried
// under its rate limiter and breaker. A snapshot without market cap or
// supply is held as a fallback while fuller providers are tried, so a
// price-only answer from the Solana specialist never starves the filter of
// market data. All providers empty means (nil, nil).
func (e *Engine) GetPrice(ctx context.Context, addr string, chain models.Chain) (*models.PriceSnapshot, error) {
	key := cache.PriceKey(chain, addr)

	if e.memCache != nil {
		if snap, ok := e.memCache.Get(key); ok {
			e.metrics.CacheHits.Inc()
			return &snap, nil
		}
	}
	if e.redis != nil {
		if snap, ok := e.redis.Get(ctx, key); ok {
			e.metrics.CacheHits.Inc()
			if e.memCache != nil {
				e.memCache.Set(key, snap)
			}
			return &snap, nil
		}
	}
	e.metrics.CacheMisses.Inc()

	var partial *models.PriceSnapshot
	for _, name := range e.order[chain] {
		p, ok := e.registry[name]
		if !ok || !p.Supports(chain) {
			continue
		}

		snap, err := e.callProvider(ctx, p, addr, chain)
		if err != nil {
			if errs.IsCancelled(err) {
				return nil, err
			}
			// Empty, exhausted retries or open breaker: fail over.
			log.Debug().
				Str("provider", name).
				Str("address", addr).
				Str("kind", errs.KindOf(err).String()).
				Msg("provider failover")
			continue
		}
		if snap == nil || snap.PriceUSD <= 0 {
			continue
		}
		if snap.MarketCap <= 0 || snap.Supply <= 0 {
			// Price-only answer. Hold it and keep looking for market data.
			if partial == nil {
				partial = snap
			}
			continue
		}

		return e.memoize(ctx, key, snap), nil
	}

	if partial != nil {
		return e.memoize(ctx, key, partial), nil
	}
	return nil, nil
}

func (e *Engine) memoize(ctx context.Context, key string, snap *models.PriceSnapshot) *models.PriceSnapshot {
	if e.memCache != nil {
		e.memCache.Set(key, *snap)
	}
	if e.redis != nil {
		e.redis.Set(ctx, key, *snap)
	}
	return snap
}

func (e *Engine) callProvider(ctx context.Context, p providers.Provider, addr string, chain models.Chain) (*models.PriceSnapshot, error) {
	if e.limits != nil {
		if err := e.limits.Acquire(ctx, p.Name()); err != nil {
			return nil, errs.E(errs.KindCancelled, p.Name(), err)
		}
	}

	var snap *models.PriceSnapshot
	start := time.Now()
	call := func(ctx context.Context) error {
		var err error
		snap, err = p.CurrentPrice(ctx, addr, chain)
		return err
	}

	var err error
	if e.breakers != nil {
		err = e.breakers.Call(ctx, p.Name(), call)
	} else {
		err = call(ctx)
	}

	e.metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	e.metrics.ProviderRequests.WithLabelValues(p.Name(), outcome).Inc()

	if err != nil {
		return nil, err
	}
	return snap, nil
}
