// Package service implements the core token pipeline: fetch orchestration,
// identity-resolution merge, sort/paginate and change-detection publishing.
// It depends only on domain models and the repository/useCases interfaces.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/repository"
	"tokenAggregator/internal/domain/useCases"
)

// ProviderBinding pairs a provider with its token-bucket limits.
type ProviderBinding struct {
	Provider useCases.Provider
	Limit    model.RateLimit
}

// Aggregator is the fetch orchestrator plus the cached fetch→merge→paginate path.
type Aggregator struct {
	providers []ProviderBinding
	limiter   repository.RateLimiter
	bus       repository.EventBus
	cache     repository.ResultCache
	merger    *Merger
	timeout   time.Duration
	cacheTTL  int
	logger    *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithProviderTimeout bounds every provider call.
func WithProviderTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		a.timeout = d
	}
}

// WithCacheTTL sets the listing cache TTL in seconds.
func WithCacheTTL(seconds int) AggregatorOption {
	return func(a *Aggregator) {
		a.cacheTTL = seconds
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator wires the orchestrator. limiter, bus and cache may be nil:
// a nil limiter admits every call, a nil cache never hits.
func NewAggregator(
	providers []ProviderBinding,
	limiter repository.RateLimiter,
	bus repository.EventBus,
	cache repository.ResultCache,
	merger *Merger,
	opts ...AggregatorOption,
) *Aggregator {
	a := &Aggregator{
		providers: providers,
		limiter:   limiter,
		bus:       bus,
		cache:     cache,
		merger:    merger,
		timeout:   15 * time.Second,
		cacheTTL:  30,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.merger == nil {
		a.merger = NewMerger(nil)
	}
	a.logger = a.logger.With("component", "aggregator")
	return a
}

var _ useCases.Aggregator = (*Aggregator)(nil)

// Fetch calls every provider concurrently and concatenates what they yield.
// Denied, failed or panicking providers contribute nothing; the result keeps
// provider registration order so merging stays reproducible.
func (a *Aggregator) Fetch(ctx context.Context, query string) []model.NormalizedRecord {
	results := make([][]model.NormalizedRecord, len(a.providers))

	var g errgroup.Group
	for i, binding := range a.providers {
		g.Go(func() error {
			results[i] = a.fetchOne(ctx, binding, query)
			return nil
		})
	}
	_ = g.Wait()

	var combined []model.NormalizedRecord
	for _, recs := range results {
		combined = append(combined, recs...)
	}
	return combined
}

func (a *Aggregator) fetchOne(ctx context.Context, binding ProviderBinding, query string) (recs []model.NormalizedRecord) {
	name := binding.Provider.Name()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("provider panicked", "provider", name, "panic", r)
			recs = nil
		}
	}()

	if a.limiter != nil {
		allowed, err := a.limiter.TryAcquire(ctx, name, binding.Limit)
		if err != nil {
			a.logger.Warn("rate limiter unavailable, denying", "provider", name, "error", err)
			allowed = false
		}
		if !allowed {
			a.logger.Warn("rate limited", "provider", name, "query", query)
			a.notifyRateLimited(ctx, name, query)
			return nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	recs, err := binding.Provider.Fetch(callCtx, query)
	if err != nil {
		a.logger.Warn("provider fetch failed", "provider", name, "query", query, "error", err)
		return nil
	}
	if dropped := dropNonFinite(recs); dropped > 0 {
		a.logger.Warn("provider returned non-finite numbers", "provider", name, "query", query, "fields", dropped)
	}
	a.logger.Debug("provider fetched", "provider", name, "query", query, "records", len(recs))
	return recs
}

// dropNonFinite clears NaN and infinite metrics in place, leaving them absent.
func dropNonFinite(recs []model.NormalizedRecord) int {
	dropped := 0
	for i := range recs {
		r := &recs[i]
		for _, f := range []**float64{
			&r.PriceSol, &r.VolumeSol, &r.Volume1H, &r.Volume24H, &r.Volume7D,
			&r.LiquidityUSD, &r.MarketCapUSD,
			&r.PriceChange1H, &r.PriceChange24H, &r.PriceChange7D,
		} {
			if *f != nil && (math.IsInf(**f, 0) || math.IsNaN(**f)) {
				*f = nil
				dropped++
			}
		}
	}
	return dropped
}

func (a *Aggregator) notifyRateLimited(ctx context.Context, provider, query string) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(dto.RateLimitNotice{Provider: provider, Query: query})
	if err != nil {
		return
	}
	if err := a.bus.Publish(ctx, dto.RateLimitChannel, payload); err != nil {
		a.logger.Warn("failed to publish rate limit notice", "provider", provider, "error", err)
	}
}

// FetchAndMerge returns the merged records for query, reading through the
// result cache. A cache failure is treated as a miss. cacheTTLSeconds <= 0
// skips the cache write.
func (a *Aggregator) FetchAndMerge(ctx context.Context, query string, cacheTTLSeconds int) []model.MergedRecord {
	if a.cache != nil {
		cached, err := a.cache.GetMerged(ctx, query)
		if err != nil {
			a.logger.Warn("cache read failed, treating as miss", "query", query, "error", err)
		} else if cached != nil {
			return cached
		}
	}

	merged := a.merger.Merge(a.Fetch(ctx, query))

	if a.cache != nil && cacheTTLSeconds > 0 {
		ttl := time.Duration(cacheTTLSeconds) * time.Second
		if err := a.cache.SetMerged(ctx, query, merged, ttl); err != nil {
			a.logger.Warn("cache write failed", "query", query, "error", err)
		}
	}
	return merged
}

// List serves one sorted page for query, caching the merged set for the
// configured listing TTL.
func (a *Aggregator) List(ctx context.Context, query string, req model.PageRequest) model.Page {
	return Paginate(a.FetchAndMerge(ctx, query, a.cacheTTL), req)
}
