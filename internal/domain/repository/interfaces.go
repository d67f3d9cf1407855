// Package repository defines the shared-store contracts used by domain services.
// Domain logic depends on these interfaces; infrastructure provides the Redis-backed
// implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"tokenAggregator/internal/domain/model"
)

// ResultCache stores the merged result of a query for a short TTL.
type ResultCache interface {
	// GetMerged returns (nil, nil) when the key is absent or expired.
	GetMerged(ctx context.Context, query string) ([]model.MergedRecord, error)

	// SetMerged stores items for ttl. A ttl <= 0 means "do not cache".
	SetMerged(ctx context.Context, query string, items []model.MergedRecord, ttl time.Duration) error
}

// ErrCorruptBaseline is returned when a stored baseline cannot be decoded.
var ErrCorruptBaseline = errors.New("corrupt baseline")

// BaselineStore keeps the last published price/volume per asset.
type BaselineStore interface {
	// GetBaseline returns (nil, nil) when no baseline exists.
	GetBaseline(ctx context.Context, chain, address string) (*model.Baseline, error)
	SetBaseline(ctx context.Context, baseline model.Baseline, ttl time.Duration) error
}

// RateLimiter admits outbound provider calls. The check-refill-consume
// sequence is a single atomic transition against the shared store.
type RateLimiter interface {
	TryAcquire(ctx context.Context, providerKey string, limit model.RateLimit) (bool, error)
}

// MessageHandler receives raw pub/sub payloads.
type MessageHandler func(payload []byte)

// EventBus distributes payloads between process instances.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns once the subscription is active; handler runs until ctx is done.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) error
}

// RetryMarker is a short-lived exclusive marker (set-if-absent with expiry).
type RetryMarker interface {
	// Acquire reports whether the caller created the marker.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
