package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/repository"
)

const (
	listKeyPrefix     = "tokens:list:"
	baselineKeyPrefix = "tokens:last:"
)

// RedisRepository implements the listing cache, the delta baselines and the
// retry markers on a shared Redis instance.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisClient opens a client; callers own it and must Close it.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

var (
	_ repository.ResultCache   = (*RedisRepository)(nil)
	_ repository.BaselineStore = (*RedisRepository)(nil)
	_ repository.RetryMarker   = (*RedisRepository)(nil)
)

// ListKey is the cache key of the merged listing for query.
func ListKey(query string) string {
	return listKeyPrefix + query
}

// BaselineKey is the key of the last published figures of one asset.
func BaselineKey(chain, address string) string {
	return baselineKeyPrefix + chain + ":" + address
}

type cachedList struct {
	Items []model.MergedRecord `json:"items"`
}

func (r *RedisRepository) GetMerged(ctx context.Context, query string) ([]model.MergedRecord, error) {
	data, err := r.client.Get(ctx, ListKey(query)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var list cachedList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached listing: %w", err)
	}
	if list.Items == nil {
		list.Items = []model.MergedRecord{}
	}
	return list.Items, nil
}

func (r *RedisRepository) SetMerged(ctx context.Context, query string, items []model.MergedRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(cachedList{Items: items})
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}
	return r.client.Set(ctx, ListKey(query), data, ttl).Err()
}

func (r *RedisRepository) GetBaseline(ctx context.Context, chain, address string) (*model.Baseline, error) {
	data, err := r.client.Get(ctx, BaselineKey(chain, address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var b model.Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", repository.ErrCorruptBaseline, chain, address, err)
	}
	return &b, nil
}

func (r *RedisRepository) SetBaseline(ctx context.Context, baseline model.Baseline, ttl time.Duration) error {
	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	return r.client.Set(ctx, BaselineKey(baseline.Chain, baseline.Address), data, ttl).Err()
}

// Acquire sets key only if it is absent, expiring after ttl.
func (r *RedisRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, 1, ttl).Result()
}

// Ping checks connectivity.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
