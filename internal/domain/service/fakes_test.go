package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/repository"
)

var errCorrupt = fmt.Errorf("decode baseline: %w", repository.ErrCorruptBaseline)

// MockProvider returns canned records or an error.
type MockProvider struct {
	name    string
	records []model.NormalizedRecord
	err     error
	panics  bool
	delay   time.Duration

	mu    sync.Mutex
	calls int
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Fetch(ctx context.Context, _ string) ([]model.NormalizedRecord, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.panics {
		panic("provider exploded")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.records, p.err
}

func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// MockLimiter denies the providers named in deny.
type MockLimiter struct {
	deny map[string]bool
	err  error
}

func (l *MockLimiter) TryAcquire(_ context.Context, providerKey string, _ model.RateLimit) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return !l.deny[providerKey], nil
}

type published struct {
	channel string
	payload []byte
}

// MockBus records published payloads in order.
type MockBus struct {
	mu       sync.Mutex
	messages []published
	failOn   string
}

func (b *MockBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.failOn != "" && b.failOn == channel {
		return errors.New("bus unavailable")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{channel: channel, payload: payload})
	return nil
}

func (b *MockBus) Subscribe(context.Context, string, repository.MessageHandler) error {
	return nil
}

func (b *MockBus) On(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.messages {
		if m.channel == channel {
			out = append(out, m.payload)
		}
	}
	return out
}

// MockCache is an in-memory ResultCache.
type MockCache struct {
	mu     sync.Mutex
	items  map[string][]model.MergedRecord
	ttls   map[string]time.Duration
	getErr error
}

func NewMockCache() *MockCache {
	return &MockCache{
		items: make(map[string][]model.MergedRecord),
		ttls:  make(map[string]time.Duration),
	}
}

func (c *MockCache) GetMerged(_ context.Context, query string) ([]model.MergedRecord, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[query], nil
}

func (c *MockCache) SetMerged(_ context.Context, query string, items []model.MergedRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[query] = items
	c.ttls[query] = ttl
	return nil
}

// MockBaselines is an in-memory BaselineStore.
type MockBaselines struct {
	mu      sync.Mutex
	byKey   map[string]model.Baseline
	corrupt map[string]bool
}

func NewMockBaselines() *MockBaselines {
	return &MockBaselines{byKey: make(map[string]model.Baseline), corrupt: make(map[string]bool)}
}

func (s *MockBaselines) GetBaseline(_ context.Context, chain, address string) (*model.Baseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := model.AssetKey(chain, address)
	if s.corrupt[key] {
		delete(s.corrupt, key)
		return nil, errCorrupt
	}
	b, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *MockBaselines) SetBaseline(_ context.Context, b model.Baseline, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[model.AssetKey(b.Chain, b.Address)] = b
	return nil
}
