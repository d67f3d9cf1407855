package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tokenAggregator/internal/app"
	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/infrastructure/cache"
	"tokenAggregator/internal/infrastructure/pubsub"
)

type MockQueue struct {
	mu   sync.Mutex
	jobs []dto.RefreshJob
}

func (q *MockQueue) Enqueue(_ context.Context, job dto.RefreshJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *MockQueue) Jobs() []dto.RefreshJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]dto.RefreshJob(nil), q.jobs...)
}

type MockActive []string

func (a MockActive) ActiveQueries() []string { return a }

type MockMarker struct{ err error }

func (m MockMarker) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, m.err
}

func notice(provider, query string) []byte {
	data, _ := json.Marshal(dto.RateLimitNotice{Provider: provider, Query: query})
	return data
}

func newMarkers(t *testing.T) (*miniredis.Miniredis, *cache.RedisRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return mr, cache.NewRedisRepository(client)
}

func TestScheduler_QueriesUnion(t *testing.T) {
	s := app.NewScheduler(&MockQueue{}, MockActive{"eth", "bonk", ""}, nil, nil,
		app.SchedulerConfig{DefaultQueries: []string{"sol", " SOL ", "bonk"}}, nil)

	got := s.Queries()
	want := []string{"sol", "bonk", "eth"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestScheduler_Tick(t *testing.T) {
	q := &MockQueue{}
	s := app.NewScheduler(q, MockActive{"eth"}, nil, nil,
		app.SchedulerConfig{DefaultQueries: []string{"sol"}}, nil)

	s.Tick(context.Background())

	jobs := q.Jobs()
	if len(jobs) != 2 || jobs[0].Query != "sol" || jobs[1].Query != "eth" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	for _, j := range jobs {
		if j.Reason != dto.ReasonScheduled || j.Attempt != 0 || j.ID == "" {
			t.Errorf("unexpected job %+v", j)
		}
	}
}

func TestScheduler_RateLimitBurstSchedulesOneRetry(t *testing.T) {
	mr, markers := newMarkers(t)
	q := &MockQueue{}
	s := app.NewScheduler(q, nil, nil, markers,
		app.SchedulerConfig{RetryDelay: 10 * time.Millisecond, RetryMarkerTTL: 5 * time.Second}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		s.HandleRateLimit(ctx, notice("coingecko", "SOL"))
	}
	s.HandleRateLimit(ctx, notice("dexscreener", "sol"))

	waitFor(t, "two retries", func() bool { return len(q.Jobs()) == 2 })
	time.Sleep(30 * time.Millisecond)
	if got := len(q.Jobs()); got != 2 {
		t.Fatalf("expected one retry per provider, got %d", got)
	}
	for _, j := range q.Jobs() {
		if j.Query != "sol" || j.Reason != dto.ReasonRateLimit {
			t.Errorf("unexpected retry job %+v", j)
		}
	}
	if ttl := mr.TTL(app.RetryKey("coingecko", "sol")); ttl != 5*time.Second {
		t.Errorf("expected marker ttl 5s, got %v", ttl)
	}

	// Once the marker expires a new denial schedules again.
	mr.FastForward(6 * time.Second)
	s.HandleRateLimit(ctx, notice("coingecko", "sol"))
	waitFor(t, "third retry", func() bool { return len(q.Jobs()) == 3 })
}

func TestScheduler_RateLimitIgnoresBadNotices(t *testing.T) {
	q := &MockQueue{}
	s := app.NewScheduler(q, nil, nil, MockMarker{err: errors.New("store down")},
		app.SchedulerConfig{RetryDelay: time.Millisecond}, nil)
	ctx := context.Background()

	s.HandleRateLimit(ctx, []byte("not json"))
	s.HandleRateLimit(ctx, notice("", "sol"))
	s.HandleRateLimit(ctx, notice("jupiter", ""))
	s.HandleRateLimit(ctx, notice("jupiter", "sol"))

	time.Sleep(30 * time.Millisecond)
	if got := len(q.Jobs()); got != 0 {
		t.Errorf("expected no retries, got %d", got)
	}
}

func TestScheduler_RunTicksAndListens(t *testing.T) {
	mr, markers := newMarkers(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	defer client.Close()
	bus := pubsub.NewRedisBus(client, nil)

	q := &MockQueue{}
	s := app.NewScheduler(q, MockActive{"eth"}, bus, markers, app.SchedulerConfig{
		Interval:       time.Hour,
		DefaultQueries: []string{"sol"},
		RetryDelay:     time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, "initial tick", func() bool { return len(q.Jobs()) == 2 })

	if err := bus.Publish(ctx, dto.RateLimitChannel, notice("jupiter", "bonk")); err != nil {
		t.Fatalf("failed to publish notice: %v", err)
	}
	waitFor(t, "rate limit retry", func() bool { return len(q.Jobs()) == 3 })
	if j := q.Jobs()[2]; j.Query != "bonk" || j.Reason != dto.ReasonRateLimit {
		t.Errorf("unexpected retry job %+v", j)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
