package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/repository"
	"tokenAggregator/internal/domain/useCases"
)

// ActiveQuerySource reports the queries live subscribers are watching.
type ActiveQuerySource interface {
	ActiveQueries() []string
}

// SchedulerConfig tunes the refresh scheduler.
type SchedulerConfig struct {
	Interval       time.Duration
	DefaultQueries []string
	RetryMarkerTTL time.Duration
	RetryDelay     time.Duration
}

// Scheduler enqueues a refresh job for every watched query on a fixed
// cadence, plus one deduplicated retry per rate-limited provider and query.
type Scheduler struct {
	queue   useCases.JobQueue
	active  ActiveQuerySource
	bus     repository.EventBus
	markers repository.RetryMarker
	cfg     SchedulerConfig
	logger  *slog.Logger
}

func NewScheduler(
	q useCases.JobQueue,
	active ActiveQuerySource,
	bus repository.EventBus,
	markers repository.RetryMarker,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.RetryMarkerTTL <= 0 {
		cfg.RetryMarkerTTL = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		queue:   q,
		active:  active,
		bus:     bus,
		markers: markers,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
	}
}

// RetryKey is the dedup marker for a rate-limit retry.
func RetryKey(provider, query string) string {
	return "rl:retry:" + provider + ":" + query
}

// Run ticks until ctx is done. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.bus != nil {
		handler := func(payload []byte) { s.HandleRateLimit(ctx, payload) }
		if err := s.bus.Subscribe(ctx, dto.RateLimitChannel, handler); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Queries returns the default queries followed by the active ones, lower-cased
// and without duplicates.
func (s *Scheduler) Queries() []string {
	var active []string
	if s.active != nil {
		active = s.active.ActiveQueries()
	}

	seen := make(map[string]struct{}, len(s.cfg.DefaultQueries)+len(active))
	out := make([]string, 0, len(s.cfg.DefaultQueries)+len(active))
	for _, list := range [][]string{s.cfg.DefaultQueries, active} {
		for _, q := range list {
			q = strings.ToLower(strings.TrimSpace(q))
			if q == "" {
				continue
			}
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}

// Tick enqueues one refresh job per query.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, q := range s.Queries() {
		if err := s.queue.Enqueue(ctx, dto.NewRefreshJob(q, dto.ReasonScheduled)); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("failed to enqueue refresh", "query", q, "error", err)
		}
	}
}

// HandleRateLimit schedules one delayed refresh for a denied provider call.
// Concurrent notices for the same provider and query collapse into one retry
// while the marker lives.
func (s *Scheduler) HandleRateLimit(ctx context.Context, payload []byte) {
	var notice dto.RateLimitNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		s.logger.Warn("malformed rate limit notice", "error", err)
		return
	}
	query := strings.ToLower(strings.TrimSpace(notice.Query))
	if notice.Provider == "" || query == "" {
		return
	}

	if s.markers != nil {
		acquired, err := s.markers.Acquire(ctx, RetryKey(notice.Provider, query), s.cfg.RetryMarkerTTL)
		if err != nil {
			s.logger.Warn("failed to set retry marker", "provider", notice.Provider, "query", query, "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("retry already scheduled", "provider", notice.Provider, "query", query)
			return
		}
	}

	time.AfterFunc(s.cfg.RetryDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.queue.Enqueue(ctx, dto.NewRefreshJob(query, dto.ReasonRateLimit)); err != nil {
			s.logger.Warn("failed to enqueue rate limit retry", "query", query, "error", err)
		}
	})
}
