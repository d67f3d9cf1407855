package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/useCases"
	"tokenAggregator/internal/infrastructure/queue"
)

const maxJobBackoff = time.Minute

// JobBackoff returns base * 2^attempt, capped at one minute.
func JobBackoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		return base
	}
	if attempt > 30 {
		return maxJobBackoff
	}
	d := base * time.Duration(1<<attempt)
	if d > maxJobBackoff || d <= 0 {
		return maxJobBackoff
	}
	return d
}

// RefreshProcessor drains refresh jobs with a fixed pool of workers, running
// one publish cycle per job.
type RefreshProcessor struct {
	queue       queue.Queue
	publisher   useCases.Publisher
	concurrency int
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	retries sync.WaitGroup
}

func NewRefreshProcessor(
	q queue.Queue,
	publisher useCases.Publisher,
	concurrency int,
	maxAttempts int,
	backoffBase time.Duration,
	logger *slog.Logger,
) *RefreshProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshProcessor{
		queue:       q,
		publisher:   publisher,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger.With("component", "refresh_processor"),
		pending:     make(map[*time.Timer]struct{}),
	}
}

// Run blocks until ctx is done or the queue is closed.
func (p *RefreshProcessor) Run(ctx context.Context) error {
	jobs, err := p.queue.Consume(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.work(ctx, worker, jobs)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *RefreshProcessor) work(ctx context.Context, worker int, jobs <-chan dto.RefreshJob) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			p.process(ctx, worker, job)
		}
	}
}

// process runs the job and commits it. A failed job is committed too; its
// next attempt goes back on the queue after a backoff.
func (p *RefreshProcessor) process(ctx context.Context, worker int, job dto.RefreshJob) {
	err := p.publisher.PublishCycle(ctx, job.Query)

	if commitErr := p.queue.Commit(ctx, job); commitErr != nil && ctx.Err() == nil {
		p.logger.Warn("failed to commit job", "job", job.ID, "error", commitErr)
	}

	if err == nil {
		p.logger.Debug("job completed", "job", job.ID, "query", job.Query, "worker", worker)
		return
	}
	if ctx.Err() != nil {
		return
	}

	next := job.NextAttempt()
	if next.Attempt >= p.maxAttempts {
		p.logger.Error("job failed, giving up", "job", job.ID, "query", job.Query, "attempts", next.Attempt, "error", err)
		return
	}

	delay := JobBackoff(p.backoffBase, job.Attempt)
	p.logger.Warn("job failed, retrying", "job", job.ID, "query", job.Query, "attempt", next.Attempt, "delay", delay, "error", err)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer p.retries.Done()
		p.mu.Lock()
		delete(p.pending, timer)
		p.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := p.queue.Enqueue(ctx, next); err != nil {
			p.logger.Warn("failed to re-enqueue job", "job", next.ID, "error", err)
		}
	})
	p.pending[timer] = struct{}{}
}

// PendingRetries reports how many retries are still waiting on their backoff.
func (p *RefreshProcessor) PendingRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// WaitRetries blocks until every scheduled retry has fired. Once ctx is done
// the retries still waiting are dropped.
func (p *RefreshProcessor) WaitRetries(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.retries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	p.mu.Lock()
	dropped := 0
	for timer := range p.pending {
		if timer.Stop() {
			delete(p.pending, timer)
			p.retries.Done()
			dropped++
		}
	}
	p.mu.Unlock()
	if dropped > 0 {
		p.logger.Warn("dropped pending retries on shutdown", "count", dropped)
	}
	<-done
}
