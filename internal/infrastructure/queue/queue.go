// Package queue carries refresh jobs from the scheduler to the worker pool,
// either through Kafka or an in-process channel when no broker is configured.
package queue

import (
	"context"
	"errors"
	"sync"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/useCases"
)

// ErrClosed is returned when enqueueing on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is both ends of a refresh-job queue.
type Queue interface {
	useCases.JobQueue
	Consume(ctx context.Context) (<-chan dto.RefreshJob, error)
	Commit(ctx context.Context, job dto.RefreshJob) error
	Close() error
}

// ChannelQueue is the in-process fallback. Jobs are lost on restart.
type ChannelQueue struct {
	jobs chan dto.RefreshJob

	mu     sync.RWMutex
	closed bool
}

func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 256
	}
	return &ChannelQueue{jobs: make(chan dto.RefreshJob, size)}
}

var _ Queue = (*ChannelQueue)(nil)

// Enqueue blocks while the buffer is full, until ctx is done.
func (q *ChannelQueue) Enqueue(ctx context.Context, job dto.RefreshJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelQueue) Consume(context.Context) (<-chan dto.RefreshJob, error) {
	return q.jobs, nil
}

func (q *ChannelQueue) Commit(context.Context, dto.RefreshJob) error {
	return nil
}

func (q *ChannelQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}
