package useCases

import (
	"context"
	"net/http"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/model"
)

// Provider maps one third-party data source into normalized records.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]model.NormalizedRecord, error)
}

// Aggregator fetches, merges and lists tokens for a query.
type Aggregator interface {
	FetchAndMerge(ctx context.Context, query string, cacheTTLSeconds int) []model.MergedRecord
	List(ctx context.Context, query string, req model.PageRequest) model.Page
}

// Publisher runs one snapshot/delta publish cycle for a query.
type Publisher interface {
	PublishCycle(ctx context.Context, query string) error
}

// Broadcaster pushes events to live subscribers.
type Broadcaster interface {
	Broadcast(query string, payload []byte)
	ActiveQueries() []string
	Handler() http.HandlerFunc
}

// JobQueue accepts refresh jobs for asynchronous publish cycles.
type JobQueue interface {
	Enqueue(ctx context.Context, job dto.RefreshJob) error
}
