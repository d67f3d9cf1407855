package dto

import (
	"time"

	"github.com/google/uuid"

	"tokenAggregator/internal/domain/model"
)

// Event types carried on the updates channel.
const (
	EventSnapshot = "snapshot"
	EventDelta    = "delta"
)

// Pub/sub channel names.
const (
	UpdatesChannel   = "tokens:updates"
	RateLimitChannel = "rate_limit:requests"
)

// CompactToken is the per-asset payload of snapshot and delta events.
type CompactToken struct {
	Chain     string  `json:"chain"`
	Address   string  `json:"address"`
	PriceSol  float64 `json:"price_sol"`
	Volume24H float64 `json:"volume_24h"`
	UpdatedAt int64   `json:"updated_at"`
}

// FromMerged builds the compact payload of a merged record.
// Missing timestamps are stamped with now.
func FromMerged(rec model.MergedRecord, now time.Time) CompactToken {
	updated := rec.UpdatedAt
	if updated == 0 {
		updated = now.UnixMilli()
	}
	return CompactToken{
		Chain:     rec.Chain,
		Address:   rec.TokenAddress,
		PriceSol:  model.FloatOr(rec.PriceSol, 0),
		Volume24H: rec.NormVolume24H,
		UpdatedAt: updated,
	}
}

// FromMergedList converts a merged listing into compact payloads.
func FromMergedList(recs []model.MergedRecord, now time.Time) []CompactToken {
	out := make([]CompactToken, len(recs))
	for i, rec := range recs {
		out[i] = FromMerged(rec, now)
	}
	return out
}

// ToBaseline converts a compact payload into the baseline stored for it.
func (t CompactToken) ToBaseline() model.Baseline {
	return model.Baseline{
		Chain:     t.Chain,
		Address:   t.Address,
		PriceSol:  t.PriceSol,
		Volume24H: t.Volume24H,
		UpdatedAt: t.UpdatedAt,
	}
}

// SnapshotEvent carries the full compact listing for a query.
type SnapshotEvent struct {
	Type  string         `json:"type"`
	Query string         `json:"query"`
	Data  []CompactToken `json:"data"`
}

// DeltaEvent carries one significant per-asset change.
type DeltaEvent struct {
	Type  string       `json:"type"`
	Query string       `json:"query"`
	Data  CompactToken `json:"data"`
}

// EventEnvelope is decoded by the broadcaster to route an event without
// re-encoding it.
type EventEnvelope struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

// FilterMessage is the subscriber-sent control message. Nil fields leave the
// existing filter value untouched.
type FilterMessage struct {
	Type   string  `json:"type"`
	Q      *string `json:"q,omitempty"`
	Period *string `json:"period,omitempty"`
}

// FilterMessageType is the only control message type subscribers may send.
const FilterMessageType = "setFilter"

// RateLimitNotice is published when a provider call is denied admission.
type RateLimitNotice struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
}

// RefreshJob asks a worker to run one publish cycle.
type RefreshJob struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Refresh job reasons.
const (
	ReasonScheduled = "scheduled"
	ReasonRateLimit = "rate_limit"
	ReasonRetry     = "retry"
)

// NewRefreshJob creates a first-attempt job with a fresh id.
func NewRefreshJob(query, reason string) RefreshJob {
	return RefreshJob{
		ID:        uuid.NewString(),
		Query:     query,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
}

// NextAttempt returns a copy of the job for its next retry.
func (j RefreshJob) NextAttempt() RefreshJob {
	j.Attempt++
	j.Reason = ReasonRetry
	return j
}
