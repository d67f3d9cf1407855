package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/repository"
	"tokenAggregator/internal/domain/useCases"
)

// Delta thresholds on relative change against the last baseline.
var (
	DeltaPriceThreshold  = decimal.RequireFromString("0.005")
	DeltaVolumeThreshold = decimal.RequireFromString("0.01")
)

var relativeEpsilon = decimal.New(1, -12)

// Publisher runs snapshot/delta publish cycles. Events go out on the event
// bus; every broadcaster instance subscribed to it delivers them.
type Publisher struct {
	aggregator  useCases.Aggregator
	baselines   repository.BaselineStore
	bus         repository.EventBus
	baselineTTL time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewPublisher creates a publisher. baselineTTL <= 0 selects one hour.
func NewPublisher(
	aggregator useCases.Aggregator,
	baselines repository.BaselineStore,
	bus repository.EventBus,
	baselineTTL time.Duration,
	logger *slog.Logger,
) *Publisher {
	if baselineTTL <= 0 {
		baselineTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		aggregator:  aggregator,
		baselines:   baselines,
		bus:         bus,
		baselineTTL: baselineTTL,
		now:         time.Now,
		logger:      logger.With("component", "publisher"),
	}
}

var _ useCases.Publisher = (*Publisher)(nil)

// PublishCycle broadcasts one snapshot for query, then a delta for every
// asset whose price or volume moved past its threshold since the previous
// cycle. Baselines are refreshed every cycle; a first observation only sets
// the baseline.
func (p *Publisher) PublishCycle(ctx context.Context, query string) error {
	merged := p.aggregator.FetchAndMerge(ctx, query, 0)
	compact := dto.FromMergedList(merged, p.now())

	snapshot, err := json.Marshal(dto.SnapshotEvent{Type: dto.EventSnapshot, Query: query, Data: compact})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := p.bus.Publish(ctx, dto.UpdatesChannel, snapshot); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	deltas := 0
	for _, tok := range compact {
		emit := p.shouldEmitDelta(ctx, tok)

		if err := p.baselines.SetBaseline(ctx, tok.ToBaseline(), p.baselineTTL); err != nil {
			p.logger.Warn("failed to store baseline", "chain", tok.Chain, "address", tok.Address, "error", err)
		}
		if !emit {
			continue
		}

		payload, err := json.Marshal(dto.DeltaEvent{Type: dto.EventDelta, Query: query, Data: tok})
		if err != nil {
			return fmt.Errorf("marshal delta: %w", err)
		}
		if err := p.bus.Publish(ctx, dto.UpdatesChannel, payload); err != nil {
			p.logger.Warn("failed to publish delta", "chain", tok.Chain, "address", tok.Address, "error", err)
			continue
		}
		deltas++
	}

	p.logger.Debug("publish cycle done", "query", query, "tokens", len(compact), "deltas", deltas)
	return nil
}

func (p *Publisher) shouldEmitDelta(ctx context.Context, tok dto.CompactToken) bool {
	prev, err := p.baselines.GetBaseline(ctx, tok.Chain, tok.Address)
	if errors.Is(err, repository.ErrCorruptBaseline) {
		return true
	}
	if err != nil {
		p.logger.Warn("failed to read baseline", "chain", tok.Chain, "address", tok.Address, "error", err)
		return false
	}
	if prev == nil {
		return false
	}

	priceRel := RelativeChange(prev.PriceSol, tok.PriceSol)
	volumeRel := RelativeChange(prev.Volume24H, tok.Volume24H)
	return priceRel.GreaterThanOrEqual(DeltaPriceThreshold) ||
		volumeRel.GreaterThanOrEqual(DeltaVolumeThreshold)
}

// RelativeChange returns |cur-prev| / max(|prev|, 1e-12).
func RelativeChange(prev, cur float64) decimal.Decimal {
	p := decimal.NewFromFloat(prev)
	c := decimal.NewFromFloat(cur)
	base := decimal.Max(p.Abs(), relativeEpsilon)
	return c.Sub(p).Abs().Div(base)
}
