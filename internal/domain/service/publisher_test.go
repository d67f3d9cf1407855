package service_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/service"
)

// MockAggregator serves whatever records the test put in it.
type MockAggregator struct {
	records []model.MergedRecord
	ttls    []int
}

func (a *MockAggregator) FetchAndMerge(_ context.Context, _ string, cacheTTLSeconds int) []model.MergedRecord {
	a.ttls = append(a.ttls, cacheTTLSeconds)
	return a.records
}

func (a *MockAggregator) List(_ context.Context, _ string, req model.PageRequest) model.Page {
	return service.Paginate(a.records, req)
}

func mergedRecord(addr string, price, volume float64) model.MergedRecord {
	return model.MergedRecord{
		NormalizedRecord: model.NormalizedRecord{
			Source:       "dexscreener",
			Chain:        "solana",
			TokenAddress: addr,
			PriceSol:     model.Float(price),
			Volume24H:    model.Float(volume),
			UpdatedAt:    1700000000000,
		},
		NormVolume24H: volume,
	}
}

func eventTypes(t *testing.T, payloads [][]byte) []string {
	t.Helper()
	types := make([]string, len(payloads))
	for i, p := range payloads {
		var env dto.EventEnvelope
		if err := json.Unmarshal(p, &env); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		types[i] = env.Type
	}
	return types
}

func TestPublisher_FirstCycleOnlySnapshot(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 10, 100), mergedRecord("B", 1, 5)}}
	bus := &MockBus{}
	baselines := NewMockBaselines()

	pub := service.NewPublisher(agg, baselines, bus, 0, nil)
	if err := pub.PublishCycle(context.Background(), "sol"); err != nil {
		t.Fatalf("failed to publish cycle: %v", err)
	}

	types := eventTypes(t, bus.On(dto.UpdatesChannel))
	if len(types) != 1 || types[0] != dto.EventSnapshot {
		t.Fatalf("expected a single snapshot, got %v", types)
	}

	var snap dto.SnapshotEvent
	if err := json.Unmarshal(bus.On(dto.UpdatesChannel)[0], &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Query != "sol" || len(snap.Data) != 2 {
		t.Errorf("expected snapshot for sol with 2 tokens, got %s with %d", snap.Query, len(snap.Data))
	}
	if len(baselines.byKey) != 2 {
		t.Errorf("expected 2 baselines stored, got %d", len(baselines.byKey))
	}
	if len(agg.ttls) != 1 || agg.ttls[0] != 0 {
		t.Errorf("expected publish cycle not to write the cache, got ttls %v", agg.ttls)
	}
}

func TestPublisher_PriceMoveEmitsOneDelta(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 10, 100), mergedRecord("B", 1, 5)}}
	bus := &MockBus{}

	pub := service.NewPublisher(agg, NewMockBaselines(), bus, 0, nil)
	if err := pub.PublishCycle(context.Background(), "sol"); err != nil {
		t.Fatalf("failed to publish first cycle: %v", err)
	}

	agg.records = []model.MergedRecord{mergedRecord("A", 11, 100), mergedRecord("B", 1, 5)}
	if err := pub.PublishCycle(context.Background(), "sol"); err != nil {
		t.Fatalf("failed to publish second cycle: %v", err)
	}

	payloads := bus.On(dto.UpdatesChannel)
	types := eventTypes(t, payloads)
	want := []string{dto.EventSnapshot, dto.EventSnapshot, dto.EventDelta}
	if len(types) != len(want) {
		t.Fatalf("expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("expected events %v, got %v", want, types)
			break
		}
	}

	var delta dto.DeltaEvent
	if err := json.Unmarshal(payloads[2], &delta); err != nil {
		t.Fatalf("failed to decode delta: %v", err)
	}
	if delta.Data.Address != "A" || delta.Data.PriceSol != 11 {
		t.Errorf("expected delta for A at 11, got %s at %f", delta.Data.Address, delta.Data.PriceSol)
	}
}

func TestPublisher_SmallMovesStayQuiet(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 100, 1000)}}
	bus := &MockBus{}

	pub := service.NewPublisher(agg, NewMockBaselines(), bus, 0, nil)
	_ = pub.PublishCycle(context.Background(), "sol")

	// 0.4% price and 0.9% volume stay under the thresholds.
	agg.records = []model.MergedRecord{mergedRecord("A", 100.4, 1009)}
	_ = pub.PublishCycle(context.Background(), "sol")

	types := eventTypes(t, bus.On(dto.UpdatesChannel))
	if len(types) != 2 {
		t.Errorf("expected two snapshots and no delta, got %v", types)
	}
}

func TestPublisher_VolumeMoveEmitsDelta(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 100, 1000)}}
	bus := &MockBus{}

	pub := service.NewPublisher(agg, NewMockBaselines(), bus, 0, nil)
	_ = pub.PublishCycle(context.Background(), "sol")

	agg.records = []model.MergedRecord{mergedRecord("A", 100, 1010)}
	_ = pub.PublishCycle(context.Background(), "sol")

	types := eventTypes(t, bus.On(dto.UpdatesChannel))
	if len(types) != 3 || types[2] != dto.EventDelta {
		t.Errorf("expected a delta on a 1%% volume move, got %v", types)
	}
}

func TestPublisher_CorruptBaselineEmitsDelta(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 10, 100)}}
	bus := &MockBus{}
	baselines := NewMockBaselines()
	baselines.corrupt[model.AssetKey("solana", "A")] = true

	pub := service.NewPublisher(agg, baselines, bus, 0, nil)
	if err := pub.PublishCycle(context.Background(), "sol"); err != nil {
		t.Fatalf("failed to publish cycle: %v", err)
	}

	types := eventTypes(t, bus.On(dto.UpdatesChannel))
	if len(types) != 2 || types[1] != dto.EventDelta {
		t.Errorf("expected snapshot then delta, got %v", types)
	}
	if _, ok := baselines.byKey[model.AssetKey("solana", "A")]; !ok {
		t.Error("expected baseline to be rewritten")
	}
}

func TestPublisher_SnapshotFailureIsReturned(t *testing.T) {
	agg := &MockAggregator{records: []model.MergedRecord{mergedRecord("A", 10, 100)}}
	bus := &MockBus{failOn: dto.UpdatesChannel}

	pub := service.NewPublisher(agg, NewMockBaselines(), bus, 0, nil)
	if err := pub.PublishCycle(context.Background(), "sol"); err == nil {
		t.Error("expected an error when the snapshot cannot be published")
	}
}

func TestPublisher_NonFiniteProviderNumbers(t *testing.T) {
	good := solRecord("dexscreener", "A", 10)
	good.PriceSol = model.Float(1.5)
	huge := solRecord("dexscreener", "B", 5)
	huge.PriceSol = model.Float(math.Inf(1))
	huge.Volume1H = model.Float(math.NaN())
	dex := &MockProvider{name: "dexscreener", records: []model.NormalizedRecord{good, huge}}

	cache := NewMockCache()
	agg := service.NewAggregator([]service.ProviderBinding{{Provider: dex}}, nil, nil, cache, service.NewMerger(nil))
	bus := &MockBus{}
	pub := service.NewPublisher(agg, NewMockBaselines(), bus, 0, nil)

	if err := pub.PublishCycle(context.Background(), "sol"); err != nil {
		t.Fatalf("failed to publish cycle: %v", err)
	}
	snaps := bus.On(dto.UpdatesChannel)
	if len(snaps) != 1 {
		t.Fatalf("expected a snapshot, got %d events", len(snaps))
	}
	var snap dto.SnapshotEvent
	if err := json.Unmarshal(snaps[0], &snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if len(snap.Data) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(snap.Data))
	}
	if b := snap.Data[1]; b.Address != "B" || b.PriceSol != 0 {
		t.Errorf("expected B with a zero compact price, got %+v", b)
	}

	page := agg.List(context.Background(), "sol", model.PageRequest{})
	if _, err := json.Marshal(page); err != nil {
		t.Fatalf("failed to encode page: %v", err)
	}
	b := findByKey(t, page.Items, "solana:b")
	if b.PriceSol != nil || b.Volume1H != nil {
		t.Errorf("expected absent price and 1h volume, got %v/%v", b.PriceSol, b.Volume1H)
	}
	if len(cache.items["sol"]) != 2 {
		t.Errorf("expected the listing to be cached, got %d items", len(cache.items["sol"]))
	}
}

func TestRelativeChange(t *testing.T) {
	tests := []struct {
		prev, cur float64
		want      string
	}{
		{10, 11, "0.1"},
		{100, 99.5, "0.005"},
		{0, 0, "0"},
		{-4, -2, "0.5"},
	}
	for _, tt := range tests {
		got := service.RelativeChange(tt.prev, tt.cur)
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RelativeChange(%v, %v) = %s, want %s", tt.prev, tt.cur, got, tt.want)
		}
	}

	if service.RelativeChange(0, 1).LessThan(service.DeltaPriceThreshold) {
		t.Error("expected any move away from zero to cross the price threshold")
	}
}
