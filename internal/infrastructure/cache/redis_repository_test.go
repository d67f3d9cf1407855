package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/repository"
	"tokenAggregator/internal/infrastructure/cache"
	"tokenAggregator/pkg/utils"
)

func newTestRepository(t *testing.T) (*cache.RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewRedisRepository(client), mr
}

func TestRedisRepository_MergedListing(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	got, err := repo.GetMerged(ctx, "sol")
	if err != nil {
		t.Fatalf("failed to read empty cache: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %d items", len(got))
	}

	items := utils.NewRecordGenerator().GenerateMerged(3)
	if err := repo.SetMerged(ctx, "sol", items, 30*time.Second); err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}
	if !mr.Exists("tokens:list:sol") {
		t.Fatal("expected tokens:list:sol to exist")
	}
	if ttl := mr.TTL("tokens:list:sol"); ttl != 30*time.Second {
		t.Errorf("expected ttl 30s, got %v", ttl)
	}

	got, err = repo.GetMerged(ctx, "sol")
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 items, got %d", len(got))
	}
	if got[2].TokenAddress != "T2" || got[2].NormVolume24H != 20 {
		t.Errorf("expected T2 with volume 20, got %s with %f", got[2].TokenAddress, got[2].NormVolume24H)
	}

	mr.FastForward(31 * time.Second)
	got, err = repo.GetMerged(ctx, "sol")
	if err != nil || got != nil {
		t.Errorf("expected miss after expiry, got %d items, err %v", len(got), err)
	}
}

func TestRedisRepository_EmptyListingIsAHit(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	if err := repo.SetMerged(ctx, "nothing", nil, time.Minute); err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}
	got, err := repo.GetMerged(ctx, "nothing")
	if err != nil {
		t.Fatalf("failed to read cache: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil listing, got %v", got)
	}
}

func TestRedisRepository_ZeroTTLSkipsWrite(t *testing.T) {
	repo, mr := newTestRepository(t)

	if err := repo.SetMerged(context.Background(), "sol", utils.NewRecordGenerator().GenerateMerged(1), 0); err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}
	if mr.Exists("tokens:list:sol") {
		t.Error("expected no key for zero ttl")
	}
}

func TestRedisRepository_CorruptListing(t *testing.T) {
	repo, mr := newTestRepository(t)
	_ = mr.Set("tokens:list:sol", "{not json")

	if _, err := repo.GetMerged(context.Background(), "sol"); err == nil {
		t.Error("expected an error for a corrupt listing")
	}
}

func TestRedisRepository_Baselines(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	b, err := repo.GetBaseline(ctx, "solana", "A")
	if err != nil || b != nil {
		t.Fatalf("expected nil baseline on miss, got %v, err %v", b, err)
	}

	want := model.Baseline{Chain: "solana", Address: "A", PriceSol: 1.5, Volume24H: 100, UpdatedAt: 42}
	if err := repo.SetBaseline(ctx, want, time.Hour); err != nil {
		t.Fatalf("failed to store baseline: %v", err)
	}
	if ttl := mr.TTL("tokens:last:solana:A"); ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}

	got, err := repo.GetBaseline(ctx, "solana", "A")
	if err != nil {
		t.Fatalf("failed to read baseline: %v", err)
	}
	if got == nil || *got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	_ = mr.Set("tokens:last:solana:B", "garbage")
	if _, err := repo.GetBaseline(ctx, "solana", "B"); !errors.Is(err, repository.ErrCorruptBaseline) {
		t.Errorf("expected ErrCorruptBaseline, got %v", err)
	}
}

func TestRedisRepository_RetryMarker(t *testing.T) {
	repo, mr := newTestRepository(t)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, "rl:retry:jupiter:sol", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got %v, err %v", ok, err)
	}
	ok, err = repo.Acquire(ctx, "rl:retry:jupiter:sol", 5*time.Second)
	if err != nil || ok {
		t.Errorf("expected second acquire to fail, got %v, err %v", ok, err)
	}

	mr.FastForward(6 * time.Second)
	ok, err = repo.Acquire(ctx, "rl:retry:jupiter:sol", 5*time.Second)
	if err != nil || !ok {
		t.Errorf("expected acquire after expiry to succeed, got %v, err %v", ok, err)
	}
}

func TestRedisRepository_UnreachableServer(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	if _, err := repo.GetMerged(context.Background(), "sol"); err == nil {
		t.Error("expected an error when redis is down")
	}
	if err := repo.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail when redis is down")
	}
}
