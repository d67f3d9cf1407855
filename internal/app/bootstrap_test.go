package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"tokenAggregator/config"
	"tokenAggregator/internal/app"
	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/infrastructure/providers"
	"tokenAggregator/internal/infrastructure/queue"
)

func testConfig(redisAddr string) *config.Config {
	return &config.Config{
		Env:               "local",
		HTTPPort:          "0",
		RedisAddr:         redisAddr,
		WorkerConcurrency: 2,
		JobMaxAttempts:    3,
		JobBackoffBase:    time.Millisecond,
		RefreshInterval:   time.Hour,
		DefaultQueries:    []string{"sol"},
		CacheTTLSeconds:   30,
		BaselineTTL:       time.Hour,
		RetryMarkerTTL:    5 * time.Second,
		ProviderTimeout:   time.Second,
		Providers:         config.DefaultProviders(),
	}
}

func TestBuildProviders(t *testing.T) {
	cfg := testConfig("")
	cfg.Providers[1].Enabled = false
	cfg.Providers[2].Capacity = 30
	cfg.Providers[2].RefillInterval = 2 * time.Second

	bindings, classes, err := app.BuildProviders(cfg, providers.NewClient())
	if err != nil {
		t.Fatalf("failed to build providers: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	if bindings[0].Provider.Name() != "dexscreener" || bindings[1].Provider.Name() != "coingecko" {
		t.Errorf("expected registry order, got %s, %s", bindings[0].Provider.Name(), bindings[1].Provider.Name())
	}
	if bindings[0].Limit != (model.RateLimit{Capacity: 300, RefillIntervalMs: 200}) {
		t.Errorf("unexpected dexscreener limit %+v", bindings[0].Limit)
	}
	if bindings[1].Limit != (model.RateLimit{Capacity: 30, RefillIntervalMs: 2000}) {
		t.Errorf("unexpected coingecko limit %+v", bindings[1].Limit)
	}
	if classes["coingecko"] != model.ClassAggregator || classes["dexscreener"] != model.ClassDex {
		t.Errorf("unexpected classes %v", classes)
	}

	cfg.Providers = append(cfg.Providers, config.ProviderConfig{Name: "birdeye", Class: "dex", Capacity: 1, RefillInterval: time.Second, Enabled: true})
	if _, _, err := app.BuildProviders(cfg, providers.NewClient()); err == nil {
		t.Error("expected an unknown provider to fail")
	}
}

func TestNewApp_Wiring(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(ctx, nil, testConfig(mr.Addr()))
	if err != nil {
		t.Fatalf("failed to init app: %v", err)
	}
	defer func() {
		cancel()
		a.Cleanup(context.Background())
	}()

	if _, ok := a.Queue.(*queue.ChannelQueue); !ok {
		t.Errorf("expected the in-process queue, got %T", a.Queue)
	}

	rec := httptest.NewRecorder()
	a.HTTPServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected healthy app, got %d", rec.Code)
	}

	mr.SetError("server down")
	rec = httptest.NewRecorder()
	a.HTTPServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected unhealthy app, got %d", rec.Code)
	}
	mr.SetError("")
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := app.NewApp(ctx, nil, testConfig("127.0.0.1:1")); err == nil {
		t.Fatal("expected an error without redis")
	}
}
