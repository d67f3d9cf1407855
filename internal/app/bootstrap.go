package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"tokenAggregator/config"
	"tokenAggregator/internal/app/dto"
	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/service"
	httpserver "tokenAggregator/internal/handlers/http"
	ws "tokenAggregator/internal/handlers/websocket"
	redisrepo "tokenAggregator/internal/infrastructure/cache"
	"tokenAggregator/internal/infrastructure/providers"
	"tokenAggregator/internal/infrastructure/pubsub"
	"tokenAggregator/internal/infrastructure/queue"
	"tokenAggregator/internal/infrastructure/ratelimit"
)

// AppContext holds all app dependencies
type AppContext struct {
	Config *config.Config
	Logger *slog.Logger

	Redis       *redis.Client
	Store       *redisrepo.RedisRepository
	Bus         *pubsub.RedisBus
	Aggregator  *service.Aggregator
	Publisher   *service.Publisher
	Broadcaster *ws.WebSocketBroadcaster
	Queue       queue.Queue
	Scheduler   *Scheduler
	Processor   *RefreshProcessor
	HTTPServer  *httpserver.Server
}

// BuildProviders turns the enabled registry entries into rate-limited
// bindings, in registry order, plus the class of every source.
func BuildProviders(cfg *config.Config, client *providers.Client) ([]service.ProviderBinding, map[string]model.ProviderClass, error) {
	var bindings []service.ProviderBinding
	classes := make(map[string]model.ProviderClass)

	for _, pc := range cfg.EnabledProviders() {
		p, err := providers.New(pc.Name, pc.BaseURL, cfg.CoinGeckoAPIKey, client)
		if err != nil {
			return nil, nil, err
		}
		bindings = append(bindings, service.ProviderBinding{
			Provider: p,
			Limit: model.RateLimit{
				Capacity:         pc.Capacity,
				RefillIntervalMs: pc.RefillIntervalMs(),
			},
		})
		classes[p.Name()] = model.ProviderClass(pc.Class)
	}
	return bindings, classes, nil
}

// NewApp initializes the app context with all dependencies
func NewApp(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*AppContext, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &AppContext{Config: cfg, Logger: logger}

	// Shared store
	app.Redis = redisrepo.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	app.Store = redisrepo.NewRedisRepository(app.Redis)
	if err := app.Store.Ping(ctx); err != nil {
		_ = app.Redis.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("Redis store initialized", "addr", cfg.RedisAddr)

	app.Bus = pubsub.NewRedisBus(app.Redis, logger)
	limiter := ratelimit.NewRedisLimiter(app.Redis)

	// Providers
	client := providers.NewClient(
		providers.WithTimeout(cfg.ProviderTimeout),
		providers.WithRetries(cfg.ProviderMaxRetries),
		providers.WithLogger(logger),
	)
	bindings, classes, err := BuildProviders(cfg, client)
	if err != nil {
		_ = app.Redis.Close()
		return nil, err
	}
	logger.Info("Providers configured", "count", len(bindings))

	app.Aggregator = service.NewAggregator(
		bindings,
		limiter,
		app.Bus,
		app.Store,
		service.NewMerger(classes),
		service.WithProviderTimeout(cfg.ProviderTimeout),
		service.WithCacheTTL(cfg.CacheTTLSeconds),
		service.WithLogger(logger),
	)
	app.Publisher = service.NewPublisher(app.Aggregator, app.Store, app.Bus, cfg.BaselineTTL, logger)

	// Fan-out
	app.Broadcaster = ws.NewWebSocketBroadcaster(logger)
	if err := app.Bus.Subscribe(ctx, dto.UpdatesChannel, app.Broadcaster.HandleEvent); err != nil {
		_ = app.Redis.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", dto.UpdatesChannel, err)
	}

	// Refresh queue
	if cfg.UsesKafka() {
		app.Queue = queue.NewKafkaQueue(queue.KafkaConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger)
		logger.Info("Using Kafka for refresh jobs", "topic", cfg.KafkaTopic)
	} else {
		app.Queue = queue.NewChannelQueue(cfg.WorkerConcurrency * 64)
		logger.Info("Kafka not configured, using in-process queue")
	}

	app.Scheduler = NewScheduler(app.Queue, app.Broadcaster, app.Bus, app.Store, SchedulerConfig{
		Interval:       cfg.RefreshInterval,
		DefaultQueries: cfg.DefaultQueries,
		RetryMarkerTTL: cfg.RetryMarkerTTL,
		RetryDelay:     cfg.JobBackoffBase,
	}, logger)
	app.Processor = NewRefreshProcessor(app.Queue, app.Publisher, cfg.WorkerConcurrency, cfg.JobMaxAttempts, cfg.JobBackoffBase, logger)

	app.HTTPServer = httpserver.NewServer(
		":"+cfg.HTTPPort,
		app.Aggregator,
		app.Publisher,
		app.Broadcaster,
		app.Store.Ping,
		logger,
	)

	return app, nil
}

// Cleanup performs graceful shutdown of all components
func (a *AppContext) Cleanup(ctx context.Context) {
	if a.Broadcaster != nil {
		a.Logger.Info("Disconnecting subscribers...")
		a.Broadcaster.Close()
	}

	if a.Queue != nil {
		a.Logger.Info("Closing refresh queue...")
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn("Error closing refresh queue", "error", err)
		}
	}

	if a.Processor != nil {
		a.Processor.WaitRetries(ctx)
	}

	if a.Redis != nil {
		a.Logger.Info("Closing Redis client...")
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("Error closing Redis client", "error", err)
		}
	}

	a.Logger.Info("All resources cleaned up")
}
