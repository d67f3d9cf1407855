// Package pubsub distributes events between process instances over Redis
// pub/sub.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"tokenAggregator/internal/domain/repository"
)

// RedisBus publishes and subscribes on Redis channels.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger.With("component", "pubsub")}
}

var _ repository.EventBus = (*RedisBus)(nil)

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers
// messages to handler on a dedicated goroutine until ctx is done.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler repository.MessageHandler) error {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	msgs := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.dispatch(channel, handler, []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info("subscribed", "channel", channel)
	return nil
}

func (b *RedisBus) dispatch(channel string, handler repository.MessageHandler, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "channel", channel, "panic", r)
		}
	}()
	handler(payload)
}
