package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"tokenAggregator/internal/app/dto"
)

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// KafkaProducer writes refresh jobs to a topic.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a new Kafka producer
func NewKafkaProducer(config KafkaConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{}, // jobs of one query land on one partition
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaProducer{writer: writer}
}

// Enqueue sends a refresh job to Kafka, keyed by its query.
func (p *KafkaProducer) Enqueue(ctx context.Context, job dto.RefreshJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.Query),
		Value: data,
		Time:  time.Now(),
	})
}

// Close closes the producer
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads refresh jobs with manual offset commits.
type KafkaConsumer struct {
	reader *kafka.Reader
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]kafka.Message // job id -> message
}

// NewKafkaConsumer creates a new Kafka consumer
func NewKafkaConsumer(config KafkaConfig, logger *slog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commits are explicit
		StartOffset:    kafka.LastOffset,
	})
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaConsumer{
		reader:  reader,
		logger:  logger.With("component", "kafka_consumer"),
		pending: make(map[string]kafka.Message),
	}
}

// Consume returns a channel of jobs read from Kafka. The channel is closed
// when ctx is done or the reader fails.
func (c *KafkaConsumer) Consume(ctx context.Context) (<-chan dto.RefreshJob, error) {
	jobs := make(chan dto.RefreshJob, 64)

	go func() {
		defer close(jobs)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Error("error fetching message", "error", err)
				}
				return
			}

			var job dto.RefreshJob
			if err := json.Unmarshal(msg.Value, &job); err != nil || job.Query == "" {
				c.logger.Warn("dropping malformed job", "offset", msg.Offset, "error", err)
				// Commit bad messages to avoid getting stuck
				_ = c.reader.CommitMessages(ctx, msg)
				continue
			}
			if job.ID == "" {
				job.ID = fmt.Sprintf("%s-%d-%d", job.Query, msg.Partition, msg.Offset)
			}

			c.pendingMu.Lock()
			c.pending[job.ID] = msg
			c.pendingMu.Unlock()

			select {
			case <-ctx.Done():
				return
			case jobs <- job:
			}
		}
	}()

	return jobs, nil
}

// Commit acknowledges that a job has been handled.
func (c *KafkaConsumer) Commit(ctx context.Context, job dto.RefreshJob) error {
	if job.ID == "" {
		return errors.New("cannot commit job with empty ID")
	}

	c.pendingMu.Lock()
	msg, ok := c.pending[job.ID]
	delete(c.pending, job.ID)
	c.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("message for job %s not found in pending messages", job.ID)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit message for job %s: %w", job.ID, err)
	}
	return nil
}

// Close closes the consumer
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

// KafkaQueue is a Queue backed by one producer and one consumer group member.
type KafkaQueue struct {
	*KafkaProducer
	*KafkaConsumer
}

func NewKafkaQueue(config KafkaConfig, logger *slog.Logger) *KafkaQueue {
	return &KafkaQueue{
		KafkaProducer: NewKafkaProducer(config),
		KafkaConsumer: NewKafkaConsumer(config, logger),
	}
}

var _ Queue = (*KafkaQueue)(nil)

func (q *KafkaQueue) Close() error {
	return errors.Join(q.KafkaProducer.Close(), q.KafkaConsumer.Close())
}
