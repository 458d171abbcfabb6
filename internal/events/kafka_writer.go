package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/signalsfoundry/missionctl/model"
)

// KafkaConfig contains configurable parameters for the Kafka event sink.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string
	// Topic is the topic events are written to.
	Topic string
	// MaxAttempts is how many times a write is retried on transient
	// error. Defaults to 3 if <= 0.
	MaxAttempts int
	// WriteTimeout is the per-attempt timeout. Defaults to 10s if zero.
	WriteTimeout time.Duration
}

// KafkaWriter publishes events to a Kafka topic, keyed by entity ID so
// per-entity ordering is preserved across partitions.
type KafkaWriter struct {
	writer      *kafka.Writer
	maxAttempts int
	timeout     time.Duration
}

// NewKafkaWriter constructs a Kafka event sink.
func NewKafkaWriter(cfg KafkaConfig) (*KafkaWriter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaWriter{writer: w, maxAttempts: cfg.MaxAttempts, timeout: cfg.WriteTimeout}, nil
}

// Write publishes one event, retrying with capped exponential backoff on
// transient failures.
func (k *KafkaWriter) Write(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.EntityID),
		Value: value,
		Time:  ev.Timestamp,
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= k.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, k.timeout)
		err := k.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce event %s failed after %d attempts: %w", ev.ID, k.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (k *KafkaWriter) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
