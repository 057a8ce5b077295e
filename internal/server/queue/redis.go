package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker keeps each queue as a Redis list. Receive atomically moves the
// job to "<queue>:processing" so an unacknowledged job is never lost; Nack
// moves it on to "<queue>:dead".
type RedisBroker struct {
	client *redis.Client
	logger *slog.Logger
}

// RedisOptions configures the broker connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBroker creates a broker. It does not dial; use Ping to check the
// connection.
func NewRedisBroker(opts RedisOptions, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisBroker{client: client, logger: logger.With("component", "redis-broker")}
}

func (b *RedisBroker) Publish(ctx context.Context, job *Job) error {
	raw, err := encodeJob(job)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, job.Queue, raw).Err(); err != nil {
		return fmt.Errorf("%w: publish to %s: %v", ErrUnavailable, job.Queue, err)
	}
	return nil
}

func (b *RedisBroker) Receive(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error) {
	raw, err := b.client.BLMove(ctx, queue, processingQueue(queue), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: receive from %s: %v", ErrUnavailable, queue, err)
	}

	job, err := decodeJob(raw)
	if err != nil {
		// A payload nobody can parse goes straight to the dead-letter list.
		b.logger.Error("dropping malformed job", "queue", queue, "error", err)
		if nackErr := b.Nack(ctx, &Delivery{Queue: queue, raw: raw}); nackErr != nil {
			return nil, nackErr
		}
		return nil, nil
	}
	return &Delivery{Job: job, Queue: queue, raw: raw}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	if err := b.client.LRem(ctx, processingQueue(d.Queue), 1, d.raw).Err(); err != nil {
		return fmt.Errorf("%w: ack on %s: %v", ErrUnavailable, d.Queue, err)
	}
	return nil
}

func (b *RedisBroker) Nack(ctx context.Context, d *Delivery) error {
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingQueue(d.Queue), 1, d.raw)
		pipe.LPush(ctx, DeadLetterQueue(d.Queue), d.raw)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: nack on %s: %v", ErrUnavailable, d.Queue, err)
	}
	return nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Len returns the number of jobs waiting on queue.
func (b *RedisBroker) Len(ctx context.Context, queue string) (int64, error) {
	return b.client.LLen(ctx, queue).Result()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
