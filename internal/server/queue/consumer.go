package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Processor handles the jobs of one queue.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

// Source is where a consumer pulls deliveries from. *Dispatcher satisfies it.
type Source interface {
	Receive(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery) error
}

// Consumer runs one loop per queue with a single job in flight on each.
// Horizontal scale comes from running more consumer processes.
type Consumer struct {
	source      Source
	processors  map[string]Processor
	pollTimeout time.Duration
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewConsumer creates a consumer for every queue that has a processor.
func NewConsumer(source Source, processors map[string]Processor, pollTimeout time.Duration, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &Consumer{
		source:      source,
		processors:  processors,
		pollTimeout: pollTimeout,
		logger:      logger.With("component", "consumer"),
	}
}

// Start launches the queue loops. They stop when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for queue := range c.processors {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop(ctx, queue)
		}()
	}
	c.logger.Info("job consumer started", "queues", len(c.processors))
}

// Wait blocks until every loop has returned.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) loop(ctx context.Context, queue string) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("job consumer stopping", "queue", queue)
			return
		}
		if _, err := c.ProcessNext(ctx, queue); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("failed to receive job", "queue", queue, "error", err)
			select {
			case <-time.After(c.pollTimeout):
			case <-ctx.Done():
			}
		}
	}
}

// ProcessNext receives and handles at most one job. It reports whether a job
// was handled. A processing failure is not an error here: the job is
// dead-lettered and the loop moves on.
func (c *Consumer) ProcessNext(ctx context.Context, queue string) (bool, error) {
	del, err := c.source.Receive(ctx, queue, c.pollTimeout)
	if err != nil || del == nil {
		return false, err
	}

	log := c.logger.With("queue", queue, "job_id", del.Job.ID, "file_id", del.Job.FileID)
	processor, ok := c.processors[queue]
	if !ok {
		log.Error("no processor for queue, dead-lettering job")
		return true, c.source.Nack(ctx, del)
	}

	start := time.Now()
	if err := processor.Process(ctx, del.Job); err != nil {
		processedTotal.WithLabelValues(queue, "dead_letter").Inc()
		log.Error("job failed, dead-lettering", "error", err, "durable", del.Durable())
		return true, c.source.Nack(ctx, del)
	}

	processedTotal.WithLabelValues(queue, "ack").Inc()
	log.Info("job processed", "duration", time.Since(start), "durable", del.Durable())
	return true, c.source.Ack(ctx, del)
}
