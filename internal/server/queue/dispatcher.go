package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher publishes jobs without failing the caller. It starts durable
// when a broker is configured and answers, and switches to degraded mode the
// first time the broker fails. There is no automatic reconnection: degraded
// mode lasts until the process restarts.
type Dispatcher struct {
	broker    Broker
	buffer    *Buffer
	available atomic.Bool
	logger    *slog.Logger

	degraded     chan struct{}
	degradedOnce sync.Once
}

// NewDispatcher creates a dispatcher. A nil broker means the durable queue
// is disabled by configuration and every job is buffered.
func NewDispatcher(ctx context.Context, broker Broker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		broker:   broker,
		buffer:   NewBuffer(),
		degraded: make(chan struct{}),
		logger:   logger.With("component", "dispatcher"),
	}

	if broker == nil {
		d.logger.Warn("durable queue disabled, jobs will be buffered in memory and lost on restart")
		degradedGauge.Set(1)
		d.markDegraded()
		return d
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := broker.Ping(pingCtx); err != nil {
		d.degrade(err)
		return d
	}
	d.available.Store(true)
	degradedGauge.Set(0)
	d.logger.Info("connected to durable queue broker")
	return d
}

// IsAvailable reports whether jobs currently go to the durable broker.
func (d *Dispatcher) IsAvailable() bool {
	return d.available.Load()
}

// Buffer exposes the degraded-mode buffer.
func (d *Dispatcher) Buffer() *Buffer {
	return d.buffer
}

// Publish hands job to the broker, or to the in-memory buffer in degraded
// mode. It reports whether the job was stored durably and never fails.
func (d *Dispatcher) Publish(ctx context.Context, job *Job) bool {
	if d.available.Load() {
		err := d.broker.Publish(ctx, job)
		if err == nil {
			publishedTotal.WithLabelValues(job.Queue, "durable").Inc()
			return true
		}
		d.degrade(err)
	}

	d.buffer.Push(job)
	publishedTotal.WithLabelValues(job.Queue, "buffered").Inc()
	bufferedGauge.WithLabelValues(job.Queue).Set(float64(d.buffer.Len(job.Queue)))
	d.logger.Warn("job buffered in memory, it will be lost on restart",
		"queue", job.Queue,
		"job_id", job.ID,
		"file_id", job.FileID,
	)
	return false
}

// Receive returns the next job for queue. Buffered jobs are drained first so
// nothing published during an outage is stranded; the broker is consulted
// only while it is available.
func (d *Dispatcher) Receive(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error) {
	if job, ok := d.buffer.Pop(queue); ok {
		bufferedGauge.WithLabelValues(queue).Set(float64(d.buffer.Len(queue)))
		return &Delivery{Job: job, Queue: queue, buffered: true}, nil
	}

	if d.available.Load() {
		del, err := d.broker.Receive(ctx, queue, timeout)
		if err == nil || ctx.Err() != nil {
			return del, err
		}
		d.degrade(err)
	}

	// Nothing to do; wait out the poll interval so callers do not spin.
	select {
	case <-time.After(timeout):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

// Ack acknowledges a delivery.
func (d *Dispatcher) Ack(ctx context.Context, del *Delivery) error {
	if !del.Durable() {
		return nil
	}
	err := d.broker.Ack(ctx, del)
	if err != nil {
		d.degrade(err)
	}
	return err
}

// Nack dead-letters a delivery.
func (d *Dispatcher) Nack(ctx context.Context, del *Delivery) error {
	if !del.Durable() {
		d.buffer.DeadLetter(del.Job)
		return nil
	}
	err := d.broker.Nack(ctx, del)
	if err != nil {
		d.degrade(err)
	}
	return err
}

func (d *Dispatcher) degrade(err error) {
	degradedGauge.Set(1)
	wasAvailable := d.available.Swap(false)
	d.logger.Warn("durable queue unavailable, switching to in-memory buffering",
		"error", err,
		"was_available", wasAvailable,
	)
	d.markDegraded()
}

func (d *Dispatcher) markDegraded() {
	d.degradedOnce.Do(func() { close(d.degraded) })
}

// Degraded returns a channel that is closed once the dispatcher stops using
// the broker. It never reopens.
func (d *Dispatcher) Degraded() <-chan struct{} {
	return d.degraded
}
