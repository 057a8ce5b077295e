package queue

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the durable broker cannot be reached. The
// dispatcher absorbs it by switching to the in-memory buffer.
var ErrUnavailable = errors.New("queue broker unavailable")

// Broker is a durable queue with explicit acknowledgement.
type Broker interface {
	Publish(ctx context.Context, job *Job) error
	// Receive blocks up to timeout for the next job on queue and returns a nil
	// delivery when none arrived.
	Receive(ctx context.Context, queue string, timeout time.Duration) (*Delivery, error)
	// Ack removes a delivered job for good.
	Ack(ctx context.Context, d *Delivery) error
	// Nack moves a delivered job to the queue's dead-letter list without
	// requeueing it.
	Nack(ctx context.Context, d *Delivery) error
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is a received job awaiting ack or nack.
type Delivery struct {
	Job   *Job
	Queue string

	raw      string
	buffered bool
}

// Durable reports whether the delivery came from the broker.
func (d *Delivery) Durable() bool { return !d.buffered }

// DeadLetterQueue names the dead-letter list of queue.
func DeadLetterQueue(queue string) string { return queue + ":dead" }

func processingQueue(queue string) string { return queue + ":processing" }
