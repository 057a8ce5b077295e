package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeBroker is an in-process Broker whose failures are switched on per test.
type fakeBroker struct {
	mu         sync.Mutex
	queues     map[string][]*Job
	processing map[string][]*Job
	dead       map[string][]*Job
	down       bool
	pingErr    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		queues:     make(map[string][]*Job),
		processing: make(map[string][]*Job),
		dead:       make(map[string][]*Job),
	}
}

var errBrokerDown = errors.New("connection refused")

func (b *fakeBroker) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *fakeBroker) Publish(_ context.Context, job *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.queues[job.Queue] = append(b.queues[job.Queue], job)
	return nil
}

func (b *fakeBroker) Receive(_ context.Context, queue string, _ time.Duration) (*Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errBrokerDown
	}
	if len(b.queues[queue]) == 0 {
		return nil, nil
	}
	job := b.queues[queue][0]
	b.queues[queue] = b.queues[queue][1:]
	b.processing[queue] = append(b.processing[queue], job)
	return &Delivery{Job: job, Queue: queue, raw: job.ID}, nil
}

func (b *fakeBroker) remove(queue, id string) {
	list := b.processing[queue]
	for i, j := range list {
		if j.ID == id {
			b.processing[queue] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (b *fakeBroker) Ack(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.remove(d.Queue, d.Job.ID)
	return nil
}

func (b *fakeBroker) Nack(_ context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.remove(d.Queue, d.Job.ID)
	b.dead[d.Queue] = append(b.dead[d.Queue], d.Job)
	return nil
}

func (b *fakeBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	return b.pingErr
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) count(list map[string][]*Job, queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(list[queue])
}
