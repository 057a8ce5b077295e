package queue

import "sync"

// Buffer is the volatile per-queue FIFO used in degraded mode. Its contents
// do not survive a restart.
type Buffer struct {
	mu     sync.Mutex
	queues map[string][]*Job
	dead   map[string][]*Job
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		queues: make(map[string][]*Job),
		dead:   make(map[string][]*Job),
	}
}

// Push appends job to its queue.
func (b *Buffer) Push(job *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[job.Queue] = append(b.queues[job.Queue], job)
}

// Pop removes the oldest job on queue.
func (b *Buffer) Pop(queue string) (*Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jobs := b.queues[queue]
	if len(jobs) == 0 {
		return nil, false
	}
	job := jobs[0]
	jobs[0] = nil
	b.queues[queue] = jobs[1:]
	return job, true
}

// Len returns the number of jobs waiting on queue.
func (b *Buffer) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Jobs returns a copy of the jobs waiting on queue, oldest first.
func (b *Buffer) Jobs(queue string) []*Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Job(nil), b.queues[queue]...)
}

// DeadLetter records a failed job.
func (b *Buffer) DeadLetter(job *Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dead[job.Queue] = append(b.dead[job.Queue], job)
}

// DeadJobs returns a copy of the failed jobs of queue.
func (b *Buffer) DeadJobs(queue string) []*Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Job(nil), b.dead[queue]...)
}
