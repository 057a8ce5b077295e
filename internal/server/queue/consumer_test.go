package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumer_AcksSuccessfulJobs(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)
	d.Publish(ctx, NewDownloadJob("f1", "u1", "a"))

	var handled atomic.Int32
	c := NewConsumer(d, map[string]Processor{
		QueueDownload: ProcessorFunc(func(context.Context, *Job) error {
			handled.Add(1)
			return nil
		}),
	}, time.Millisecond, nil)

	ok, err := c.ProcessNext(ctx, QueueDownload)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), handled.Load())
	assert.Zero(t, broker.count(broker.processing, QueueDownload))
	assert.Zero(t, broker.count(broker.dead, QueueDownload))
}

func TestConsumer_FailedJobsAreDeadLetteredOnce(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)
	d.Publish(ctx, NewUploadJob(UploadJob{FileID: "f1"}))

	var attempts atomic.Int32
	c := NewConsumer(d, map[string]Processor{
		QueueUpload: ProcessorFunc(func(context.Context, *Job) error {
			attempts.Add(1)
			return errors.New("boom")
		}),
	}, time.Millisecond, nil)

	ok, err := c.ProcessNext(ctx, QueueUpload)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ProcessNext(ctx, QueueUpload)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 1, broker.count(broker.dead, QueueUpload))
	assert.Zero(t, broker.count(broker.queues, QueueUpload))
}

func TestConsumer_DrainsBufferedJobsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(ctx, nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		d.Publish(ctx, NewUploadJob(UploadJob{FileID: id}))
	}

	seen := make(chan string, 3)
	c := NewConsumer(d, map[string]Processor{
		QueueUpload: ProcessorFunc(func(_ context.Context, job *Job) error {
			seen <- job.FileID
			return nil
		}),
	}, time.Millisecond, nil)
	c.Start(ctx)

	var order []string
	for len(order) < 3 {
		select {
		case id := <-seen:
			order = append(order, id)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for buffered jobs")
		}
	}
	cancel()
	c.Wait()

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, d.Buffer().Len(QueueUpload))
}
