package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DurablePublish(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)
	require.True(t, d.IsAvailable())

	job := NewDownloadJob("f1", "u1", "a.txt")
	assert.True(t, d.Publish(ctx, job))
	assert.Equal(t, 1, broker.count(broker.queues, QueueDownload))
	assert.Zero(t, d.Buffer().Len(QueueDownload))
}

func TestDispatcher_DisabledBrokerBuffers(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx, nil, nil)
	assert.False(t, d.IsAvailable())

	job := NewUploadJob(UploadJob{FileID: "f1", UserID: "u1", FileName: "a.txt", Size: 3})
	assert.False(t, d.Publish(ctx, job))
	require.Equal(t, []*Job{job}, d.Buffer().Jobs(QueueUpload))
}

func TestDispatcher_UnreachableAtStartup(t *testing.T) {
	broker := newFakeBroker()
	broker.setDown(true)
	d := NewDispatcher(context.Background(), broker, nil)
	assert.False(t, d.IsAvailable())
}

func TestDispatcher_SwitchesToDegradedOnPublishError(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)
	require.True(t, d.IsAvailable())

	broker.setDown(true)
	job := NewUploadJob(UploadJob{FileID: "f1", UserID: "u1", FileName: "a.txt"})
	assert.False(t, d.Publish(ctx, job))
	assert.False(t, d.IsAvailable())
	assert.Equal(t, 1, d.Buffer().Len(QueueUpload))

	// No reconnection: the broker coming back does not restore durable mode.
	broker.setDown(false)
	assert.False(t, d.Publish(ctx, NewUploadJob(UploadJob{FileID: "f2"})))
	assert.False(t, d.IsAvailable())
	assert.Zero(t, broker.count(broker.queues, QueueUpload))
}

func TestDispatcher_BufferKeepsFIFOPerQueue(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx, nil, nil)

	a := NewUploadJob(UploadJob{FileID: "a"})
	b := NewDownloadJob("b", "u", "b")
	c := NewUploadJob(UploadJob{FileID: "c"})
	d.Publish(ctx, a)
	d.Publish(ctx, b)
	d.Publish(ctx, c)

	first, err := d.Receive(ctx, QueueUpload, time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Job.FileID)
	assert.False(t, first.Durable())

	second, err := d.Receive(ctx, QueueUpload, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "c", second.Job.FileID)

	other, err := d.Receive(ctx, QueueDownload, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "b", other.Job.FileID)

	none, err := d.Receive(ctx, QueueUpload, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestDispatcher_ReceiveFailureDegrades(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)

	broker.setDown(true)
	del, err := d.Receive(ctx, QueueUpload, time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, del)
	assert.False(t, d.IsAvailable())
}

func TestDispatcher_DegradedChannelClosesOnBrokerLoss(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	d := NewDispatcher(ctx, broker, nil)
	require.True(t, d.IsAvailable())

	select {
	case <-d.Degraded():
		t.Fatal("degraded closed while broker is healthy")
	default:
	}

	broker.setDown(true)
	_, err := d.Receive(ctx, QueueUpload, time.Millisecond)
	require.NoError(t, err)

	select {
	case <-d.Degraded():
	case <-time.After(time.Second):
		t.Fatal("degraded not closed after broker failure")
	}
	assert.False(t, d.IsAvailable())

	// A repeated failure must not close the channel twice.
	assert.NotPanics(t, func() { d.degrade(errBrokerDown) })
}

func TestDispatcher_DisabledBrokerStartsDegraded(t *testing.T) {
	d := NewDispatcher(context.Background(), nil, nil)
	select {
	case <-d.Degraded():
	default:
		t.Fatal("degraded should be closed when no broker is configured")
	}
}

func TestDispatcher_NackBufferedJobDeadLetters(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(ctx, nil, nil)
	job := NewTranscodeJob("f", "u", "v.mov", "key", "mp4")
	d.Publish(ctx, job)

	del, err := d.Receive(ctx, QueueTranscode, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx, del))
	assert.Equal(t, []*Job{job}, d.Buffer().DeadJobs(QueueTranscode))
}
