package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault/internal/server/metadata"
	"vault/internal/server/metadata/memory"
)

type usageFunc func(ctx context.Context, userID string, delta int64) (int64, error)

func (f usageFunc) ApplyDelta(ctx context.Context, userID string, delta int64) (int64, error) {
	return f(ctx, userID, delta)
}

type blobsFunc func(ctx context.Context, key string) (bool, error)

func (f blobsFunc) Exists(ctx context.Context, key string) (bool, error) { return f(ctx, key) }

type transcoderFunc func(ctx context.Context, in, format string) (string, error)

func (f transcoderFunc) Transcode(ctx context.Context, in, format string) (string, error) {
	return f(ctx, in, format)
}

func seedFile(t *testing.T, store *memory.Store, size int64) (*metadata.User, *metadata.File) {
	t.Helper()
	ctx := context.Background()
	u := &metadata.User{Username: "owner", Email: "owner@example.com", StorageQuota: 1 << 20}
	require.NoError(t, store.CreateUser(ctx, u))
	f := &metadata.File{UserID: u.ID, Name: "a.txt", Size: size, MimeType: "text/plain", StorageKey: "blob-1"}
	require.NoError(t, store.CreateFile(ctx, f))
	return u, f
}

func TestUploadProcessor_IdempotentOnRedelivery(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, f := seedFile(t, store, 10)

	var applied []int64
	p := NewUploadProcessor(store, store, usageFunc(func(_ context.Context, _ string, delta int64) (int64, error) {
		applied = append(applied, delta)
		return 0, nil
	}), nil)

	notApplied := false
	job := NewUploadJob(UploadJob{FileID: f.ID, UserID: u.ID, FileName: f.Name, Size: f.Size, Version: 1})
	job.QuotaApplied = &notApplied

	require.NoError(t, p.Process(ctx, job))
	require.NoError(t, p.Process(ctx, job))

	var net int64
	for _, d := range applied {
		net += d
	}
	assert.Equal(t, int64(10), net)
	logs, err := store.ListAudit(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, metadata.ActionUpload, logs[0].Action())
}

func TestUploadProcessor_ChargeFailureLeavesFileUnclaimed(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, f := seedFile(t, store, 10)

	var applied []int64
	fail := true
	p := NewUploadProcessor(store, store, usageFunc(func(_ context.Context, _ string, delta int64) (int64, error) {
		if fail {
			return 0, errors.New("usage store unavailable")
		}
		applied = append(applied, delta)
		return 0, nil
	}), nil)

	notApplied := false
	job := NewUploadJob(UploadJob{FileID: f.ID, UserID: u.ID, FileName: f.Name, Size: f.Size, Version: 1})
	job.QuotaApplied = &notApplied

	require.Error(t, p.Process(ctx, job))
	got, err := store.GetFileByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProcessedAt)
	logs, err := store.ListAudit(ctx, u.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	fail = false
	require.NoError(t, p.Process(ctx, job))
	assert.Equal(t, []int64{10}, applied)
	got, err = store.GetFileByID(ctx, f.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ProcessedAt)
}

func TestUploadProcessor_LostClaimRefundsCharge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, f := seedFile(t, store, 10)
	_, err := store.MarkFileProcessed(ctx, f.ID, time.Now())
	require.NoError(t, err)

	var applied []int64
	p := NewUploadProcessor(store, store, usageFunc(func(_ context.Context, _ string, delta int64) (int64, error) {
		applied = append(applied, delta)
		return 0, nil
	}), nil)

	notApplied := false
	job := NewUploadJob(UploadJob{FileID: f.ID, UserID: u.ID, FileName: f.Name, Size: f.Size, Version: 1})
	job.QuotaApplied = &notApplied

	require.NoError(t, p.Process(ctx, job))
	assert.Equal(t, []int64{10, -10}, applied)
}

func TestUploadProcessor_QuotaAppliedByProducerIsNotRecharged(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	u, f := seedFile(t, store, 10)

	p := NewUploadProcessor(store, store, usageFunc(func(context.Context, string, int64) (int64, error) {
		t.Fatal("usage must not be adjusted")
		return 0, nil
	}), nil)

	require.NoError(t, p.Process(ctx, NewUploadJob(UploadJob{FileID: f.ID, UserID: u.ID, Size: 10, Version: 1})))
}

func TestUploadProcessor_PurgedFileIsNoOp(t *testing.T) {
	p := NewUploadProcessor(memory.New(), memory.New(), nil, nil)
	assert.NoError(t, p.Process(context.Background(), NewUploadJob(UploadJob{FileID: "gone"})))
}

func TestDownloadProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("audits once per grant", func(t *testing.T) {
		store := memory.New()
		u, f := seedFile(t, store, 1)
		p := NewDownloadProcessor(store, store, blobsFunc(func(_ context.Context, key string) (bool, error) {
			return key == f.StorageKey, nil
		}), nil)

		job := NewDownloadJob(f.ID, u.ID, f.Name)
		require.NoError(t, p.Process(ctx, job))
		require.NoError(t, p.Process(ctx, job))

		logs, err := store.ListAudit(ctx, u.ID, 0)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, metadata.ActionDownload, logs[0].Action())
	})

	t.Run("missing blob fails", func(t *testing.T) {
		store := memory.New()
		u, f := seedFile(t, store, 1)
		p := NewDownloadProcessor(store, store, blobsFunc(func(context.Context, string) (bool, error) {
			return false, nil
		}), nil)

		assert.Error(t, p.Process(ctx, NewDownloadJob(f.ID, u.ID, f.Name)))
	})
}

func TestTranscodeProcessor(t *testing.T) {
	ctx := context.Background()
	job := NewTranscodeJob("f", "u", "clip.mov", "in-key", "mp4")

	t.Run("without transcoder", func(t *testing.T) {
		err := NewTranscodeProcessor(nil, nil).Process(ctx, job)
		assert.ErrorIs(t, err, ErrNoTranscoder)
	})

	t.Run("delegates", func(t *testing.T) {
		var gotIn, gotFormat string
		p := NewTranscodeProcessor(transcoderFunc(func(_ context.Context, in, format string) (string, error) {
			gotIn, gotFormat = in, format
			return in + ".mp4", nil
		}), nil)
		require.NoError(t, p.Process(ctx, job))
		assert.Equal(t, "in-key", gotIn)
		assert.Equal(t, "mp4", gotFormat)
	})

	t.Run("failure propagates", func(t *testing.T) {
		boom := errors.New("codec missing")
		p := NewTranscodeProcessor(transcoderFunc(func(context.Context, string, string) (string, error) {
			return "", boom
		}), nil)
		assert.ErrorIs(t, p.Process(ctx, job), boom)
	})
}

func TestJobRoundTrip(t *testing.T) {
	job := NewUploadJob(UploadJob{FileID: "f", UserID: "u", FileName: "a", Size: 5, Version: 2})
	raw, err := encodeJob(job)
	require.NoError(t, err)

	back, err := decodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, job.ID, back.ID)
	assert.True(t, back.QuotaAlreadyApplied())
	assert.Equal(t, job.EnqueuedAt.Unix(), back.EnqueuedAt.Unix())

	legacy, err := decodeJob(`{"id":"x","queue":"upload-processing","file_id":"f","user_id":"u","file_name":"a","enqueued_at":"` + time.Now().UTC().Format(time.RFC3339) + `"}`)
	require.NoError(t, err)
	assert.True(t, legacy.QuotaAlreadyApplied())
}
