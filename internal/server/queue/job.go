// Package queue hands asynchronous file work to background consumers. Jobs go
// to a durable Redis broker when it is reachable and to a volatile in-process
// buffer when it is not.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue names. The job kind is implied by the queue a job sits on.
const (
	QueueUpload    = "upload-processing"
	QueueDownload  = "download-preparation"
	QueueTranscode = "transcode-preparation"
)

// Queues lists every queue a consumer drains.
var Queues = []string{QueueUpload, QueueDownload, QueueTranscode}

// Job is the message payload. Fields beyond the common four are kind-specific.
type Job struct {
	ID       string `json:"id"`
	Queue    string `json:"queue"`
	FileID   string `json:"file_id"`
	UserID   string `json:"user_id"`
	FileName string `json:"file_name"`

	// upload-processing
	Size       int64  `json:"size,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	StorageKey string `json:"storage_key,omitempty"`
	Version    int    `json:"version,omitempty"`
	// QuotaApplied is false only for producers that did not charge the
	// upload against the quota themselves. Absent means true.
	QuotaApplied *bool `json:"quota_applied,omitempty"`

	// transcode-preparation
	InputKey     string `json:"input_key,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// QuotaAlreadyApplied reports whether the producer charged the upload.
func (j *Job) QuotaAlreadyApplied() bool {
	return j.QuotaApplied == nil || *j.QuotaApplied
}

// UploadJob describes a finalized upload.
type UploadJob struct {
	FileID     string
	UserID     string
	FileName   string
	Size       int64
	MimeType   string
	StorageKey string
	Version    int
}

// NewUploadJob builds an upload-processing job. The quota was charged by the
// producer.
func NewUploadJob(u UploadJob) *Job {
	applied := true
	return &Job{
		ID:           uuid.NewString(),
		Queue:        QueueUpload,
		FileID:       u.FileID,
		UserID:       u.UserID,
		FileName:     u.FileName,
		Size:         u.Size,
		MimeType:     u.MimeType,
		StorageKey:   u.StorageKey,
		Version:      u.Version,
		QuotaApplied: &applied,
		EnqueuedAt:   time.Now().UTC(),
	}
}

// NewDownloadJob builds a download-preparation job.
func NewDownloadJob(fileID, userID, fileName string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Queue:      QueueDownload,
		FileID:     fileID,
		UserID:     userID,
		FileName:   fileName,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewTranscodeJob builds a transcode-preparation job.
func NewTranscodeJob(fileID, userID, fileName, inputKey, outputFormat string) *Job {
	return &Job{
		ID:           uuid.NewString(),
		Queue:        QueueTranscode,
		FileID:       fileID,
		UserID:       userID,
		FileName:     fileName,
		InputKey:     inputKey,
		OutputFormat: outputFormat,
		EnqueuedAt:   time.Now().UTC(),
	}
}

func encodeJob(j *Job) (string, error) {
	b, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("failed to encode job: %w", err)
	}
	return string(b), nil
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &j, nil
}
