package metadata

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction is the closed set of audited events.
type AuditAction string

const (
	ActionUpload   AuditAction = "upload"
	ActionDownload AuditAction = "download"
	ActionDelete   AuditAction = "delete"
	ActionShare    AuditAction = "share"
	ActionLogin    AuditAction = "login"
	ActionRegister AuditAction = "register"
	ActionUpdate   AuditAction = "update"
)

// AuditDetails is the structured payload of an audit record. Each action has
// exactly one payload type.
type AuditDetails interface {
	Action() AuditAction
}

// AuditLog is an append-only event record.
type AuditLog struct {
	ID         string
	UserID     string
	ResourceID *string
	Details    AuditDetails
	// EventKey, when set, makes the append idempotent: a second record with
	// the same key is dropped.
	EventKey  string
	Timestamp time.Time
}

// Action returns the action tag of the record's payload.
func (a *AuditLog) Action() AuditAction {
	if a.Details == nil {
		return ""
	}
	return a.Details.Action()
}

type UploadDetails struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Version  int    `json:"version"`
}

func (UploadDetails) Action() AuditAction { return ActionUpload }

type DownloadDetails struct {
	FileName string `json:"file_name"`
	// Via is "owner" or "share".
	Via string `json:"via"`
}

func (DownloadDetails) Action() AuditAction { return ActionDownload }

type DeleteDetails struct {
	ResourceType ResourceType `json:"resource_type"`
	Name         string       `json:"name"`
	Folders      int          `json:"folders"`
	Files        int          `json:"files"`
	Bytes        int64        `json:"bytes"`
}

func (DeleteDetails) Action() AuditAction { return ActionDelete }

type ShareDetails struct {
	ResourceType ResourceType `json:"resource_type"`
	SharedWithID string       `json:"shared_with_id"`
	Permission   Permission   `json:"permission"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	Revoked      bool         `json:"revoked,omitempty"`
}

func (ShareDetails) Action() AuditAction { return ActionShare }

type LoginDetails struct {
	Method string `json:"method"`
}

func (LoginDetails) Action() AuditAction { return ActionLogin }

type RegisterDetails struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (RegisterDetails) Action() AuditAction { return ActionRegister }

// UpdateOp names the structural change behind an update record.
type UpdateOp string

const (
	OpCreate           UpdateOp = "create"
	OpRename           UpdateOp = "rename"
	OpMove             UpdateOp = "move"
	OpRestore          UpdateOp = "restore"
	OpReplaceContent   UpdateOp = "replace_content"
	OpTranscodeRequest UpdateOp = "transcode_request"
)

type UpdateDetails struct {
	Op           UpdateOp     `json:"op"`
	ResourceType ResourceType `json:"resource_type"`
	Name         string       `json:"name"`
	From         string       `json:"from,omitempty"`
	To           string       `json:"to,omitempty"`
}

func (UpdateDetails) Action() AuditAction { return ActionUpdate }

// EncodeDetails serializes a payload for storage.
func EncodeDetails(d AuditDetails) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("audit details are required")
	}
	return json.Marshal(d)
}

// DecodeDetails restores the payload of a stored record, using action as the tag.
func DecodeDetails(action AuditAction, raw []byte) (AuditDetails, error) {
	var (
		d   AuditDetails
		err error
	)
	switch action {
	case ActionUpload:
		var v UploadDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionDownload:
		var v DownloadDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionDelete:
		var v DeleteDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionShare:
		var v ShareDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionLogin:
		var v LoginDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionRegister:
		var v RegisterDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionUpdate:
		var v UpdateDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown audit action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s details: %w", action, err)
	}
	return d, nil
}

// UploadEventKey identifies the upload record of one file version. The
// finalize call and the upload job both write it; whichever is second is dropped.
func UploadEventKey(fileID string, version int) string {
	return fmt.Sprintf("upload:%s:v%d", fileID, version)
}

// DownloadEventKey identifies the download record of one grant.
func DownloadEventKey(jobID string) string {
	return "download:" + jobID
}
