package files

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the file id is unknown (never existed or evicted).
	ErrNotFound = errors.New("file not found")
	// ErrSourceUnavailable indicates the record exists but its local copy is gone.
	ErrSourceUnavailable = errors.New("file content not available on disk")
	// ErrDuplicateID indicates an insert reused an existing id.
	ErrDuplicateID = errors.New("file id already exists")
	// ErrInvalidRecord indicates an update would break the upload status invariant.
	ErrInvalidRecord = errors.New("invalid file record")
)

// UploadStatus tracks the permanent-storage lifecycle of a record.
// The zero value is the unset status of records that never entered it.
type UploadStatus string

const (
	StatusUnset   UploadStatus = ""
	StatusPending UploadStatus = "pending"
	StatusSuccess UploadStatus = "success"
	StatusFailed  UploadStatus = "failed"
)

// FileRecord is one piece of content received from Telegram.
type FileRecord struct {
	ID                  string       `json:"id"`
	FileName            string       `json:"fileName"`
	FileSize            int64        `json:"fileSize"`
	ContentType         string       `json:"contentType"`
	UploadedBy          string       `json:"uploadedBy"`
	TelegramFileID      string       `json:"telegramFileId,omitempty"`
	FileURL             string       `json:"fileUrl,omitempty"`
	LocalPath           string       `json:"localPath,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	ArweaveID           string       `json:"arweaveId,omitempty"`
	ArweaveURL          string       `json:"arweaveUrl,omitempty"`
	ArweaveUploadStatus UploadStatus `json:"arweaveUploadStatus,omitempty"`
	ArweaveUploadError  string       `json:"arweaveUploadError,omitempty"`
}

// Validate checks the upload status invariant.
func (r FileRecord) Validate() error {
	switch r.ArweaveUploadStatus {
	case StatusUnset, StatusPending:
	case StatusSuccess:
		if r.ArweaveID == "" || r.ArweaveURL == "" {
			return errors.Join(ErrInvalidRecord, errors.New("success requires arweave id and url"))
		}
	case StatusFailed:
		if r.ArweaveUploadError == "" {
			return errors.Join(ErrInvalidRecord, errors.New("failed requires an error detail"))
		}
	default:
		return errors.Join(ErrInvalidRecord, errors.New("unknown upload status "+string(r.ArweaveUploadStatus)))
	}
	return nil
}

// Uploaded reports whether the record already lives in permanent storage.
func (r FileRecord) Uploaded() bool {
	return r.ArweaveUploadStatus == StatusSuccess && r.ArweaveID != ""
}

// View is the public projection of a record. It omits the local path and the
// Telegram direct URL, which embeds the bot token.
type View struct {
	ID                  string       `json:"id"`
	FileName            string       `json:"fileName"`
	FileSize            int64        `json:"fileSize"`
	ContentType         string       `json:"contentType"`
	UploadedBy          string       `json:"uploadedBy"`
	CreatedAt           time.Time    `json:"createdAt"`
	Available           bool         `json:"available"`
	ArweaveID           string       `json:"arweaveId,omitempty"`
	ArweaveURL          string       `json:"arweaveUrl,omitempty"`
	ArweaveUploadStatus UploadStatus `json:"arweaveUploadStatus,omitempty"`
	ArweaveUploadError  string       `json:"arweaveUploadError,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	ArweaveID  *string
	ArweaveURL *string
	Status     *UploadStatus
	Error      *string
}

func (p Patch) apply(r FileRecord) FileRecord {
	if p.ArweaveID != nil {
		r.ArweaveID = *p.ArweaveID
	}
	if p.ArweaveURL != nil {
		r.ArweaveURL = *p.ArweaveURL
	}
	if p.Status != nil {
		r.ArweaveUploadStatus = *p.Status
		if *p.Status != StatusFailed && p.Error == nil {
			r.ArweaveUploadError = ""
		}
	}
	if p.Error != nil {
		r.ArweaveUploadError = *p.Error
	}
	return r
}

// Filter narrows Recent results.
type Filter struct {
	Since time.Time
	// Type is a MIME major type ("image") or a full MIME type ("image/png").
	Type  string
	Limit int
}

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)
