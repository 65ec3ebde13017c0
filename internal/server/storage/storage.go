// Package storage defines the backend-agnostic contracts of the upload
// subsystem: the StoredMediaReference descriptor, the FileSource input union,
// progress reporting, the error taxonomy shared by all backends, and the
// configuration-driven backend selector.
package storage

import (
	"context"
	"time"
)

// Type tags a StoredMediaReference with the backend that produced it.
type Type string

const (
	TypeLocal          Type = "local"
	TypeHostedVideo    Type = "hosted-video"
	TypeHostedDocument Type = "hosted-document"
	TypeS3             Type = "s3"
)

// StoredMediaReference is the descriptor returned after a successful upload.
// It is a tagged union over StorageType: exactly one group of the optional
// identifier fields is populated. The domain layer owns persisting it.
type StoredMediaReference struct {
	StorageType  Type      `json:"storageType"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimeType"`
	Size         int64     `json:"size"`
	UploadedAt   time.Time `json:"uploadedAt"`
	UploadedBy   string    `json:"uploadedBy"`

	// local
	Path string `json:"path,omitempty"`

	// hosted-video
	VideoID  string `json:"videoId,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`

	// hosted-document
	FileID    string `json:"fileId,omitempty"`
	MessageID int64  `json:"messageId,omitempty"`
	ChatID    int64  `json:"chatId,omitempty"`

	// s3
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Progress is one progress report for an in-flight transfer.
// Percent stays below 100 until the backend has confirmation from the
// upstream host that the transfer is complete.
type Progress struct {
	UploadedBytes int64
	TotalBytes    int64
	Percent       int
}

// ProgressFunc receives progress reports. Implementations must be cheap:
// backends call it from inside their transfer loops.
type ProgressFunc func(Progress)

// UploadOptions carries per-upload metadata and the optional progress hook.
type UploadOptions struct {
	OwnerID    string
	Title      string
	MimeType   string
	OnProgress ProgressFunc
}

// Backend is the operation set every storage backend implements.
// Upload takes ownership of on-disk sources: they are discarded on success
// and on permanent failure. Delete is best-effort where the backend cannot
// guarantee removal.
type Backend interface {
	Upload(ctx context.Context, src FileSource, opts UploadOptions) (*StoredMediaReference, error)
	Delete(ctx context.Context, ref *StoredMediaReference) error
}

// ProgressPercent computes a whole-number percentage clamped to [0, 99].
// 100 is reserved for the moment the upstream host acknowledges completion;
// callers force it explicitly. Unknown totals report 0.
func ProgressPercent(uploaded, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(uploaded * 100 / total)
	if p < 0 {
		p = 0
	}
	if p > 99 {
		p = 99
	}
	return p
}

// Report invokes fn if it is set.
func (o UploadOptions) Report(uploaded, total int64, percent int) {
	if o.OnProgress == nil {
		return
	}
	o.OnProgress(Progress{UploadedBytes: uploaded, TotalBytes: total, Percent: percent})
}
