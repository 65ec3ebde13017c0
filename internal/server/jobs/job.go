// Package jobs tracks in-flight upload jobs in process memory: status,
// progress, cancellation state and the runtime hooks needed to abort a
// transfer. Nothing here survives a restart; that is a design decision, not
// an omission.
package jobs

import "time"

// Status is the lifecycle state of an upload job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceling  Status = "canceling"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transition is permitted from s.
// The diagnostic Error field may still be annotated on a terminal job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Job is a snapshot of one tracked transfer. TotalBytes is -1 when the
// overall size is unknown. Percent is clamped to [0,100] and only reaches
// 100 together with StatusCompleted.
type Job struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Status        Status    `json:"status"`
	BytesUploaded int64     `json:"bytesUploaded"`
	TotalBytes    int64     `json:"totalBytes"`
	Percent       int       `json:"percent"`
	Error         string    `json:"error,omitempty"`
	ContentID     string    `json:"contentId,omitempty"`
	Canceled      bool      `json:"canceled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Update is a partial mutation applied through Registry.Update. Nil fields
// are left untouched.
type Update struct {
	Status        *Status
	BytesUploaded *int64
	Percent       *int
	Error         *string
	ContentID     *string
}
