// Package audit records terminal upload outcomes for operators. Recording is
// advisory: a failed audit write never fails the operation it describes.
package audit

import (
	"context"
	"time"
)

// Operation names the action being audited.
type Operation string

const (
	OperationUpload Operation = "upload"
	OperationDelete Operation = "delete"
)

// Entry is one audit record, written when a job reaches a terminal state.
type Entry struct {
	JobID     string
	OwnerID   string
	Operation Operation
	Backend   string
	SizeBytes int64
	Outcome   string
	Detail    string
	CreatedAt time.Time
}

// Repository persists audit entries.
type Repository interface {
	Record(ctx context.Context, e Entry) error
}

// Noop is the Repository used when no audit database is configured.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error { return nil }
