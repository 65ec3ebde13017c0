// Package transfer glues the upload pipeline together: job registration,
// backend selection, progress plumbing, cancellation and the audit hand-off.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/audit"
	"github.com/dmitrijs2005/mediavault/internal/server/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// Request describes one upload. JobID is optional; when empty the registry
// generates one. A caller-supplied id lets the client cancel an upload that
// has not arrived yet.
type Request struct {
	JobID    string
	OwnerID  string
	Title    string
	MimeType string
	Replace  bool
	Source   storage.FileSource
}

// Result pairs the stored reference with the job that tracked the transfer.
type Result struct {
	JobID string
	Ref   *storage.StoredMediaReference
}

// Orchestrator runs uploads end to end. It is safe for concurrent use.
type Orchestrator struct {
	selector *storage.Selector
	registry *jobs.Registry
	audit    audit.Repository
	log      logging.Logger
}

func NewOrchestrator(sel *storage.Selector, reg *jobs.Registry, rec audit.Repository, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		selector: sel,
		registry: reg,
		audit:    rec,
		log:      log.With("component", "transfer"),
	}
}

// UploadVideo runs the upload against the configured video backend.
func (o *Orchestrator) UploadVideo(ctx context.Context, req Request) (*Result, error) {
	tag, backend := o.selector.Video()
	return o.upload(ctx, tag, backend, req)
}

// UploadFile runs the upload against the configured file backend.
func (o *Orchestrator) UploadFile(ctx context.Context, req Request) (*Result, error) {
	tag, backend := o.selector.File()
	return o.upload(ctx, tag, backend, req)
}

// upload drives one transfer: register the job, attach the runtime hooks,
// stream through the backend, settle the terminal state and record the
// outcome. The source is owned by the backend once Upload is called; on the
// paths before that, upload discards it itself.
func (o *Orchestrator) upload(ctx context.Context, tag string, backend storage.Backend, req Request) (*Result, error) {
	job, err := o.registry.Create(req.JobID, req.OwnerID, req.Source.Size(), req.Replace)
	if err != nil {
		_ = storage.Discard(req.Source)
		return nil, err
	}
	jobID := job.ID

	uctx, abort := context.WithCancel(ctx)
	defer abort()

	src := req.Source
	if err := o.registry.AttachRuntime(jobID, abort, func() { _ = storage.Discard(src) }); err != nil {
		_ = storage.Discard(src)
		return nil, err
	}

	o.setStatus(jobID, jobs.StatusUploading)
	o.log.Info(ctx, "upload started", "jobID", jobID, "backend", tag, "size", src.Size())

	ref, err := backend.Upload(uctx, src, storage.UploadOptions{
		OwnerID:  req.OwnerID,
		Title:    req.Title,
		MimeType: req.MimeType,
		OnProgress: func(p storage.Progress) {
			o.registry.Update(jobID, jobs.Update{
				BytesUploaded: &p.UploadedBytes,
				Percent:       &p.Percent,
			})
		},
	})
	if err != nil {
		o.settleFailure(ctx, jobID, tag, req, err)
		return nil, err
	}

	o.setStatus(jobID, jobs.StatusProcessing)

	contentID := ContentID(ref)
	done := jobs.StatusCompleted
	o.registry.Update(jobID, jobs.Update{Status: &done, ContentID: &contentID})

	o.record(ctx, audit.Entry{
		JobID:     jobID,
		OwnerID:   req.OwnerID,
		Operation: audit.OperationUpload,
		Backend:   tag,
		SizeBytes: ref.Size,
		Outcome:   string(jobs.StatusCompleted),
	})
	o.log.Info(ctx, "upload completed", "jobID", jobID, "backend", tag, "contentID", contentID)

	return &Result{JobID: jobID, Ref: ref}, nil
}

// Delete routes the reference to the backend that produced it. Best effort
// by contract of the backends; an unknown storage type is a validation error.
func (o *Orchestrator) Delete(ctx context.Context, ownerID string, ref *storage.StoredMediaReference) error {
	backend, tag, err := o.backendFor(ref.StorageType)
	if err != nil {
		return err
	}
	if err := backend.Delete(ctx, ref); err != nil {
		return err
	}
	o.record(ctx, audit.Entry{
		OwnerID:   ownerID,
		Operation: audit.OperationDelete,
		Backend:   tag,
		SizeBytes: ref.Size,
		Outcome:   string(jobs.StatusCompleted),
		Detail:    ContentID(ref),
	})
	return nil
}

// settleFailure applies the terminal state matching the error class and
// records the outcome. Client cancellations are not failures.
func (o *Orchestrator) settleFailure(ctx context.Context, jobID, tag string, req Request, err error) {
	outcome := string(jobs.StatusFailed)
	if errors.Is(err, storage.ErrClientCanceled) {
		outcome = string(jobs.StatusCanceled)
		status := jobs.StatusCanceled
		o.registry.Update(jobID, jobs.Update{Status: &status})
	} else {
		msg := err.Error()
		status := jobs.StatusFailed
		o.registry.Update(jobID, jobs.Update{Status: &status, Error: &msg})
		o.log.Error(ctx, "upload failed", "jobID", jobID, "backend", tag, "error", err)
	}

	o.record(ctx, audit.Entry{
		JobID:     jobID,
		OwnerID:   req.OwnerID,
		Operation: audit.OperationUpload,
		Backend:   tag,
		SizeBytes: req.Source.Size(),
		Outcome:   outcome,
		Detail:    truncate(err.Error(), 500),
	})
}

func (o *Orchestrator) setStatus(jobID string, s jobs.Status) {
	o.registry.Update(jobID, jobs.Update{Status: &s})
}

// record writes an audit entry; failures are logged, never surfaced.
func (o *Orchestrator) record(ctx context.Context, e audit.Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := o.audit.Record(ctx, e); err != nil {
		o.log.Warn(ctx, "audit record failed", "jobID", e.JobID, "error", err)
	}
}

func (o *Orchestrator) backendFor(t storage.Type) (storage.Backend, string, error) {
	kind, ok := map[storage.Type]string{
		storage.TypeLocal:          storage.KindLocal,
		storage.TypeHostedVideo:    storage.KindVideoHost,
		storage.TypeHostedDocument: storage.KindDocRelay,
		storage.TypeS3:             storage.KindS3,
	}[t]
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown storage type %q", storage.ErrValidation, t)
	}
	backend, ok := o.selector.Backend(kind)
	if !ok {
		return nil, "", fmt.Errorf("%w: storage %q is not configured", storage.ErrValidation, kind)
	}
	return backend, kind, nil
}

// ContentID extracts the backend-specific identifier from a reference.
func ContentID(ref *storage.StoredMediaReference) string {
	switch ref.StorageType {
	case storage.TypeLocal:
		return ref.Path
	case storage.TypeHostedVideo:
		return ref.VideoID
	case storage.TypeHostedDocument:
		return ref.FileID
	case storage.TypeS3:
		return ref.Key
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
