// Package api exposes the upload pipeline over HTTP: lesson media endpoints
// plus the job inspection and cancellation surface.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/dmitrijs2005/mediavault/internal/filex"
	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/auth"
	"github.com/dmitrijs2005/mediavault/internal/server/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/dmitrijs2005/mediavault/internal/server/storage/docrelay"
	"github.com/dmitrijs2005/mediavault/internal/server/transfer"
)

// DefaultMaxUploadBytes bounds the request body of upload endpoints.
const DefaultMaxUploadBytes int64 = 2 << 30 // 2 GiB

// Streamer proxies a stored document into the response.
type Streamer interface {
	Stream(w http.ResponseWriter, r *http.Request, ref *storage.StoredMediaReference) error
}

// URLResolver produces a redirect target for a stored object.
type URLResolver interface {
	Resolve(ctx context.Context, ref *storage.StoredMediaReference) (string, error)
}

// PathResolver maps a local reference to a servable file path.
type PathResolver interface {
	Resolve(ref *storage.StoredMediaReference) (string, error)
}

// JobStore is the registry subset the API needs.
type JobStore interface {
	Get(id string) (*jobs.Job, bool)
	CancelOrInit(id, ownerID string) *jobs.Job
}

type Handler struct {
	orch      *transfer.Orchestrator
	registry  JobStore
	local     PathResolver // nil when the local backend is not configured
	docs      Streamer     // nil when the document relay is not configured
	objects   URLResolver  // nil when s3 is not configured
	tmpDir    string
	maxUpload int64
	log       logging.Logger
}

type Deps struct {
	Orchestrator *transfer.Orchestrator
	Registry     JobStore
	Local        PathResolver
	Docs         Streamer
	Objects      URLResolver
	TmpDir       string
	MaxUpload    int64
}

func NewHandler(d Deps, log logging.Logger) *Handler {
	if d.MaxUpload <= 0 {
		d.MaxUpload = DefaultMaxUploadBytes
	}
	return &Handler{
		orch:      d.Orchestrator,
		registry:  d.Registry,
		local:     d.Local,
		docs:      d.Docs,
		objects:   d.Objects,
		tmpDir:    d.TmpDir,
		maxUpload: d.MaxUpload,
		log:       log.With("component", "api"),
	}
}

type uploadResponse struct {
	JobID string                        `json:"jobId"`
	Ref   *storage.StoredMediaReference `json:"ref"`
}

func (h *Handler) UploadVideo(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.orch.UploadVideo)
}

func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, h.orch.UploadFile)
}

// upload parses the multipart request streaming the file part straight into
// the scratch dir, then hands the temp file to the orchestrator. The
// orchestrator (and the backend behind it) owns the temp file from that point.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request, run func(context.Context, transfer.Request) (*transfer.Result, error)) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, r, errors.New("no identity in context"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	req, err := h.parseUpload(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req.OwnerID = id.UserID

	res, err := run(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, uploadResponse{JobID: res.JobID, Ref: res.Ref})
}

// parseUpload walks the multipart parts in order. Metadata fields must come
// before the file part; the file part is spooled to a temp file the returned
// request owns.
func (h *Handler) parseUpload(r *http.Request) (transfer.Request, error) {
	var req transfer.Request

	mr, err := r.MultipartReader()
	if err != nil {
		return req, fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}

	for {
		part, perr := mr.NextPart()
		if perr == io.EOF {
			break
		}
		if perr != nil {
			_ = discardSource(req.Source)
			return req, fmt.Errorf("reading multipart body: %w", perr)
		}

		switch part.FormName() {
		case "job_id":
			req.JobID = formValue(part)
		case "title":
			req.Title = formValue(part)
		case "replace":
			req.Replace, _ = strconv.ParseBool(formValue(part))
		case "file":
			path, _, serr := filex.SaveTemp(h.tmpDir, part)
			if serr != nil {
				return req, fmt.Errorf("spooling upload: %w", serr)
			}
			src, oerr := storage.NewOnDisk(path, part.FileName())
			if oerr != nil {
				_ = filex.Remove(path)
				return req, oerr
			}
			req.MimeType = part.Header.Get("Content-Type")
			req.Source = src
		}
		_ = part.Close()
	}

	if req.Source == nil {
		return req, fmt.Errorf("%w: missing file part", storage.ErrValidation)
	}
	return req, nil
}

// DownloadFile serves a stored file back to the client, dispatching on the
// reference's storage type.
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ref, err := refFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	switch ref.StorageType {
	case storage.TypeLocal:
		if h.local == nil {
			h.writeError(w, r, fmt.Errorf("%w: local storage is not configured", storage.ErrValidation))
			return
		}
		path, rerr := h.local.Resolve(ref)
		if rerr != nil {
			h.writeError(w, r, rerr)
			return
		}
		if ref.OriginalName != "" {
			w.Header().Set("Content-Disposition",
				fmt.Sprintf("attachment; filename=%q", docrelay.SanitizeFilename(ref.OriginalName)))
		}
		http.ServeFile(w, r, path)

	case storage.TypeHostedDocument:
		if h.docs == nil {
			h.writeError(w, r, fmt.Errorf("%w: document relay is not configured", storage.ErrValidation))
			return
		}
		if serr := h.docs.Stream(w, r, ref); serr != nil {
			if errors.Is(serr, storage.ErrClientCanceled) {
				return
			}
			h.writeError(w, r, serr)
		}

	case storage.TypeS3:
		if h.objects == nil {
			h.writeError(w, r, fmt.Errorf("%w: object storage is not configured", storage.ErrValidation))
			return
		}
		url, rerr := h.objects.Resolve(r.Context(), ref)
		if rerr != nil {
			h.writeError(w, r, rerr)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)

	case storage.TypeHostedVideo:
		if ref.VideoURL == "" {
			h.writeError(w, r, fmt.Errorf("%w: videos are served by the hosting provider", storage.ErrValidation))
			return
		}
		http.Redirect(w, r, ref.VideoURL, http.StatusFound)

	default:
		h.writeError(w, r, fmt.Errorf("%w: unknown storage type %q", storage.ErrValidation, ref.StorageType))
	}
}

// DeleteFile removes a stored file, best effort per backend contract.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	ref, err := refFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.orch.Delete(r.Context(), id.UserID, ref); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJob returns the job snapshot. Only the owner or an admin may look.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errResponse{Error: "job not found"})
		return
	}
	if job.OwnerID != id.UserID && !id.Admin {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, errResponse{Error: "forbidden"})
		return
	}
	render.JSON(w, r, job)
}

// CancelJob cancels an upload job. An unknown id gets a pre-canceled
// placeholder so cancellation wins the race against a slow upload request.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	jobID := chi.URLParam(r, "jobID")

	if existing, ok := h.registry.Get(jobID); ok {
		if existing.OwnerID != id.UserID && !id.Admin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, errResponse{Error: "forbidden"})
			return
		}
	}

	job := h.registry.CancelOrInit(jobID, id.UserID)
	render.JSON(w, r, job)
}

// refFromQuery decodes the query-encoded StoredMediaReference used by the
// download and delete endpoints.
func refFromQuery(r *http.Request) (*storage.StoredMediaReference, error) {
	q := r.URL.Query()
	ref := &storage.StoredMediaReference{
		StorageType:  storage.Type(q.Get("storage")),
		OriginalName: q.Get("name"),
		MimeType:     q.Get("mime"),
	}

	switch ref.StorageType {
	case storage.TypeLocal:
		ref.Path = q.Get("path")
		if ref.Path == "" {
			return nil, fmt.Errorf("%w: missing path", storage.ErrValidation)
		}
	case storage.TypeHostedDocument:
		ref.FileID = q.Get("file_id")
		if ref.FileID == "" {
			return nil, fmt.Errorf("%w: missing file_id", storage.ErrValidation)
		}
		if mid, err := strconv.ParseInt(q.Get("message_id"), 10, 64); err == nil {
			ref.MessageID = mid
		}
		if cid, err := strconv.ParseInt(q.Get("chat_id"), 10, 64); err == nil {
			ref.ChatID = cid
		}
	case storage.TypeS3:
		ref.Bucket, ref.Key = q.Get("bucket"), q.Get("key")
		if ref.Bucket == "" || ref.Key == "" {
			return nil, fmt.Errorf("%w: missing bucket or key", storage.ErrValidation)
		}
	case storage.TypeHostedVideo:
		ref.VideoID, ref.VideoURL = q.Get("video_id"), q.Get("url")
	case "":
		return nil, fmt.Errorf("%w: missing storage type", storage.ErrValidation)
	}
	return ref, nil
}

func formValue(part io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(part, 4<<10))
	return string(b)
}

func discardSource(src storage.FileSource) error {
	if src == nil {
		return nil
	}
	return storage.Discard(src)
}
