package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/google/uuid"
)

var (
	// ErrAlreadyExists is returned by Create when the id is still occupied.
	ErrAlreadyExists = errors.New("upload session already exists")

	// ErrSessionCanceled is returned by Create and AttachRuntime when the id
	// belongs to a canceled session. A late upload must not resurrect it.
	ErrSessionCanceled = errors.New("upload session canceled")
)

// DefaultTTL is how long a job that is not in flight survives before the
// janitor evicts it.
const DefaultTTL = 30 * time.Minute

// runtime holds the live cancellation hooks of a started transfer. At most
// one abort and one cleanup per job at a time.
type runtime struct {
	abort   func()
	cleanup func()
}

type entry struct {
	job      Job
	rt       runtime
	inFlight bool
}

// Registry is the shared in-memory job table. All invariants — the
// "writes after terminal are dropped" rule in particular — are enforced
// inside the guarded sections, never at call sites.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*entry
	ttl  time.Duration
	log  logging.Logger
	now  func() time.Time
}

func NewRegistry(log logging.Logger) *Registry {
	return &Registry{
		jobs: make(map[string]*entry),
		ttl:  DefaultTTL,
		log:  log.With("component", "jobs"),
		now:  time.Now,
	}
}

// Create inserts a fresh job and returns its snapshot. An empty id is
// replaced with a generated one. A non-terminal occupant refuses with
// ErrAlreadyExists; a canceled occupant refuses with ErrSessionCanceled
// regardless of replace; a completed/failed occupant is evicted when replace
// is set and refused otherwise.
func (r *Registry) Create(id, ownerID string, totalBytes int64, replace bool) (*Job, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.jobs[id]; ok {
		if e.job.Canceled || e.job.Status == StatusCanceled {
			return nil, ErrSessionCanceled
		}
		if !e.job.Status.Terminal() || !replace {
			return nil, ErrAlreadyExists
		}
		delete(r.jobs, id)
	}

	now := r.now()
	e := &entry{job: Job{
		ID:         id,
		OwnerID:    ownerID,
		Status:     StatusQueued,
		TotalBytes: totalBytes,
		CreatedAt:  now,
		UpdatedAt:  now,
	}}
	r.jobs[id] = e

	job := e.job
	return &job, nil
}

// Get returns a copy of the job, if present.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	job := e.job
	return &job, true
}

// Update applies a partial mutation. Unknown ids are a no-op. Once a job is
// canceled or canceling, only the Error annotation and the transition to
// canceled are honored; every other write is silently dropped. On terminal
// jobs only Error is honored. Progress writes are monotonic: bytes and
// percent never go backwards.
func (r *Registry) Update(id string, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return
	}

	job := &e.job

	if job.Canceled || job.Status == StatusCanceling || job.Status == StatusCanceled {
		changed := false
		if u.Error != nil {
			job.Error = *u.Error
			changed = true
		}
		if u.Status != nil && *u.Status == StatusCanceled && job.Status == StatusCanceling {
			job.Status = StatusCanceled
			e.inFlight = false
			changed = true
		}
		if changed {
			job.UpdatedAt = r.now()
		}
		return
	}

	if job.Status.Terminal() {
		if u.Error != nil {
			job.Error = *u.Error
			job.UpdatedAt = r.now()
		}
		return
	}

	if u.Status != nil {
		job.Status = *u.Status
		if job.Status.Terminal() {
			e.inFlight = false
		}
	}
	if u.BytesUploaded != nil && *u.BytesUploaded > job.BytesUploaded {
		job.BytesUploaded = *u.BytesUploaded
	}
	if u.Percent != nil && *u.Percent > job.Percent {
		p := *u.Percent
		if p > 100 {
			p = 100
		}
		job.Percent = p
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	if u.ContentID != nil {
		job.ContentID = *u.ContentID
	}
	job.UpdatedAt = r.now()
}

// AttachRuntime registers the live abort/cleanup hooks once the backend call
// has actually started and marks the job in flight. If the job was canceled
// before the transfer started, ErrSessionCanceled is returned and the caller
// must abort without performing any I/O.
func (r *Registry) AttachRuntime(id string, abort, cleanup func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil
	}
	if e.job.Canceled || e.job.Status == StatusCanceled || e.job.Status == StatusCanceling {
		return ErrSessionCanceled
	}
	e.rt = runtime{abort: abort, cleanup: cleanup}
	e.inFlight = true
	return nil
}

// Cancel cooperatively cancels a job: marks it canceling, best-effort fires
// the abort and cleanup hooks outside the lock, then settles on canceled.
// Idempotent; a no-op on terminal jobs. Returns the resulting snapshot and
// whether the id was known.
func (r *Registry) Cancel(id string) (*Job, bool) {
	r.mu.Lock()

	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if e.job.Status.Terminal() {
		job := e.job
		r.mu.Unlock()
		return &job, true
	}

	e.job.Canceled = true
	e.job.Status = StatusCanceling
	e.job.UpdatedAt = r.now()
	rt := e.rt
	e.rt = runtime{}
	r.mu.Unlock()

	r.invoke(id, "abort", rt.abort)
	r.invoke(id, "cleanup", rt.cleanup)

	status := StatusCanceled
	r.Update(id, Update{Status: &status})

	job, _ := r.Get(id)
	return job, true
}

// CancelOrInit cancels the job, creating a pre-canceled placeholder first
// when the id is unknown. The placeholder wins the race against an upload
// that has not reached Create yet.
func (r *Registry) CancelOrInit(id, ownerID string) *Job {
	r.mu.Lock()
	if _, ok := r.jobs[id]; !ok {
		now := r.now()
		r.jobs[id] = &entry{job: Job{
			ID:        id,
			OwnerID:   ownerID,
			Status:    StatusQueued,
			Canceled:  false,
			CreatedAt: now,
			UpdatedAt: now,
		}}
	}
	r.mu.Unlock()

	job, _ := r.Cancel(id)
	return job
}

// Sweep evicts jobs that are past the TTL and not currently in flight.
// Returns the number of evicted jobs.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	evicted := 0
	for id, e := range r.jobs {
		if e.inFlight {
			continue
		}
		if e.job.CreatedAt.Before(cutoff) {
			delete(r.jobs, id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor sweeps on the given interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug(ctx, "swept stale upload jobs", "count", n)
			}
		}
	}
}

// invoke runs a runtime hook, shielding the registry from panics. Hooks are
// best effort: a failing cleanup must not block the cancel transition.
func (r *Registry) invoke(id, name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn(context.Background(), "job runtime hook panicked", "jobID", id, "hook", name, "panic", p)
		}
	}()
	fn()
}
