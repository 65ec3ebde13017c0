package jobs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(logging.NewJSON(io.Discard))
}

func ptr[T any](v T) *T { return &v }

func TestCreateGeneratesID(t *testing.T) {
	r := newTestRegistry()

	job, err := r.Create("", "user-1", 1024, true)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, "user-1", job.OwnerID)
	assert.Equal(t, int64(1024), job.TotalBytes)
}

func TestCreateRefusesNonTerminal(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Create("j1", "user-1", 10, true)
	require.NoError(t, err)

	_, err = r.Create("j1", "user-1", 10, true)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	r.Update("j1", Update{Status: ptr(StatusUploading)})
	_, err = r.Create("j1", "user-1", 10, true)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateRefusesCanceled(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Create("j1", "user-1", 10, true)
	require.NoError(t, err)
	_, found := r.Cancel("j1")
	require.True(t, found)

	// a late upload must not resurrect the abandoned session
	_, err = r.Create("j1", "user-1", 10, true)
	assert.ErrorIs(t, err, ErrSessionCanceled)
}

func TestCreateReplacesTerminal(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Create("j1", "user-1", 10, true)
	require.NoError(t, err)
	r.Update("j1", Update{Status: ptr(StatusFailed)})

	_, err = r.Create("j1", "user-1", 10, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	job, err := r.Create("j1", "user-2", 20, true)
	require.NoError(t, err)
	assert.Equal(t, "user-2", job.OwnerID)
	assert.Equal(t, StatusQueued, job.Status)
}

func TestUpdateUnknownIDIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.Update("ghost", Update{Status: ptr(StatusUploading)})
	_, ok := r.Get("ghost")
	assert.False(t, ok)
}

func TestUpdateProgressMonotonic(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)

	r.Update("j1", Update{Status: ptr(StatusUploading), BytesUploaded: ptr(int64(50)), Percent: ptr(50)})
	// a stale callback with a smaller offset must not move progress backwards
	r.Update("j1", Update{BytesUploaded: ptr(int64(30)), Percent: ptr(30)})

	job, _ := r.Get("j1")
	assert.Equal(t, int64(50), job.BytesUploaded)
	assert.Equal(t, 50, job.Percent)
}

func TestUpdateAfterCancelIsDropped(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)
	r.Update("j1", Update{Status: ptr(StatusUploading), BytesUploaded: ptr(int64(40)), Percent: ptr(40)})

	_, found := r.Cancel("j1")
	require.True(t, found)

	// the slow backend completion arrives after the cancel
	r.Update("j1", Update{
		Status:        ptr(StatusCompleted),
		BytesUploaded: ptr(int64(100)),
		Percent:       ptr(100),
		ContentID:     ptr("vid-123"),
	})

	job, _ := r.Get("j1")
	assert.Equal(t, StatusCanceled, job.Status)
	assert.Equal(t, int64(40), job.BytesUploaded)
	assert.Equal(t, 40, job.Percent)
	assert.Empty(t, job.ContentID)
	assert.True(t, job.Canceled)

	// only the diagnostic error annotation is still honored
	r.Update("j1", Update{Error: ptr("upstream gave up")})
	job, _ = r.Get("j1")
	assert.Equal(t, "upstream gave up", job.Error)
}

func TestUpdateAfterFailureOnlyError(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)
	r.Update("j1", Update{Status: ptr(StatusFailed), Error: ptr("boom")})

	r.Update("j1", Update{Status: ptr(StatusCompleted), Percent: ptr(100)})
	job, _ := r.Get("j1")
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 0, job.Percent)
}

func TestCancelInvokesRuntimeHooks(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)

	var aborted, cleaned bool
	require.NoError(t, r.AttachRuntime("j1", func() { aborted = true }, func() { cleaned = true }))

	job, found := r.Cancel("j1")
	require.True(t, found)
	assert.True(t, aborted)
	assert.True(t, cleaned)
	assert.Equal(t, StatusCanceled, job.Status)
	assert.True(t, job.Canceled)
}

func TestCancelIdempotent(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)

	calls := 0
	require.NoError(t, r.AttachRuntime("j1", func() { calls++ }, nil))

	r.Cancel("j1")
	r.Cancel("j1")
	assert.Equal(t, 1, calls)

	job, _ := r.Get("j1")
	assert.Equal(t, StatusCanceled, job.Status)
}

func TestCancelToleratesPanickingHook(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)
	require.NoError(t, r.AttachRuntime("j1", func() { panic("broken pipe") }, nil))

	job, found := r.Cancel("j1")
	require.True(t, found)
	assert.Equal(t, StatusCanceled, job.Status)
}

func TestCancelBeforeAttach(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Create("j1", "user-1", 100, true)
	require.NoError(t, err)

	_, found := r.Cancel("j1")
	require.True(t, found)

	// the backend starting late must observe the flag and do no I/O
	err = r.AttachRuntime("j1", func() {}, nil)
	assert.ErrorIs(t, err, ErrSessionCanceled)

	job, _ := r.Get("j1")
	assert.Equal(t, StatusCanceled, job.Status)
}

func TestCancelOrInitPlaceholder(t *testing.T) {
	r := newTestRegistry()

	job := r.CancelOrInit("future-job", "user-1")
	require.NotNil(t, job)
	assert.Equal(t, StatusCanceled, job.Status)
	assert.True(t, job.Canceled)

	// the upload arriving later loses the race
	_, err := r.Create("future-job", "user-1", 100, true)
	assert.ErrorIs(t, err, ErrSessionCanceled)
}

func TestCancelUnknownWithoutInit(t *testing.T) {
	r := newTestRegistry()
	_, found := r.Cancel("ghost")
	assert.False(t, found)
}

func TestSweepEvictsStaleJobs(t *testing.T) {
	r := newTestRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	_, err := r.Create("stale", "user-1", 10, true)
	require.NoError(t, err)
	_, err = r.Create("inflight", "user-1", 10, true)
	require.NoError(t, err)
	require.NoError(t, r.AttachRuntime("inflight", func() {}, nil))
	_, err = r.Create("fresh", "user-1", 10, true)
	require.NoError(t, err)

	// age everything except "fresh" past the TTL
	r.now = func() time.Time { return base.Add(DefaultTTL + time.Minute) }
	r.mu.Lock()
	r.jobs["fresh"].job.CreatedAt = r.now()
	r.mu.Unlock()

	evicted := r.Sweep()
	assert.Equal(t, 1, evicted)

	_, ok := r.Get("stale")
	assert.False(t, ok)
	_, ok = r.Get("inflight")
	assert.True(t, ok)
	_, ok = r.Get("fresh")
	assert.True(t, ok)
}

func TestRunJanitorStopsOnContext(t *testing.T) {
	r := newTestRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.RunJanitor(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
