package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/audit"
	"github.com/dmitrijs2005/mediavault/internal/server/auth"
	"github.com/dmitrijs2005/mediavault/internal/server/jobs"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/dmitrijs2005/mediavault/internal/server/transfer"
)

var testSecret = []byte("api-test-secret")

type stubBackend struct {
	ref *storage.StoredMediaReference
	err error
}

func (s *stubBackend) Upload(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	defer func() { _ = storage.Discard(src) }()
	if s.err != nil {
		return nil, s.err
	}
	opts.Report(src.Size(), src.Size(), 100)
	ref := *s.ref
	ref.OriginalName = src.Name()
	ref.Size = src.Size()
	return &ref, nil
}

func (s *stubBackend) Delete(context.Context, *storage.StoredMediaReference) error { return nil }

type stubLocal struct {
	path string
	err  error
}

func (s *stubLocal) Resolve(*storage.StoredMediaReference) (string, error) {
	return s.path, s.err
}

type stubStreamer struct {
	body string
	err  error
}

func (s *stubStreamer) Stream(w http.ResponseWriter, r *http.Request, ref *storage.StoredMediaReference) error {
	if s.err != nil {
		return s.err
	}
	_, _ = io.WriteString(w, s.body)
	return nil
}

type stubObjects struct{ url string }

func (s *stubObjects) Resolve(context.Context, *storage.StoredMediaReference) (string, error) {
	return s.url, nil
}

type apiFixture struct {
	server   *httptest.Server
	registry *jobs.Registry
	video    *stubBackend
	local    *stubLocal
	docs     *stubStreamer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logging.NewJSON(io.Discard)

	video := &stubBackend{ref: &storage.StoredMediaReference{StorageType: storage.TypeHostedVideo, VideoID: "vid-1"}}
	file := &stubBackend{ref: &storage.StoredMediaReference{StorageType: storage.TypeHostedDocument, FileID: "doc-1"}}

	sel, err := storage.NewSelector(storage.KindVideoHost, storage.KindDocRelay, map[string]storage.Backend{
		storage.KindVideoHost: video,
		storage.KindDocRelay:  file,
	})
	require.NoError(t, err)

	registry := jobs.NewRegistry(log)
	orch := transfer.NewOrchestrator(sel, registry, audit.Noop{}, log)

	local := &stubLocal{}
	docs := &stubStreamer{body: "doc-bytes"}

	h := NewHandler(Deps{
		Orchestrator: orch,
		Registry:     registry,
		Local:        local,
		Docs:         docs,
		Objects:      &stubObjects{url: "https://s3.local/x?sig=1"},
		TmpDir:       t.TempDir(),
		MaxUpload:    1 << 20,
	}, log)

	srv := httptest.NewServer(NewRouter(h, testSecret))
	t.Cleanup(srv.Close)

	return &apiFixture{server: srv, registry: registry, video: video, local: local, docs: docs}
}

func bearerFor(t *testing.T, userID string, admin bool) string {
	t.Helper()
	token, err := auth.GenerateToken(userID, admin, testSecret, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(t, http.MethodGet, "/api/v1/jobs/j1", "", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadVideoHappyPath(t *testing.T) {
	f := newAPIFixture(t)
	body, ct := multipartUpload(t, map[string]string{"title": "Lesson 1"}, "intro.mp4", "video-bytes")

	resp := f.do(t, http.MethodPost, "/api/v1/lessons/video", bearerFor(t, "user-1", false), body, ct)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	out := decodeJSON[uploadResponse](t, resp)
	require.NotEmpty(t, out.JobID)
	assert.Equal(t, "vid-1", out.Ref.VideoID)
	assert.Equal(t, "intro.mp4", out.Ref.OriginalName)

	job, ok := f.registry.Get(out.JobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, "user-1", job.OwnerID)
}

func TestUploadMissingFilePart(t *testing.T) {
	f := newAPIFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "no file"))
	require.NoError(t, mw.Close())

	resp := f.do(t, http.MethodPost, "/api/v1/lessons/video", bearerFor(t, "user-1", false), &buf, mw.FormDataContentType())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadTooLarge(t *testing.T) {
	f := newAPIFixture(t)
	big := make([]byte, 2<<20) // above the 1 MiB fixture cap
	body, ct := multipartUpload(t, nil, "big.bin", string(big))

	resp := f.do(t, http.MethodPost, "/api/v1/lessons/file", bearerFor(t, "user-1", false), body, ct)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUploadDuplicateJobID(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.registry.Create("job-1", "user-1", 10, false)
	require.NoError(t, err)

	body, ct := multipartUpload(t, map[string]string{"job_id": "job-1"}, "a.mp4", "x")
	resp := f.do(t, http.MethodPost, "/api/v1/lessons/video", bearerFor(t, "user-1", false), body, ct)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelThenUploadRefused(t *testing.T) {
	f := newAPIFixture(t)
	token := bearerFor(t, "user-1", false)

	resp := f.do(t, http.MethodPost, "/api/v1/jobs/job-x/cancel", token, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeJSON[jobs.Job](t, resp)
	assert.Equal(t, jobs.StatusCanceled, job.Status)

	body, ct := multipartUpload(t, map[string]string{"job_id": "job-x"}, "a.mp4", "x")
	resp = f.do(t, http.MethodPost, "/api/v1/lessons/video", token, body, ct)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetJobOwnership(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.registry.Create("job-1", "user-1", 10, false)
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/v1/jobs/job-1", bearerFor(t, "user-1", false), nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeJSON[jobs.Job](t, resp)
	assert.Equal(t, "job-1", job.ID)

	resp = f.do(t, http.MethodGet, "/api/v1/jobs/job-1", bearerFor(t, "user-2", false), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/jobs/job-1", bearerFor(t, "admin", true), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/jobs/nope", bearerFor(t, "user-1", false), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelForeignJobForbidden(t *testing.T) {
	f := newAPIFixture(t)
	_, err := f.registry.Create("job-1", "user-1", 10, false)
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/api/v1/jobs/job-1/cancel", bearerFor(t, "user-2", false), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	job, _ := f.registry.Get("job-1")
	assert.Equal(t, jobs.StatusQueued, job.Status, "a foreign cancel must not touch the job")
}

func TestDownloadLocalFile(t *testing.T) {
	f := newAPIFixture(t)
	path := filepath.Join(t.TempDir(), "stored.bin")
	require.NoError(t, os.WriteFile(path, []byte("local-bytes"), 0o660))
	f.local.path = path

	q := url.Values{"storage": {"local"}, "path": {"stored.bin"}, "name": {"notes.pdf"}}
	resp := f.do(t, http.MethodGet, "/api/v1/lessons/file?"+q.Encode(), bearerFor(t, "user-1", false), nil, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "local-bytes", string(b))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "notes.pdf")
}

func TestDownloadLocalMissingFile(t *testing.T) {
	f := newAPIFixture(t)
	f.local.err = fmt.Errorf("resolve: %w", os.ErrNotExist)

	q := url.Values{"storage": {"local"}, "path": {"gone.bin"}}
	resp := f.do(t, http.MethodGet, "/api/v1/lessons/file?"+q.Encode(), bearerFor(t, "user-1", false), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownloadHostedDocument(t *testing.T) {
	f := newAPIFixture(t)

	q := url.Values{"storage": {"hosted-document"}, "file_id": {"doc-1"}}
	resp := f.do(t, http.MethodGet, "/api/v1/lessons/file?"+q.Encode(), bearerFor(t, "user-1", false), nil, "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "doc-bytes", string(b))
}

func TestDownloadS3Redirects(t *testing.T) {
	f := newAPIFixture(t)

	client := f.server.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	q := url.Values{"storage": {"s3"}, "bucket": {"media"}, "key": {"uploads/k"}}
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/api/v1/lessons/file?"+q.Encode(), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerFor(t, "user-1", false))

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://s3.local/x?sig=1", resp.Header.Get("Location"))
}

func TestDownloadBadReference(t *testing.T) {
	f := newAPIFixture(t)

	for _, q := range []url.Values{
		{},
		{"storage": {"local"}},
		{"storage": {"s3"}, "bucket": {"media"}},
		{"storage": {"bogus"}, "path": {"x"}},
	} {
		resp := f.do(t, http.MethodGet, "/api/v1/lessons/file?"+q.Encode(), bearerFor(t, "user-1", false), nil, "")
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %v", q)
	}
}

func TestDeleteFile(t *testing.T) {
	f := newAPIFixture(t)

	q := url.Values{"storage": {"hosted-document"}, "file_id": {"doc-1"}}
	resp := f.do(t, http.MethodDelete, "/api/v1/lessons/file?"+q.Encode(), bearerFor(t, "user-1", false), nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUploadBackendFailureIsGeneric502(t *testing.T) {
	f := newAPIFixture(t)
	f.video.err = fmt.Errorf("negotiate upload: %w", storage.ErrUpstreamProtocol)

	body, ct := multipartUpload(t, nil, "a.mp4", "x")
	resp := f.do(t, http.MethodPost, "/api/v1/lessons/video", bearerFor(t, "user-1", false), body, ct)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	out := decodeJSON[errResponse](t, resp)
	assert.Equal(t, "upstream storage error", out.Error, "upstream details must not leak")
}
