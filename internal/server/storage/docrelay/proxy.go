package docrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/sethvargo/go-retry"
)

// Stream proxies the stored document into w without buffering the whole
// file. Response headers are written only after the first upstream chunk
// arrives, so an upstream that claims 200 and dies mid-handshake never
// produces a half-committed response. Once the first byte has been sent,
// failures just terminate the connection; retries are only safe before that
// point. A client disconnect cancels the request context, which tears down
// the in-flight upstream request and body.
func (c *Client) Stream(w http.ResponseWriter, r *http.Request, ref *storage.StoredMediaReference) error {
	ctx := r.Context()

	path, err := c.resolvePath(ctx, ref.FileID)
	if err != nil {
		return err
	}

	var (
		upstream *http.Response
		first    []byte
	)
	// opening the upstream and reading the first chunk is retried as a unit:
	// nothing has reached the client yet
	err = storage.Retry(ctx, func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL(path), nil)
		if rerr != nil {
			return rerr
		}
		resp, derr := c.http.Do(req)
		if derr != nil {
			if ctx.Err() != nil {
				return storage.AsCanceled(ctx, derr)
			}
			return retry.RetryableError(derr)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			serr := &storage.StatusError{Code: resp.StatusCode}
			if storage.RetryableStatus(resp.StatusCode) {
				return retry.RetryableError(serr)
			}
			return serr
		}

		buf := make([]byte, 32<<10)
		n, rerr := resp.Body.Read(buf)
		if n == 0 && rerr != nil && rerr != io.EOF {
			resp.Body.Close()
			if ctx.Err() != nil {
				return storage.AsCanceled(ctx, rerr)
			}
			return retry.RetryableError(fmt.Errorf("%w: upstream died before first byte: %v", storage.ErrUpstreamProtocol, rerr))
		}

		upstream = resp
		first = buf[:n]
		return nil
	})
	if err != nil {
		return err
	}
	defer upstream.Body.Close()

	c.writeHeaders(w, ref, upstream)
	if _, werr := w.Write(first); werr != nil {
		return storage.AsCanceled(ctx, werr)
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	if _, cerr := io.Copy(w, upstream.Body); cerr != nil {
		// mid-stream failure: the status line is long gone, just drop the
		// connection
		return storage.AsCanceled(ctx, cerr)
	}
	return nil
}

// resolvePath exchanges the opaque file handle for a retrievable path via
// the metadata endpoint.
func (c *Client) resolvePath(ctx context.Context, fileID string) (string, error) {
	var path string
	err := storage.Retry(ctx, func(ctx context.Context) error {
		u := c.methodURL("getFile") + "?file_id=" + url.QueryEscape(fileID)
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if rerr != nil {
			return rerr
		}
		resp, derr := c.http.Do(req)
		if derr != nil {
			if ctx.Err() != nil {
				return storage.AsCanceled(ctx, derr)
			}
			return retry.RetryableError(derr)
		}
		defer resp.Body.Close()

		env, eerr := decodeEnvelope(resp)
		if eerr != nil {
			return eerr
		}
		var result struct {
			FilePath string `json:"file_path"`
		}
		if jerr := json.Unmarshal(env.Result, &result); jerr != nil || result.FilePath == "" {
			return retry.RetryableError(fmt.Errorf("%w: file metadata missing path", storage.ErrUpstreamProtocol))
		}
		path = result.FilePath
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve file %s: %w", fileID, err)
	}
	return path, nil
}

func (c *Client) writeHeaders(w http.ResponseWriter, ref *storage.StoredMediaReference, upstream *http.Response) {
	contentType := ref.MimeType
	if contentType == "" {
		contentType = upstream.Header.Get("Content-Type")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if cl := upstream.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if ref.OriginalName != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", SanitizeFilename(ref.OriginalName)))
	}
	w.WriteHeader(http.StatusOK)
}
