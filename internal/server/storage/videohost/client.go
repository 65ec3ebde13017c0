// Package videohost implements the resumable chunked upload protocol of the
// hosted video API: session negotiation, byte-range continuation with 308
// offset reconciliation, token refresh and quota classification.
package videohost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/sethvargo/go-retry"
)

// DefaultChunkSize is the upper bound of one byte-range PUT.
const DefaultChunkSize int64 = 1 << 20 // 1 MiB

// quotaReasons are the structured upstream error reasons treated as terminal
// quota exhaustion rather than auth failure or transient throttling.
var quotaReasons = map[string]struct{}{
	"quotaExceeded":         {},
	"dailyLimitExceeded":    {},
	"userRateLimitExceeded": {},
	"rateLimitExceeded":     {},
}

var rangeHeaderRe = regexp.MustCompile(`bytes=(\d+)-(\d+)`)

// Config carries the video host endpoints and upload tuning.
type Config struct {
	// UploadURL is the "initiate resumable upload" endpoint.
	UploadURL string
	// WatchURLBase, when set, is prepended to the media id to build the
	// public URL stored in the reference.
	WatchURLBase string
	// Privacy is the privacy status sent in the session descriptor.
	Privacy string
	// ChunkSize caps one PUT; defaults to DefaultChunkSize, never above it.
	ChunkSize int64
}

type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenSource
	log    logging.Logger
}

func New(cfg Config, tokens TokenSource, httpClient *http.Client, log logging.Logger) *Client {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > DefaultChunkSize {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Privacy == "" {
		cfg.Privacy = "unlisted"
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, tokens: tokens, log: log.With("component", "videohost")}
}

// Upload runs the full resumable protocol. The on-disk source is discarded on
// every final outcome; an upstream 401/403 triggers exactly one forced token
// refresh and one full retry from session negotiation.
func (c *Client) Upload(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	defer func() { _ = storage.Discard(src) }()

	if src.Size() <= 0 {
		return nil, fmt.Errorf("%w: empty upload source", storage.ErrValidation)
	}

	for attempt := 0; ; attempt++ {
		ref, err := c.uploadOnce(ctx, src, opts)
		if err != nil && errors.Is(err, storage.ErrAuthExpired) && attempt == 0 {
			c.log.Warn(ctx, "upstream auth expired, forcing token refresh", "file", src.Name())
			if rerr := c.tokens.Refresh(ctx); rerr != nil {
				return nil, fmt.Errorf("forced token refresh: %w", rerr)
			}
			continue
		}
		return ref, err
	}
}

// Delete is not supported by the hosted video API surface we use; removal is
// managed in the host's own console. It never fails the caller.
func (c *Client) Delete(ctx context.Context, ref *storage.StoredMediaReference) error {
	c.log.Warn(ctx, "video host delete is not supported, skipping", "videoID", ref.VideoID)
	return nil
}

func (c *Client) uploadOnce(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	sessionURL, err := c.negotiate(ctx, src, opts)
	if err != nil {
		return nil, err
	}

	id, err := c.transfer(ctx, sessionURL, src, opts)
	if err != nil {
		return nil, err
	}

	ref := &storage.StoredMediaReference{
		StorageType:  storage.TypeHostedVideo,
		OriginalName: src.Name(),
		MimeType:     opts.MimeType,
		Size:         src.Size(),
		UploadedAt:   time.Now().UTC(),
		UploadedBy:   opts.OwnerID,
		VideoID:      id,
	}
	if c.cfg.WatchURLBase != "" {
		ref.VideoURL = strings.TrimSuffix(c.cfg.WatchURLBase, "/") + "/" + id
	}
	return ref, nil
}

// negotiate opens a resumable session and returns its URL from the Location
// header. Transient statuses are retried under the shared policy.
func (c *Client) negotiate(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (string, error) {
	title := opts.Title
	if title == "" {
		title = src.Name()
	}
	descriptor, err := json.Marshal(map[string]any{
		"title":   title,
		"privacy": c.cfg.Privacy,
	})
	if err != nil {
		return "", fmt.Errorf("encode session descriptor: %w", err)
	}

	var sessionURL string
	err = storage.Retry(ctx, func(ctx context.Context) error {
		token, terr := c.tokens.Token(ctx)
		if terr != nil {
			return terr
		}

		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, bytes.NewReader(descriptor))
		if rerr != nil {
			return rerr
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(src.Size(), 10))
		if opts.MimeType != "" {
			req.Header.Set("X-Upload-Content-Type", opts.MimeType)
		}

		resp, derr := c.http.Do(req)
		if derr != nil {
			if ctx.Err() != nil {
				return storage.AsCanceled(ctx, derr)
			}
			return retry.RetryableError(derr)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return retry.RetryableError(fmt.Errorf("%w: session response missing Location", storage.ErrUpstreamProtocol))
			}
			sessionURL = loc
			return nil
		}
		return c.classifyStatus(resp)
	})
	if err != nil {
		return "", fmt.Errorf("session negotiation: %w", err)
	}
	return sessionURL, nil
}

// transfer drives the chunk loop until the host acknowledges completion and
// returns the durable media id.
func (c *Client) transfer(ctx context.Context, sessionURL string, src storage.FileSource, opts storage.UploadOptions) (string, error) {
	f, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer f.Close()

	total := src.Size()
	buf := make([]byte, c.cfg.ChunkSize)
	var offset int64

	for {
		// cancellation is observed at the top of every chunk iteration
		if cerr := ctx.Err(); cerr != nil {
			return "", storage.AsCanceled(ctx, cerr)
		}

		n := c.cfg.ChunkSize
		if rest := total - offset; rest < n {
			n = rest
		}
		if n <= 0 {
			return "", fmt.Errorf("%w: server kept requesting data past %d/%d bytes", storage.ErrUpstreamProtocol, offset, total)
		}

		if _, serr := f.Seek(offset, io.SeekStart); serr != nil {
			return "", fmt.Errorf("seek to offset %d: %w", offset, serr)
		}
		if _, rerr := io.ReadFull(f, buf[:n]); rerr != nil {
			return "", fmt.Errorf("read chunk at %d: %w", offset, rerr)
		}

		id, next, done, perr := c.putChunk(ctx, sessionURL, buf[:n], offset, total)
		if perr != nil {
			return "", perr
		}
		if done {
			opts.Report(total, total, 100)
			return id, nil
		}

		// the committed offset is monotonically non-decreasing and never
		// exceeds the total
		if next < offset {
			next = offset
		}
		if next > total {
			next = total
		}
		offset = next
		opts.Report(offset, total, storage.ProgressPercent(offset, total))
	}
}

// putChunk PUTs one byte range, retrying transient failures, and returns
// either the final media id (done=true) or the next committed offset.
func (c *Client) putChunk(ctx context.Context, sessionURL string, chunk []byte, offset, total int64) (id string, next int64, done bool, err error) {
	end := offset + int64(len(chunk)) - 1

	err = storage.Retry(ctx, func(ctx context.Context) error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
		if rerr != nil {
			return rerr
		}
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))
		req.ContentLength = int64(len(chunk))

		resp, derr := c.http.Do(req)
		if derr != nil {
			if ctx.Err() != nil {
				return storage.AsCanceled(ctx, derr)
			}
			return retry.RetryableError(derr)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPermanentRedirect: // 308 Resume Incomplete
			committed, ok := parseRangeEnd(resp.Header.Get("Range"))
			if !ok {
				committed, ok = c.probeOffset(ctx, sessionURL, total)
			}
			if !ok {
				// last resort: optimistic advance by one chunk length; a
				// miscount surfaces on the next Content-Range PUT
				committed = end + 1
				c.log.Warn(ctx, "offset probe inconclusive, advancing optimistically",
					"assumedOffset", committed, "total", total)
			}
			next = committed
			return nil

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var body struct {
				ID string `json:"id"`
			}
			if derr := json.NewDecoder(resp.Body).Decode(&body); derr != nil || body.ID == "" {
				return fmt.Errorf("%w: completion response missing media id", storage.ErrUpstreamProtocol)
			}
			id = body.ID
			done = true
			return nil

		default:
			return c.classifyStatus(resp)
		}
	})
	return id, next, done, err
}

// probeOffset issues a zero-length status probe (Content-Range: bytes */N)
// to learn the true committed offset. ok is false when the answer is
// inconclusive.
func (c *Client) probeOffset(ctx context.Context, sessionURL string, total int64) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, http.NoBody)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", total))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPermanentRedirect {
		return 0, false
	}
	return parseRangeEnd(resp.Header.Get("Range"))
}

// classifyStatus maps an upstream error response onto the shared taxonomy:
// quota reasons are terminal, 401/403 means auth expiry, 408/429/5xx are
// retried, the rest are terminal protocol errors.
func (c *Client) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))

	if reason, ok := errorReason(body); ok {
		if _, quota := quotaReasons[reason]; quota {
			return fmt.Errorf("%w: %s", storage.ErrQuotaExceeded, reason)
		}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return storage.ErrAuthExpired
	case storage.RetryableStatus(resp.StatusCode):
		return retry.RetryableError(&storage.StatusError{Code: resp.StatusCode})
	default:
		return &storage.StatusError{Code: resp.StatusCode}
	}
}

// errorReason digs the first structured reason out of an upstream error body
// of the shape {"error":{"errors":[{"reason":"..."}]}}.
func errorReason(body []byte) (string, bool) {
	var parsed struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	if len(parsed.Error.Errors) == 0 || parsed.Error.Errors[0].Reason == "" {
		return "", false
	}
	return parsed.Error.Errors[0].Reason, true
}

// parseRangeEnd extracts N from "bytes=0-N" and returns N+1, the next byte
// the server expects.
func parseRangeEnd(header string) (int64, bool) {
	m := rangeHeaderRe.FindStringSubmatch(header)
	if m == nil {
		return 0, false
	}
	endByte, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return endByte + 1, true
}
