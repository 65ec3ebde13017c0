// Package docrelay implements the bot-style document host: single-shot
// multipart uploads with response-decoding defense, and a streaming download
// proxy that never buffers whole files.
package docrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/logging"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
	"github.com/sethvargo/go-retry"
)

// DefaultMaxFileSize is the client-side ceiling enforced before any network
// call; the relay host rejects anything larger anyway.
const DefaultMaxFileSize int64 = 50 << 20 // 50 MiB

// maxFilenameLen bounds sanitized names inserted into multipart headers.
const maxFilenameLen = 150

// Config carries the relay host coordinates.
type Config struct {
	// BaseURL of the relay API, without the bot path.
	BaseURL string
	// Token authenticates the bot; it is part of the URL path.
	Token string
	// ChatID is the delivery target for uploaded documents.
	ChatID int64
	// MaxFileSize overrides DefaultMaxFileSize when positive.
	MaxFileSize int64
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logging.Logger
}

func New(cfg Config, httpClient *http.Client, log logging.Logger) *Client {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient, log: log.With("component", "docrelay")}
}

// apiResponse is the relay's uniform envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sendResult struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Document struct {
		FileID string `json:"file_id"`
	} `json:"document"`
}

// Upload posts the whole file as one multipart request. The size ceiling is
// enforced before any network call; empty or undecodable upstream bodies are
// treated as transient and retried. The on-disk source is discarded on every
// exit path.
func (c *Client) Upload(ctx context.Context, src storage.FileSource, opts storage.UploadOptions) (*storage.StoredMediaReference, error) {
	defer func() { _ = storage.Discard(src) }()

	if src.Size() <= 0 {
		return nil, fmt.Errorf("%w: empty upload source", storage.ErrValidation)
	}
	if src.Size() > c.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte ceiling",
			storage.ErrFileTooLarge, src.Size(), c.cfg.MaxFileSize)
	}

	name := SanitizeFilename(src.Name())

	var result sendResult
	err := storage.Retry(ctx, func(ctx context.Context) error {
		f, oerr := src.Open()
		if oerr != nil {
			return fmt.Errorf("open upload source: %w", oerr)
		}
		defer f.Close()

		counting := storage.NewCountingReader(f, src.Size(), opts.OnProgress)

		body, contentType := multipartBody(c.cfg.ChatID, name, counting)
		req, rerr := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), body)
		if rerr != nil {
			return rerr
		}
		req.Header.Set("Content-Type", contentType)

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
		if jerr := json.Unmarshal(env.Result, &result); jerr != nil || result.Document.FileID == "" {
			return retry.RetryableError(fmt.Errorf("%w: send result missing document id", storage.ErrUpstreamProtocol))
		}

		counting.Finish()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &storage.StoredMediaReference{
		StorageType:  storage.TypeHostedDocument,
		OriginalName: src.Name(),
		MimeType:     opts.MimeType,
		Size:         src.Size(),
		UploadedAt:   time.Now().UTC(),
		UploadedBy:   opts.OwnerID,
		FileID:       result.Document.FileID,
		MessageID:    result.MessageID,
		ChatID:       result.Chat.ID,
	}, nil
}

// Delete asks the relay to drop the delivery message. Best effort: the host
// refuses deletions past its retention window, so failures are only logged.
func (c *Client) Delete(ctx context.Context, ref *storage.StoredMediaReference) error {
	form := url.Values{
		"chat_id":    {strconv.FormatInt(ref.ChatID, 10)},
		"message_id": {strconv.FormatInt(ref.MessageID, 10)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("deleteMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn(ctx, "relay delete failed", "fileID", ref.FileID, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if env, derr := decodeEnvelope(resp); derr != nil || !env.OK {
		c.log.Warn(ctx, "relay refused delete", "fileID", ref.FileID, "status", resp.StatusCode)
	}
	return nil
}

// decodeEnvelope reads and classifies an upstream response. Empty bodies,
// failed decodes and throttling all come back as retryable; other refusals
// are terminal.
func decodeEnvelope(resp *http.Response) (*apiResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("%w: reading response: %v", storage.ErrUpstreamProtocol, err))
	}
	if len(raw) == 0 {
		return nil, retry.RetryableError(fmt.Errorf("%w: empty response body (status %d)", storage.ErrUpstreamProtocol, resp.StatusCode))
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, retry.RetryableError(fmt.Errorf("%w: undecodable response body (status %d)", storage.ErrUpstreamProtocol, resp.StatusCode))
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		serr := &storage.StatusError{Code: code, Reason: env.Description}
		if storage.RetryableStatus(code) {
			return nil, retry.RetryableError(serr)
		}
		return nil, serr
	}
	return &env, nil
}

// multipartBody streams chat id and document through a pipe so the file is
// never buffered whole.
func multipartBody(chatID int64, filename string, file io.Reader) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var err error
		defer func() { pw.CloseWithError(err) }()

		if err = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10)); err != nil {
			return
		}
		var part io.Writer
		if part, err = mw.CreateFormFile("document", filename); err != nil {
			return
		}
		if _, err = io.Copy(part, file); err != nil {
			return
		}
		err = mw.Close()
	}()

	return pr, mw.FormDataContentType()
}

// SanitizeFilename reduces a client-supplied name to printable ASCII safe
// for a multipart header: control and non-ASCII characters are dropped,
// quotes and backslashes removed, whitespace collapsed, length clipped.
func SanitizeFilename(name string) string {
	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			space = true
		case r <= 0x1f || r >= 0x7f || r == '"' || r == '\\':
			// dropped
		default:
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		}
	}

	out := b.String()
	if len(out) > maxFilenameLen {
		out = out[:maxFilenameLen]
		out = strings.TrimRight(out, " ")
	}
	if out == "" {
		out = "file"
	}
	return out
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Token, method)
}

func (c *Client) fileURL(path string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", strings.TrimSuffix(c.cfg.BaseURL, "/"), c.cfg.Token, strings.TrimPrefix(path, "/"))
}
