package videohost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

// TokenSource supplies bearer tokens for the video host. Refresh forces a
// new token after an upstream 401/403; callers get exactly one forced
// refresh per upload.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

// StaticTokenSource returns a fixed token and cannot refresh. Suitable for
// tests and long-lived service tokens.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) { return string(s), nil }

func (s StaticTokenSource) Refresh(ctx context.Context) error {
	return fmt.Errorf("%w: static token cannot be refreshed", storage.ErrAuthExpired)
}

// RefreshingTokenSource exchanges a long-lived refresh token for short-lived
// access tokens at an OAuth-style token endpoint.
type RefreshingTokenSource struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	RefreshToken string

	HTTP *http.Client

	mu     sync.Mutex
	access string
}

func (r *RefreshingTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.access != "" {
		return r.access, nil
	}
	return r.fetchLocked(ctx)
}

func (r *RefreshingTokenSource) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.access = ""
	_, err := r.fetchLocked(ctx)
	return err
}

func (r *RefreshingTokenSource) fetchLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.ClientID},
		"client_secret": {r.ClientSecret},
		"refresh_token": {r.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", storage.AsCanceled(ctx, fmt.Errorf("token request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint status %d", storage.ErrAuthExpired, resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("%w: undecodable token response", storage.ErrUpstreamProtocol)
	}

	r.access = body.AccessToken
	return r.access, nil
}
