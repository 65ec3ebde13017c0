package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediavault/internal/server/config"
	"github.com/dmitrijs2005/mediavault/internal/server/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.EndpointAddrHTTP = "127.0.0.1:0"
	cfg.UploadRoot = filepath.Join(t.TempDir(), "uploads")
	cfg.TmpDir = filepath.Join(t.TempDir(), "tmp")
	return cfg
}

func TestNewAppWithDefaults(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app.router)
	assert.Nil(t, app.db, "no DSN means no audit database")
}

func TestNewAppRejectsUnconfiguredBackendKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.VideoStorage = storage.KindVideoHost // no VideoUploadURL, backend never built

	_, err := NewApp(context.Background(), cfg)
	assert.ErrorIs(t, err, storage.ErrValidation)
}

func TestNewAppBuildsConfiguredBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.VideoStorage = storage.KindVideoHost
	cfg.VideoUploadURL = "https://video.example/upload"
	cfg.FileStorage = storage.KindDocRelay
	cfg.RelayBaseURL = "https://relay.example"
	cfg.RelayToken = "tok"
	cfg.RelayChatID = -1

	_, err := NewApp(context.Background(), cfg)
	require.NoError(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
