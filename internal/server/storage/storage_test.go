package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name     string
		uploaded int64
		total    int64
		want     int
	}{
		{name: "zero", uploaded: 0, total: 100, want: 0},
		{name: "half", uploaded: 50, total: 100, want: 50},
		{name: "full clamps to 99", uploaded: 100, total: 100, want: 99},
		{name: "over clamps to 99", uploaded: 150, total: 100, want: 99},
		{name: "unknown total", uploaded: 10, total: 0, want: 0},
		{name: "negative total", uploaded: 10, total: -1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressPercent(tt.uploaded, tt.total))
		})
	}
}

func TestAsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := AsCanceled(ctx, errors.New("read aborted"))
	assert.ErrorIs(t, err, ErrClientCanceled)

	plain := errors.New("boom")
	assert.Equal(t, plain, AsCanceled(context.Background(), plain))
	assert.NoError(t, AsCanceled(ctx, nil))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(ErrClientCanceled))
	assert.True(t, Terminal(ErrQuotaExceeded))
	assert.True(t, Terminal(ErrFileTooLarge))
	assert.False(t, Terminal(ErrUpstreamProtocol))
	assert.False(t, Terminal(errors.New("net timeout")))
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 503} {
		assert.True(t, RetryableStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 308, 400, 401, 403, 404} {
		assert.False(t, RetryableStatus(code), "code %d", code)
	}
}

type fakeBackend struct{ Backend }

func TestSelector(t *testing.T) {
	local := &fakeBackend{}
	video := &fakeBackend{}

	s, err := NewSelector(KindVideoHost, KindLocal, map[string]Backend{
		KindLocal:     local,
		KindVideoHost: video,
	})
	require.NoError(t, err)

	tag, b := s.Video()
	assert.Equal(t, KindVideoHost, tag)
	assert.Same(t, Backend(video), b)

	tag, b = s.File()
	assert.Equal(t, KindLocal, tag)
	assert.Same(t, Backend(local), b)
}

func TestSelectorUnknownKind(t *testing.T) {
	_, err := NewSelector("tape", KindLocal, map[string]Backend{KindLocal: &fakeBackend{}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewSelector(KindLocal, "tape", map[string]Backend{KindLocal: &fakeBackend{}})
	assert.ErrorIs(t, err, ErrValidation)
}
