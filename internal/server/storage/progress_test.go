package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingReaderThrottles(t *testing.T) {
	var reports []Progress
	cr := NewCountingReader(strings.NewReader(strings.Repeat("a", 40)), 40, func(p Progress) {
		reports = append(reports, p)
	})

	// freeze time: every read appears to happen within the same instant
	base := time.Now()
	cr.now = func() time.Time { return base }

	buf := make([]byte, 10)
	for i := 0; i < 4; i++ {
		_, err := cr.Read(buf)
		require.NoError(t, err)
	}

	// first report goes out, the rest fall inside the throttle window
	require.Len(t, reports, 1)
	assert.Equal(t, int64(10), reports[0].UploadedBytes)
	assert.Equal(t, 25, reports[0].Percent)

	// advancing the clock past the interval lets the next report through
	cr.now = func() time.Time { return base.Add(ProgressInterval + time.Millisecond) }
	cr.report()
	require.Len(t, reports, 2)
	assert.Equal(t, int64(40), reports[1].UploadedBytes)
	assert.Equal(t, 99, reports[1].Percent)
}

func TestCountingReaderFinish(t *testing.T) {
	var last Progress
	cr := NewCountingReader(strings.NewReader("abcd"), 4, func(p Progress) { last = p })

	buf := make([]byte, 4)
	_, err := cr.Read(buf)
	require.NoError(t, err)
	// mid-transfer reports never claim completion
	assert.Less(t, last.Percent, 100)

	cr.Finish()
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, int64(4), last.UploadedBytes)
	assert.Equal(t, int64(4), cr.BytesRead())
}

func TestCountingReaderNilCallback(t *testing.T) {
	cr := NewCountingReader(strings.NewReader("abc"), 3, nil)
	buf := make([]byte, 3)
	_, err := cr.Read(buf)
	require.NoError(t, err)
	cr.Finish()
	assert.Equal(t, int64(3), cr.BytesRead())
}
