package storage

import (
	"io"
	"time"
)

// ProgressInterval is the minimum spacing between intermediate progress
// reports emitted by CountingReader.
const ProgressInterval = 200 * time.Millisecond

// CountingReader wraps a reader and reports transfer progress, throttled to
// at most one report per ProgressInterval. The final 100% report is emitted
// by Finish, never by Read, so completion is only announced once the caller
// knows the upstream host accepted the payload.
type CountingReader struct {
	r     io.Reader
	total int64
	fn    ProgressFunc

	read int64
	last time.Time
	now  func() time.Time
}

func NewCountingReader(r io.Reader, total int64, fn ProgressFunc) *CountingReader {
	return &CountingReader{r: r, total: total, fn: fn, now: time.Now}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.report()
	}
	return n, err
}

// Finish emits the final report with percent forced to 100.
func (c *CountingReader) Finish() {
	if c.fn == nil {
		return
	}
	c.fn(Progress{UploadedBytes: c.read, TotalBytes: c.total, Percent: 100})
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 { return c.read }

func (c *CountingReader) report() {
	if c.fn == nil {
		return
	}
	now := c.now()
	if !c.last.IsZero() && now.Sub(c.last) < ProgressInterval {
		return
	}
	c.last = now
	c.fn(Progress{
		UploadedBytes: c.read,
		TotalBytes:    c.total,
		Percent:       ProgressPercent(c.read, c.total),
	})
}
