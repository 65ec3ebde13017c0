package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/mediavault/internal/filex"
)

// FileSource is the uniform view over upload input. It is a closed union of
// OnDisk (already persisted by the multipart parser) and InMemory (small
// payloads held as bytes); both support seeking so the resumable client can
// reposition after an offset reconciliation.
type FileSource interface {
	Open() (io.ReadSeekCloser, error)
	Size() int64
	Name() string
}

// OnDisk is a FileSource backed by a temp file. Whoever holds it last is
// responsible for calling Discard; backends discard it on success and on
// permanent failure.
type OnDisk struct {
	Path     string
	FileName string
	size     int64
}

// NewOnDisk stats path and wraps it. FileName defaults to the base name.
func NewOnDisk(path, fileName string) (*OnDisk, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload source: %w", err)
	}
	if fileName == "" {
		fileName = filepath.Base(path)
	}
	return &OnDisk{Path: path, FileName: fileName, size: fi.Size()}, nil
}

func (f *OnDisk) Open() (io.ReadSeekCloser, error) {
	return os.Open(f.Path)
}

func (f *OnDisk) Size() int64 { return f.size }

func (f *OnDisk) Name() string { return f.FileName }

// Discard removes the underlying temp file.
func (f *OnDisk) Discard() error { return filex.Remove(f.Path) }

// InMemory is a FileSource over a byte slice.
type InMemory struct {
	FileName string
	Data     []byte
}

func (f *InMemory) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(f.Data)}, nil
}

func (f *InMemory) Size() int64 { return int64(len(f.Data)) }

func (f *InMemory) Name() string { return f.FileName }

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// Discard releases any on-disk resource behind src; in-memory sources are a
// no-op. Safe to call more than once.
func Discard(src FileSource) error {
	if d, ok := src.(*OnDisk); ok {
		return d.Discard()
	}
	return nil
}
