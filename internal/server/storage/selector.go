package storage

import "fmt"

// Backend kinds accepted in configuration.
const (
	KindLocal     = "local"
	KindVideoHost = "videohost"
	KindDocRelay  = "docrelay"
	KindS3        = "s3"
)

// Selector resolves the configured backend for each upload category. It is a
// pure function of configuration: no side effects, safe to consult
// per-request.
type Selector struct {
	videoKind string
	fileKind  string
	backends  map[string]Backend
}

// NewSelector validates that both configured kinds resolve to a registered
// backend and returns the selector.
func NewSelector(videoKind, fileKind string, backends map[string]Backend) (*Selector, error) {
	if _, ok := backends[videoKind]; !ok {
		return nil, fmt.Errorf("%w: unknown video storage %q", ErrValidation, videoKind)
	}
	if _, ok := backends[fileKind]; !ok {
		return nil, fmt.Errorf("%w: unknown file storage %q", ErrValidation, fileKind)
	}
	return &Selector{videoKind: videoKind, fileKind: fileKind, backends: backends}, nil
}

// Video returns the backend tag and operations for lesson videos.
func (s *Selector) Video() (string, Backend) {
	return s.videoKind, s.backends[s.videoKind]
}

// File returns the backend tag and operations for lesson files.
func (s *Selector) File() (string, Backend) {
	return s.fileKind, s.backends[s.fileKind]
}

// Backend looks up a registered backend by kind.
func (s *Selector) Backend(kind string) (Backend, bool) {
	b, ok := s.backends[kind]
	return b, ok
}
