package validate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ppiankov/refcheck/internal/cache"
	"github.com/ppiankov/refcheck/internal/extract"
	"github.com/ppiankov/refcheck/internal/model"
	"github.com/ppiankov/refcheck/internal/telemetry"
)

// Handle is a reference document prepared for prompting
type Handle struct {
	Name      string
	Text      string
	Method    string
	Pages     int
	Truncated bool
}

// Uploader prepares a reference document for the backend. It is called at
// most once per filename per session.
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) (Handle, error)
}

// ExtractUploader prepares documents by extracting their text locally
type ExtractUploader struct {
	extractor *extract.Extractor
}

// NewExtractUploader creates an uploader over a text extractor
func NewExtractUploader(extractor *extract.Extractor) *ExtractUploader {
	return &ExtractUploader{extractor: extractor}
}

// Upload extracts the document text
func (u *ExtractUploader) Upload(ctx context.Context, name string, content []byte) (Handle, error) {
	txt, err := u.extractor.Extract(ctx, model.ReferenceDocument{Name: name, Content: content})
	if err != nil {
		return Handle{}, err
	}
	telemetry.ObserveDocument(txt.Method)
	return Handle{
		Name:      txt.Name,
		Text:      txt.Content,
		Method:    txt.Method,
		Pages:     txt.Pages,
		Truncated: txt.Truncated,
	}, nil
}

// Session holds the per-batch document caches. Both caches are keyed by
// filename and live as long as the session; each batch gets its own session.
type Session struct {
	ID string

	mu       sync.Mutex
	contents *cache.Typed[[]byte]
	handles  *cache.Typed[Handle]
	uploader Uploader
}

// NewSession creates a batch session
func NewSession(uploader Uploader) *Session {
	return &Session{
		ID:       uuid.NewString(),
		contents: cache.NewTyped[[]byte](0),
		handles:  cache.NewTyped[Handle](0),
		uploader: uploader,
	}
}

// Handle returns the prepared handle for doc, uploading it on first use
func (s *Session) Handle(ctx context.Context, doc model.ReferenceDocument) (Handle, error) {
	if s == nil || s.uploader == nil {
		return Handle{}, errors.New("no document session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.handles.Get(doc.Name); ok {
		telemetry.ObserveCache("handle", true)
		return h, nil
	}
	telemetry.ObserveCache("handle", false)

	content, ok := s.contents.Get(doc.Name)
	if !ok {
		content = doc.Content
		s.contents.Set(doc.Name, content)
	}

	h, err := s.uploader.Upload(ctx, doc.Name, content)
	if err != nil {
		return Handle{}, fmt.Errorf("prepare %s: %w", doc.Name, err)
	}
	s.handles.Set(doc.Name, h)
	return h, nil
}

// Content returns the cached raw bytes of a document seen by this session
func (s *Session) Content(name string) ([]byte, bool) {
	return s.contents.Get(name)
}

// Prepared returns the number of documents prepared so far
func (s *Session) Prepared() int {
	return s.handles.Len()
}
