// Package documents is a flat in-memory document store. Nothing survives a
// restart.
package documents

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrInvalid  = errors.New("fileName is required")
)

const (
	DefaultContentType = "application/octet-stream"
	DefaultUploadedBy  = "anonymous"
	DefaultDepartment  = "general"
	previewLength      = 100
)

type Document struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	ContentType string    `json:"contentType"`
	UploadedBy  string    `json:"uploadedBy"`
	Department  string    `json:"department"`
	Content     string    `json:"content,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Preview returns a copy whose content is cut to 100 characters.
func (d Document) Preview() Document {
	d.Content = Truncate(d.Content, previewLength)
	return d
}

// Truncate shortens s to n runes, appending "..." when it was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Patch holds optional replacements. Nil fields are left untouched.
type Patch struct {
	FileName    *string
	FileSize    *int64
	ContentType *string
	UploadedBy  *string
	Department  *string
	Content     *string
}

type Store struct {
	mu     sync.RWMutex
	docs   map[string]Document
	now    func() time.Time
	logger *slog.Logger
}

func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		docs:   make(map[string]Document),
		now:    time.Now,
		logger: log.With(slog.String("service", "documents")),
	}
}

// Create assigns a doc-<uuid> id and fills defaults for empty fields.
func (s *Store) Create(d Document) (Document, error) {
	d.FileName = strings.TrimSpace(d.FileName)
	if d.FileName == "" {
		return Document{}, ErrInvalid
	}
	if d.FileSize < 0 {
		d.FileSize = 0
	}
	d.ContentType = withDefault(d.ContentType, DefaultContentType)
	d.UploadedBy = withDefault(d.UploadedBy, DefaultUploadedBy)
	d.Department = withDefault(d.Department, DefaultDepartment)
	d.ID = "doc-" + uuid.NewString()
	d.CreatedAt = s.now().UTC()
	d.UpdatedAt = d.CreatedAt

	s.mu.Lock()
	s.docs[d.ID] = d
	s.mu.Unlock()
	s.logger.Info("document created", slog.String("id", d.ID), slog.String("file_name", d.FileName))
	return d, nil
}

// List returns documents, newest first.
func (s *Store) List() []Document {
	s.mu.RLock()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (s *Store) Update(id string, p Patch) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if p.FileName != nil {
		name := strings.TrimSpace(*p.FileName)
		if name == "" {
			return Document{}, ErrInvalid
		}
		d.FileName = name
	}
	if p.FileSize != nil && *p.FileSize >= 0 {
		d.FileSize = *p.FileSize
	}
	if p.ContentType != nil {
		d.ContentType = withDefault(*p.ContentType, d.ContentType)
	}
	if p.UploadedBy != nil {
		d.UploadedBy = withDefault(*p.UploadedBy, d.UploadedBy)
	}
	if p.Department != nil {
		d.Department = withDefault(*p.Department, d.Department)
	}
	if p.Content != nil {
		d.Content = *p.Content
	}
	d.UpdatedAt = s.now().UTC()
	s.docs[id] = d
	return d, nil
}

func (s *Store) Delete(id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	delete(s.docs, id)
	s.logger.Info("document deleted", slog.String("id", id))
	return d, nil
}

func withDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
