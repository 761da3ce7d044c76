// Package files holds the in-memory File Upload Cache.
//
// Records live only in process memory and are lost on restart. The local
// copies referenced by LocalPath live on the injected afero filesystem.
package files

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/moby/locker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"
)

var cachedFiles = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "aobridge_files_cached",
	Help: "Number of file records held in the upload cache.",
})

// Cache maps generated file ids to records. Only the intake handler inserts,
// only the upload coordinator patches, deletion evicts.
type Cache struct {
	mu      sync.RWMutex
	records map[string]FileRecord
	fs      afero.Fs
	locks   *locker.Locker
	logger  *slog.Logger
}

// NewCache creates an empty cache whose local copies live on fs.
func NewCache(log *slog.Logger, fs afero.Fs) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Cache{
		records: make(map[string]FileRecord),
		fs:      fs,
		locks:   locker.New(),
		logger:  log.With(slog.String("service", "files")),
	}
}

// Fs returns the filesystem holding local copies.
func (c *Cache) Fs() afero.Fs { return c.fs }

// LockID acquires the advisory lock for id and returns its release func.
func (c *Cache) LockID(id string) func() {
	c.locks.Lock(id)
	return func() { _ = c.locks.Unlock(id) }
}

func (c *Cache) Insert(rec FileRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRecord)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[rec.ID]; ok {
		return ErrDuplicateID
	}
	c.records[rec.ID] = rec
	cachedFiles.Set(float64(len(c.records)))
	return nil
}

func (c *Cache) Get(id string) (FileRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	return rec, nil
}

// List returns every record, newest first.
func (c *Cache) List() []FileRecord {
	c.mu.RLock()
	out := make([]FileRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	c.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

// ListByUploader returns the records uploaded by one party, newest first.
func (c *Cache) ListByUploader(uploader string) []FileRecord {
	all := c.List()
	out := all[:0]
	for _, rec := range all {
		if rec.UploadedBy == uploader {
			out = append(out, rec)
		}
	}
	return out
}

// Recent applies f to the records, newest first.
func (c *Cache) Recent(f Filter) []FileRecord {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	out := make([]FileRecord, 0, limit)
	for _, rec := range c.List() {
		if !f.Since.IsZero() && rec.CreatedAt.Before(f.Since) {
			continue
		}
		if !matchesType(rec.ContentType, f.Type) {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Update merges p into the record. The record is left unchanged when the
// result would violate the upload status invariant.
func (c *Cache) Update(id string, p Patch) (FileRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	next := p.apply(rec)
	if err := next.Validate(); err != nil {
		return rec, err
	}
	c.records[id] = next
	return next, nil
}

// Delete evicts the record and removes its local copy. Failure to remove the
// file is logged; the record is evicted regardless.
func (c *Cache) Delete(id string) (FileRecord, error) {
	unlock := c.LockID(id)
	defer unlock()

	c.mu.Lock()
	rec, ok := c.records[id]
	if ok {
		delete(c.records, id)
		cachedFiles.Set(float64(len(c.records)))
	}
	c.mu.Unlock()
	if !ok {
		return FileRecord{}, ErrNotFound
	}

	if rec.LocalPath != "" {
		if err := c.fs.Remove(rec.LocalPath); err != nil {
			c.logger.Warn("remove local file failed",
				slog.String("file_id", id),
				slog.String("path", rec.LocalPath),
				slog.Any("error", err),
			)
		}
	}
	return rec, nil
}

// LocalAvailable reports whether the record's local copy exists.
func (c *Cache) LocalAvailable(rec FileRecord) bool {
	if strings.TrimSpace(rec.LocalPath) == "" {
		return false
	}
	ok, err := afero.Exists(c.fs, rec.LocalPath)
	return err == nil && ok
}

// Open opens the record's local copy.
func (c *Cache) Open(rec FileRecord) (io.ReadCloser, error) {
	if !c.LocalAvailable(rec) {
		return nil, ErrSourceUnavailable
	}
	f, err := c.fs.Open(rec.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open local copy: %w", err)
	}
	return f, nil
}

// View projects rec for API responses.
func (c *Cache) View(rec FileRecord) View {
	return View{
		ID:                  rec.ID,
		FileName:            rec.FileName,
		FileSize:            rec.FileSize,
		ContentType:         rec.ContentType,
		UploadedBy:          rec.UploadedBy,
		CreatedAt:           rec.CreatedAt,
		Available:           c.LocalAvailable(rec),
		ArweaveID:           rec.ArweaveID,
		ArweaveURL:          rec.ArweaveURL,
		ArweaveUploadStatus: rec.ArweaveUploadStatus,
		ArweaveUploadError:  rec.ArweaveUploadError,
	}
}

// Views projects a slice of records.
func (c *Cache) Views(recs []FileRecord) []View {
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.View(rec))
	}
	return out
}

func sortNewestFirst(recs []FileRecord) {
	slices.SortStableFunc(recs, func(a, b FileRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func matchesType(contentType, want string) bool {
	want = strings.ToLower(strings.TrimSpace(want))
	if want == "" {
		return true
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(want, "/") {
		base, _, _ := strings.Cut(ct, ";")
		return strings.TrimSpace(base) == want
	}
	return strings.HasPrefix(ct, want+"/")
}
