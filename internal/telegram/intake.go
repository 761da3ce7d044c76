package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/afero"

	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
)

// PartialSuffix marks a download in progress. Files carrying it are never
// registered and are removed on failure or by the sweeper.
const PartialSuffix = ".part"

var (
	// ErrNoAttachment indicates the payload carries no file to download.
	ErrNoAttachment = errors.New("message has no attachment")
	// ErrDownload indicates Telegram could not serve the file.
	ErrDownload = errors.New("telegram download failed")
)

var intakeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aobridge_telegram_intake_total",
	Help: "Telegram attachment intake attempts by kind and outcome.",
}, []string{"kind", "outcome"})

// FileResolver resolves a Telegram file id to a direct download URL.
type FileResolver interface {
	GetFileDirectURL(fileID string) (string, error)
}

type IntakeConfig struct {
	UploadDir string
	Timeout   time.Duration
}

// Intake downloads attachments into the upload directory and registers them
// in the file cache. Either a complete record is registered or nothing is.
type Intake struct {
	cache  *files.Cache
	fs     afero.Fs
	dir    string
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewIntake(log *slog.Logger, cache *files.Cache, cfg IntakeConfig) *Intake {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.UploadDir) == "" {
		cfg.UploadDir = "uploads"
	}
	return &Intake{
		cache:  cache,
		fs:     cache.Fs(),
		dir:    cfg.UploadDir,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.With(slog.String("service", "intake")),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type attachment struct {
	fileID   string
	name     string
	mime     string
	size     int64
	uploader string
}

func attachmentOf(p pending.Payload) (attachment, error) {
	switch v := p.(type) {
	case pending.Document:
		name := strings.TrimSpace(v.FileName)
		if name == "" {
			name = "document"
		}
		return attachment{fileID: v.FileID, name: name, mime: v.MimeType, size: v.FileSize, uploader: v.From.Uploader()}, nil
	case pending.Photo:
		name := strings.TrimSpace(v.Caption)
		if name == "" {
			name = "photo"
		}
		return attachment{fileID: v.FileID, name: name + ".jpg", mime: "image/jpeg", size: v.FileSize, uploader: v.From.Uploader()}, nil
	default:
		return attachment{}, ErrNoAttachment
	}
}

// Ingest downloads the payload's attachment and registers a pending record.
func (in *Intake) Ingest(ctx context.Context, resolver FileResolver, p pending.Payload) (files.FileRecord, error) {
	kind := string(p.Kind())
	rec, err := in.ingest(ctx, resolver, p)
	if err != nil {
		intakeTotal.WithLabelValues(kind, "failed").Inc()
		return files.FileRecord{}, err
	}
	intakeTotal.WithLabelValues(kind, "stored").Inc()
	return rec, nil
}

func (in *Intake) ingest(ctx context.Context, resolver FileResolver, p pending.Payload) (files.FileRecord, error) {
	att, err := attachmentOf(p)
	if err != nil {
		return files.FileRecord{}, err
	}
	if strings.TrimSpace(att.fileID) == "" {
		return files.FileRecord{}, fmt.Errorf("%w: empty file id", ErrDownload)
	}
	if resolver == nil {
		return files.FileRecord{}, fmt.Errorf("%w: bot is not initialized", ErrDownload)
	}
	fileURL, err := resolver.GetFileDirectURL(att.fileID)
	if err != nil {
		return files.FileRecord{}, fmt.Errorf("%w: resolve file url: %v", ErrDownload, err)
	}

	id := in.newID()
	name := sanitizeFileName(att.name)
	finalPath := filepath.Join(in.dir, id+"-"+name)
	partPath := finalPath + PartialSuffix

	written, err := in.download(ctx, fileURL, partPath)
	if err != nil {
		in.discard(partPath)
		return files.FileRecord{}, err
	}

	contentType := strings.TrimSpace(att.mime)
	if contentType == "" {
		contentType = in.sniff(partPath)
	}
	if err := in.fs.Rename(partPath, finalPath); err != nil {
		in.discard(partPath)
		return files.FileRecord{}, fmt.Errorf("finalize download: %w", err)
	}

	size := att.size
	if size <= 0 {
		size = written
	}
	rec := files.FileRecord{
		ID:                  id,
		FileName:            name,
		FileSize:            size,
		ContentType:         contentType,
		UploadedBy:          att.uploader,
		TelegramFileID:      att.fileID,
		FileURL:             fileURL,
		LocalPath:           finalPath,
		CreatedAt:           in.now().UTC(),
		ArweaveUploadStatus: files.StatusPending,
	}
	if err := in.cache.Insert(rec); err != nil {
		in.discard(finalPath)
		return files.FileRecord{}, fmt.Errorf("register file: %w", err)
	}
	in.logger.Info("file stored",
		slog.String("file_id", id),
		slog.String("name", name),
		slog.Int64("size", size),
		slog.String("uploaded_by", att.uploader),
	)
	return rec, nil
}

func (in *Intake) download(ctx context.Context, fileURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrDownload, err)
	}
	resp, err := in.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrDownload, resp.StatusCode)
	}

	if err := in.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}
	f, err := in.fs.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return n, fmt.Errorf("%w: write file: %v", ErrDownload, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close file: %w", closeErr)
	}
	return n, nil
}

func (in *Intake) sniff(path string) string {
	f, err := in.fs.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer func() {
		_ = f.Close()
	}()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func (in *Intake) discard(path string) {
	if err := in.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(in.fs, path); exists {
			in.logger.Warn("remove partial file failed", slog.String("path", path), slog.Any("error", err))
		}
	}
}

// sanitizeFileName keeps the base name and replaces characters that are
// unsafe in paths.
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return -1
		case strings.ContainsRune(`<>:"|?*`, r):
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return "file"
	}
	return name
}
