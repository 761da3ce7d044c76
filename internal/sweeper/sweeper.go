// Package sweeper periodically removes partial downloads left behind in the
// upload directory by interrupted Telegram file transfers.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
)

var removedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "aobridge_sweeper_removed_total",
	Help: "Stale partial downloads removed from the upload directory.",
})

type Config struct {
	Dir      string
	Schedule string
	MaxAge   time.Duration
	// Suffix marks partial files. Defaults to ".part".
	Suffix string
}

type Sweeper struct {
	fs     afero.Fs
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(log *slog.Logger, fsys afero.Fs, cfg Config) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("sweeper: upload dir is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	if cfg.Suffix == "" {
		cfg.Suffix = ".part"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{
		fs:     fsys,
		cfg:    cfg,
		logger: log.With(slog.String("service", "sweeper")),
		now:    time.Now,
	}, nil
}

// Start registers the sweep job and starts the scheduler. Calling Start twice
// is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, s.run); err != nil {
		return fmt.Errorf("sweeper: schedule job: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweeper started", slog.String("schedule", s.cfg.Schedule), slog.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Stop stops the scheduler and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	if _, err := s.Sweep(s.now()); err != nil {
		s.logger.Warn("sweep failed", slog.Any("error", err))
	}
}

// Sweep removes partial files whose modification time is older than MaxAge
// relative to now. It returns the number of files removed.
func (s *Sweeper) Sweep(now time.Time) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.cfg.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", s.cfg.Dir, err)
	}

	var (
		removed int
		freed   int64
		errs    []error
	)
	cutoff := now.Add(-s.cfg.MaxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), s.cfg.Suffix) {
			continue
		}
		if !entry.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		if err := s.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
		freed += entry.Size()
		s.logger.Debug("removed stale partial download",
			slog.String("path", path),
			slog.String("age", humanize.RelTime(entry.ModTime(), now, "old", "")),
		)
	}
	if removed > 0 {
		removedTotal.Add(float64(removed))
		s.logger.Info("swept partial downloads",
			slog.Int("count", removed),
			slog.String("freed", humanize.IBytes(uint64(freed))),
		)
	}
	return removed, errors.Join(errs...)
}
