package ardrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/memohai/aobridge/internal/files"
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aobridge_ardrive_uploads_total",
	Help: "Permanent-storage upload attempts by outcome.",
}, []string{"outcome"})

type CoordinatorConfig struct {
	AppName    string
	GatewayURL string
	// Timeout bounds each balance, price and checkout call.
	Timeout time.Duration
}

// Coordinator moves a cached file to permanent storage and tracks the
// record's upload status. Calls for the same file id are serialized.
type Coordinator struct {
	cache   *files.Cache
	backend Backend
	cfg     CoordinatorConfig
	logger  *slog.Logger
}

func NewCoordinator(log *slog.Logger, cache *files.Cache, backend Backend, cfg CoordinatorConfig) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = "https://arweave.net"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.GatewayURL = strings.TrimRight(cfg.GatewayURL, "/")
	return &Coordinator{
		cache:   cache,
		backend: backend,
		cfg:     cfg,
		logger:  log.With(slog.String("service", "ardrive")),
	}
}

// Upload moves the file to permanent storage. It returns the existing result
// without touching the backend when the file was already uploaded. When the
// wallet cannot pay it returns *InsufficientBalanceError and leaves the record
// pending so the caller can retry after topping up.
func (c *Coordinator) Upload(ctx context.Context, fileID string, custom []Tag) (Result, error) {
	unlock := c.cache.LockID(fileID)
	defer unlock()

	rec, err := c.cache.Get(fileID)
	if err != nil {
		return Result{}, err
	}
	if rec.Uploaded() {
		uploadsTotal.WithLabelValues("cached").Inc()
		return Result{
			Success:         true,
			FileID:          rec.ID,
			ArweaveID:       rec.ArweaveID,
			ArweaveURL:      rec.ArweaveURL,
			TxID:            rec.ArweaveID,
			AlreadyUploaded: true,
		}, nil
	}
	if !c.cache.LocalAvailable(rec) {
		return Result{}, files.ErrSourceUnavailable
	}
	if _, err := c.setStatus(fileID, files.StatusPending, ""); err != nil {
		return Result{}, err
	}

	balance, cost, err := c.quote(ctx, rec.FileSize)
	if err != nil {
		c.fail(fileID, err)
		return Result{}, err
	}
	if balance < cost {
		uploadsTotal.WithLabelValues("insufficient_balance").Inc()
		return Result{}, c.insufficient(ctx, balance, cost)
	}

	receipt, err := c.backend.UploadFile(ctx, UploadRequest{
		Path: rec.LocalPath,
		Size: rec.FileSize,
		Tags: c.tags(rec, custom),
	})
	if err != nil {
		c.fail(fileID, err)
		return Result{}, err
	}

	arweaveURL := c.cfg.GatewayURL + "/" + receipt.ID
	status := files.StatusSuccess
	if _, err := c.cache.Update(fileID, files.Patch{
		Status:     &status,
		ArweaveID:  &receipt.ID,
		ArweaveURL: &arweaveURL,
	}); err != nil {
		// evicted while uploading; the upload itself succeeded
		c.logger.Warn("record update after upload failed", slog.String("file_id", fileID), slog.Any("error", err))
	}
	uploadsTotal.WithLabelValues("success").Inc()
	c.logger.Info("file uploaded",
		slog.String("file_id", fileID),
		slog.String("arweave_id", receipt.ID),
		slog.String("owner", receipt.Owner),
	)
	return Result{
		Success:             true,
		FileID:              fileID,
		ArweaveID:           receipt.ID,
		ArweaveURL:          arweaveURL,
		TxID:                receipt.ID,
		Owner:               receipt.Owner,
		DataCaches:          receipt.DataCaches,
		FastFinalityIndexes: receipt.FastFinalityIndexes,
	}, nil
}

// Balance returns the wallet balance.
func (c *Coordinator) Balance(ctx context.Context) (Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	winc, err := c.backend.GetBalance(ctx)
	if err != nil {
		return Balance{}, err
	}
	addr, _ := c.backend.Address(ctx)
	return Balance{
		Address:          addr,
		Balance:          winc,
		FormattedBalance: FormatAR(winc) + " AR",
	}, nil
}

// Cost estimates the upload cost of a cached file against the current balance.
func (c *Coordinator) Cost(ctx context.Context, fileID string) (CostEstimate, error) {
	rec, err := c.cache.Get(fileID)
	if err != nil {
		return CostEstimate{}, err
	}
	balance, cost, err := c.quote(ctx, rec.FileSize)
	if err != nil {
		return CostEstimate{}, err
	}
	return CostEstimate{
		Winc:       cost,
		AR:         FormatAR(cost),
		Sufficient: balance >= cost,
	}, nil
}

func (c *Coordinator) quote(ctx context.Context, size int64) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	balance, err := c.backend.GetBalance(ctx)
	if err != nil {
		return 0, 0, err
	}
	cost, err := c.backend.GetUploadCost(ctx, size)
	if err != nil {
		return 0, 0, err
	}
	return balance, cost, nil
}

func (c *Coordinator) insufficient(ctx context.Context, balance, cost int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	owner, err := c.backend.Address(ctx)
	if err != nil {
		return fmt.Errorf("insufficient balance, resolve owner: %w", err)
	}
	checkoutURL, err := c.backend.CreateCheckoutSession(ctx, CheckoutRequest{Owner: owner, Winc: cost - balance})
	if err != nil {
		return fmt.Errorf("insufficient balance: %w", err)
	}
	c.logger.Warn("insufficient balance for upload", slog.Int64("balance", balance), slog.Int64("cost", cost))
	return &InsufficientBalanceError{Balance: balance, Cost: cost, CheckoutURL: checkoutURL}
}

func (c *Coordinator) tags(rec files.FileRecord, custom []Tag) []Tag {
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	tags := []Tag{
		{Name: "Content-Type", Value: contentType},
		{Name: "File-Name", Value: rec.FileName},
		{Name: "Uploaded-By", Value: rec.UploadedBy},
		{Name: "App-Name", Value: c.cfg.AppName},
	}
	for _, t := range custom {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}

func (c *Coordinator) setStatus(fileID string, status files.UploadStatus, detail string) (files.FileRecord, error) {
	p := files.Patch{Status: &status}
	if status == files.StatusFailed {
		p.Error = &detail
	}
	return c.cache.Update(fileID, p)
}

func (c *Coordinator) fail(fileID string, cause error) {
	uploadsTotal.WithLabelValues("failed").Inc()
	detail := cause.Error()
	if detail == "" {
		detail = "upload failed"
	}
	if _, err := c.setStatus(fileID, files.StatusFailed, detail); err != nil && !errors.Is(err, files.ErrNotFound) {
		c.logger.Warn("record failure status failed", slog.String("file_id", fileID), slog.Any("error", err))
	}
	c.logger.Error("upload failed", slog.String("file_id", fileID), slog.Any("error", cause))
}
