package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/aobridge/internal/ardrive"
	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
	"github.com/memohai/aobridge/internal/telegram"
)

var reportBytes = append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), 2048-9)...)

type stubBot struct {
	fileBase string

	mu      sync.Mutex
	updates chan tgbotapi.Update
	closed  bool
}

func (b *stubBot) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{ID: 42, UserName: "intake_bot", IsBot: true}, nil
}

func (b *stubBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = make(chan tgbotapi.Update, 4)
	b.closed = false
	return b.updates
}

func (b *stubBot) StopReceivingUpdates() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updates != nil && !b.closed {
		close(b.updates)
		b.closed = true
	}
}

func (b *stubBot) GetFileDirectURL(fileID string) (string, error) {
	return b.fileBase + "/file/" + fileID, nil
}

func (b *stubBot) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	return tgbotapi.Message{}, nil
}

type fakeBackend struct {
	mu          sync.Mutex
	balance     int64
	cost        int64
	uploadErr   error
	checkoutURL string
	uploads     int
}

func (f *fakeBackend) Address(context.Context) (string, error) { return "0xowner", nil }

func (f *fakeBackend) GetBalance(context.Context) (int64, error) { return f.balance, nil }

func (f *fakeBackend) GetUploadCost(context.Context, int64) (int64, error) { return f.cost, nil }

func (f *fakeBackend) UploadFile(context.Context, ardrive.UploadRequest) (ardrive.UploadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploadErr != nil {
		return ardrive.UploadReceipt{}, f.uploadErr
	}
	return ardrive.UploadReceipt{ID: "tx-123", Owner: "0xowner"}, nil
}

func (f *fakeBackend) CreateCheckoutSession(context.Context, ardrive.CheckoutRequest) (string, error) {
	if f.checkoutURL == "" {
		return "", errors.New("no checkout")
	}
	return f.checkoutURL, nil
}

type telegramFixture struct {
	e     *echo.Echo
	svc   *telegram.Service
	cache *files.Cache
}

func newTelegramFixture(t *testing.T, backend *fakeBackend) *telegramFixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/file/") != "doc-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(reportBytes)
	}))
	t.Cleanup(srv.Close)

	log := discardLogger()
	bot := &stubBot{fileBase: srv.URL}
	cache := files.NewCache(log, afero.NewMemMapFs())
	intake := telegram.NewIntake(log, cache, telegram.IntakeConfig{UploadDir: "/uploads", Timeout: 5 * time.Second})
	svc := telegram.NewService(log, telegram.Config{Token: "123:abc"}, pending.NewQueue(log), cache, intake,
		func(string) (telegram.BotAPI, error) { return bot, nil })
	t.Cleanup(func() {
		_ = svc.Shutdown(context.Background())
	})
	coord := ardrive.NewCoordinator(log, cache, backend, ardrive.CoordinatorConfig{AppName: "AO-Process-Builder"})
	e := newTestEcho(NewTelegramHandler(log, svc, cache), NewArDriveHandler(log, coord, cache))
	return &telegramFixture{e: e, svc: svc, cache: cache}
}

func reportMessage() *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: 99},
		Document: &tgbotapi.Document{
			FileID:   "doc-1",
			FileName: "report.pdf",
			MimeType: "application/pdf",
			FileSize: 2048,
		},
	}
}

func (f *telegramFixture) insert(t *testing.T, rec files.FileRecord, content []byte) {
	t.Helper()
	if content != nil {
		require.NoError(t, afero.WriteFile(f.cache.Fs(), rec.LocalPath, content, 0o644))
	}
	require.NoError(t, f.cache.Insert(rec))
}

func TestReportIntakeAndUpload(t *testing.T) {
	backend := &fakeBackend{balance: 1000, cost: 100}
	f := newTelegramFixture(t, backend)

	rec := do(t, f.e, http.MethodPost, "/api/telegram/start", nil)
	requireStatus(t, rec, http.StatusOK)
	started := decode[BotStatusResponse](t, rec)
	assert.True(t, started.Success)
	assert.True(t, started.Status.Active)
	require.NotNil(t, started.Status.BotInfo)
	assert.Equal(t, "intake_bot", started.Status.BotInfo.Username)

	f.svc.Dispatch(context.Background(), reportMessage())

	list := decode[FileListResponse](t, do(t, f.e, http.MethodGet, "/api/telegram/files", nil))
	require.Equal(t, 1, list.Count)
	id := list.Files[0].ID

	rec = do(t, f.e, http.MethodGet, "/api/telegram/files/"+id, nil)
	requireStatus(t, rec, http.StatusOK)
	got := decode[FileResponse](t, rec).File
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, int64(2048), got.FileSize)
	assert.Equal(t, "alice", got.UploadedBy)
	assert.Equal(t, files.StatusPending, got.ArweaveUploadStatus)
	assert.True(t, got.Available)

	rec = do(t, f.e, http.MethodGet, "/api/telegram/ardrive/files/"+id+"/cost", nil)
	requireStatus(t, rec, http.StatusOK)
	cost := decode[CostResponse](t, rec)
	assert.Equal(t, int64(100), cost.Winc)
	assert.True(t, cost.Sufficient)
	assert.Equal(t, "2.0 KiB", cost.FormattedSize)

	rec = do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/"+id+"/upload", nil)
	requireStatus(t, rec, http.StatusOK)
	res := decode[ardrive.Result](t, rec)
	assert.True(t, res.Success)
	assert.Equal(t, "tx-123", res.ArweaveID)
	assert.Equal(t, "https://arweave.net/tx-123", res.ArweaveURL)

	got = decode[FileResponse](t, do(t, f.e, http.MethodGet, "/api/telegram/files/"+id, nil)).File
	assert.Equal(t, files.StatusSuccess, got.ArweaveUploadStatus)
	assert.Equal(t, "https://arweave.net/tx-123", got.ArweaveURL)

	// a second upload is served from the record
	rec = do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/"+id+"/upload", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.True(t, decode[ardrive.Result](t, rec).AlreadyUploaded)
	assert.Equal(t, 1, backend.uploads)

	rec = do(t, f.e, http.MethodGet, "/api/telegram/files/"+id+"/download", nil)
	requireStatus(t, rec, http.StatusOK)
	assert.Equal(t, reportBytes, rec.Body.Bytes())
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "attachment; filename=report.pdf", rec.Header().Get(echo.HeaderContentDisposition))

	rec = do(t, f.e, http.MethodDelete, "/api/telegram/files/"+id, nil)
	requireStatus(t, rec, http.StatusOK)
	deleted := decode[DeleteFileResponse](t, rec)
	assert.Equal(t, "File deleted successfully", deleted.Message)
	assert.Contains(t, deleted.Warning, "https://arweave.net/tx-123")

	rec = do(t, f.e, http.MethodDelete, "/api/telegram/files/"+id, nil)
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "File not found", errorBody(t, rec))
}

func TestUploadInsufficientBalance(t *testing.T) {
	backend := &fakeBackend{balance: 10, cost: 100, checkoutURL: "https://checkout.example/session"}
	f := newTelegramFixture(t, backend)
	f.insert(t, files.FileRecord{
		ID:                  "f1",
		FileName:            "big.bin",
		FileSize:            4096,
		LocalPath:           "/uploads/f1-big.bin",
		CreatedAt:           time.Now(),
		ArweaveUploadStatus: files.StatusPending,
	}, make([]byte, 4096))

	rec := do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/f1/upload", nil)
	requireStatus(t, rec, http.StatusPaymentRequired)
	body := decode[InsufficientBalanceResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "Insufficient balance", body.Error)
	assert.Equal(t, "https://checkout.example/session", body.CheckoutURL)
	assert.Equal(t, int64(10), body.Balance)
	assert.Equal(t, int64(100), body.Cost)
	assert.Zero(t, backend.uploads)

	stored, err := f.cache.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, files.StatusPending, stored.ArweaveUploadStatus)
}

func TestUploadErrors(t *testing.T) {
	backend := &fakeBackend{balance: 1000, cost: 1, uploadErr: errors.New("bundler unavailable")}
	f := newTelegramFixture(t, backend)
	f.insert(t, files.FileRecord{ID: "gone", FileName: "gone.txt", LocalPath: "/uploads/gone.txt", CreatedAt: time.Now()}, nil)
	f.insert(t, files.FileRecord{ID: "f2", FileName: "a.txt", FileSize: 3, LocalPath: "/uploads/f2-a.txt", CreatedAt: time.Now()}, []byte("abc"))

	rec := do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/missing/upload", nil)
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "File not found", errorBody(t, rec))

	rec = do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/gone/upload", nil)
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "File content not available on disk", errorBody(t, rec))

	rec = do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/f2/upload",
		map[string]any{"tags": []map[string]string{{"value": "no name"}}})
	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, "name is required", errorBody(t, rec))

	rec = do(t, f.e, http.MethodPost, "/api/telegram/ardrive/files/f2/upload", nil)
	requireStatus(t, rec, http.StatusInternalServerError)
	failure := decode[UploadFailureResponse](t, rec)
	assert.Equal(t, "Failed to upload file to permanent storage", failure.Error)
	assert.Equal(t, "bundler unavailable", failure.Message)

	stored, err := f.cache.Get("f2")
	require.NoError(t, err)
	assert.Equal(t, files.StatusFailed, stored.ArweaveUploadStatus)
}

func TestBalance(t *testing.T) {
	f := newTelegramFixture(t, &fakeBackend{balance: 2_500_000_000_000})

	rec := do(t, f.e, http.MethodGet, "/api/telegram/ardrive/balance", nil)
	requireStatus(t, rec, http.StatusOK)
	body := decode[BalanceResponse](t, rec)
	assert.True(t, body.Success)
	assert.Equal(t, int64(2_500_000_000_000), body.Balance.Balance)
	assert.Equal(t, "2.500000 AR", body.FormattedBalance)
	assert.Equal(t, "0xowner", body.Address)
}

func TestPendingMessages(t *testing.T) {
	f := newTelegramFixture(t, &fakeBackend{})

	requireStatus(t, do(t, f.e, http.MethodPost, "/api/telegram/initialize", nil), http.StatusOK)
	f.svc.Dispatch(context.Background(), reportMessage())

	// Payload is an interface in the response type, so read it back raw.
	type pendingList struct {
		Count    int `json:"count"`
		Messages []struct {
			ID      string          `json:"id"`
			Type    pending.Kind    `json:"type"`
			From    string          `json:"from"`
			Payload json.RawMessage `json:"payload"`
		} `json:"messages"`
	}
	list := decode[pendingList](t, do(t, f.e, http.MethodGet, "/api/telegram/messages/pending", nil))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, pending.KindDocument, list.Messages[0].Type)
	assert.Equal(t, "alice", list.Messages[0].From)
	var doc pending.Document
	require.NoError(t, json.Unmarshal(list.Messages[0].Payload, &doc))
	assert.Equal(t, "doc-1", doc.FileID)
	assert.Equal(t, "report.pdf", doc.FileName)
	id := list.Messages[0].ID

	rec := do(t, f.e, http.MethodPost, "/api/telegram/messages/"+id+"/process", nil)
	requireStatus(t, rec, http.StatusOK)
	processed := decode[ProcessPendingResponse](t, rec)
	require.NotNil(t, processed.File)
	assert.Equal(t, "report.pdf", processed.File.FileName)

	rec = do(t, f.e, http.MethodPost, "/api/telegram/messages/"+id+"/process", nil)
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "Pending message not found", errorBody(t, rec))

	status := decode[telegram.Status](t, do(t, f.e, http.MethodGet, "/api/telegram/status", nil))
	assert.True(t, status.Initialized)
	assert.False(t, status.Active)
	assert.Zero(t, status.PendingCount)
}

func TestStartStop(t *testing.T) {
	f := newTelegramFixture(t, &fakeBackend{})

	requireStatus(t, do(t, f.e, http.MethodPost, "/api/telegram/start", nil), http.StatusOK)
	rec := do(t, f.e, http.MethodPost, "/api/telegram/stop", nil)
	requireStatus(t, rec, http.StatusOK)
	stopped := decode[BotStatusResponse](t, rec)
	assert.Equal(t, "Telegram bot stopped", stopped.Message)
	assert.False(t, stopped.Status.Active)
	assert.Equal(t, telegram.StateInactive, stopped.Status.State)
}

func TestRecentFiles(t *testing.T) {
	f := newTelegramFixture(t, &fakeBackend{})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.insert(t, files.FileRecord{ID: "img-old", FileName: "a.png", ContentType: "image/png", CreatedAt: base}, nil)
	f.insert(t, files.FileRecord{ID: "img-new", FileName: "b.jpg", ContentType: "image/jpeg", CreatedAt: base.Add(time.Hour)}, nil)
	f.insert(t, files.FileRecord{ID: "doc", FileName: "c.pdf", ContentType: "application/pdf", CreatedAt: base.Add(2 * time.Hour)}, nil)

	rec := do(t, f.e, http.MethodGet, "/api/telegram/files/recent?type=image&limit=1", nil)
	requireStatus(t, rec, http.StatusOK)
	body := decode[FileListResponse](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "img-new", body.Files[0].ID)

	since := base.Add(30 * time.Minute).Format(time.RFC3339)
	body = decode[FileListResponse](t, do(t, f.e, http.MethodGet, "/api/telegram/files/recent?since="+since, nil))
	assert.Equal(t, 2, body.Count)

	rec = do(t, f.e, http.MethodGet, "/api/telegram/files/recent?limit=-1", nil)
	requireStatus(t, rec, http.StatusBadRequest)
	rec = do(t, f.e, http.MethodGet, "/api/telegram/files/recent?since=yesterday", nil)
	requireStatus(t, rec, http.StatusBadRequest)
}

func TestDownloadFallbacks(t *testing.T) {
	f := newTelegramFixture(t, &fakeBackend{})
	f.insert(t, files.FileRecord{
		ID:                  "remote",
		FileName:            "r.txt",
		LocalPath:           "/uploads/remote-r.txt",
		CreatedAt:           time.Now(),
		ArweaveID:           "tx-9",
		ArweaveURL:          "https://arweave.net/tx-9",
		ArweaveUploadStatus: files.StatusSuccess,
	}, nil)
	f.insert(t, files.FileRecord{ID: "lost", FileName: "l.txt", LocalPath: "/uploads/lost-l.txt", CreatedAt: time.Now()}, nil)

	rec := do(t, f.e, http.MethodGet, "/api/telegram/files/remote/download", nil)
	requireStatus(t, rec, http.StatusFound)
	assert.Equal(t, "https://arweave.net/tx-9", rec.Header().Get(echo.HeaderLocation))

	rec = do(t, f.e, http.MethodGet, "/api/telegram/files/lost/download", nil)
	requireStatus(t, rec, http.StatusNotFound)
	assert.Equal(t, "File content not available on disk", errorBody(t, rec))
}

func TestParseSince(t *testing.T) {
	t.Parallel()
	got, err := parseSince("1714564800")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-05-01T12:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	_, err = parseSince("nope")
	require.Error(t, err)
}
