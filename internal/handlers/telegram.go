package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/files"
	"github.com/memohai/aobridge/internal/pending"
	"github.com/memohai/aobridge/internal/telegram"
)

type TelegramHandler struct {
	bot    *telegram.Service
	cache  *files.Cache
	logger *slog.Logger
}

type BotStatusResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Status  telegram.Status `json:"status"`
}

type PendingListResponse struct {
	Success  bool              `json:"success"`
	Count    int               `json:"count"`
	Messages []pending.Summary `json:"messages"`
}

type ProcessPendingResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	File    *files.View `json:"file,omitempty"`
}

type FileListResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Files   []files.View `json:"files"`
}

type FileResponse struct {
	Success bool       `json:"success"`
	File    files.View `json:"file"`
}

type DeleteFileResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

func NewTelegramHandler(log *slog.Logger, bot *telegram.Service, cache *files.Cache) *TelegramHandler {
	return &TelegramHandler{
		bot:    bot,
		cache:  cache,
		logger: log.With(slog.String("handler", "telegram")),
	}
}

func (h *TelegramHandler) Register(e *echo.Echo) {
	group := e.Group("/api/telegram")
	group.POST("/initialize", h.Initialize)
	group.POST("/start", h.Start)
	group.POST("/stop", h.Stop)
	group.GET("/status", h.Status)
	group.GET("/messages/pending", h.ListPending)
	group.POST("/messages/:messageId/process", h.ProcessPending)
	group.GET("/files", h.ListFiles)
	group.GET("/files/recent", h.RecentFiles)
	group.GET("/files/:id", h.GetFile)
	group.GET("/files/:id/download", h.DownloadFile)
	group.DELETE("/files/:id", h.DeleteFile)
}

// Initialize godoc
// @Summary Initialize the Telegram bot
// @Tags telegram
// @Produce json
// @Success 200 {object} BotStatusResponse
// @Failure 500 {object} BotStatusResponse
// @Router /api/telegram/initialize [post]
func (h *TelegramHandler) Initialize(c echo.Context) error {
	if !h.bot.Initialize(c.Request().Context()) {
		st := h.bot.Status()
		return c.JSON(http.StatusInternalServerError, BotStatusResponse{
			Error:  "Failed to initialize Telegram bot: " + st.LastError,
			Status: st,
		})
	}
	return c.JSON(http.StatusOK, BotStatusResponse{
		Success: true,
		Message: "Telegram bot initialized successfully",
		Status:  h.bot.Status(),
	})
}

// Start godoc
// @Summary Start receiving Telegram messages
// @Tags telegram
// @Produce json
// @Success 200 {object} BotStatusResponse
// @Failure 500 {object} BotStatusResponse
// @Router /api/telegram/start [post]
func (h *TelegramHandler) Start(c echo.Context) error {
	if err := h.bot.Start(c.Request().Context()); err != nil {
		h.logger.Error("start bot failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, BotStatusResponse{
			Error:  "Failed to start Telegram bot: " + err.Error(),
			Status: h.bot.Status(),
		})
	}
	return c.JSON(http.StatusOK, BotStatusResponse{
		Success: true,
		Message: "Telegram bot started",
		Status:  h.bot.Status(),
	})
}

// Stop godoc
// @Summary Stop receiving Telegram messages
// @Description New messages are queued until the bot is started again.
// @Tags telegram
// @Produce json
// @Success 200 {object} BotStatusResponse
// @Failure 500 {object} BotStatusResponse
// @Router /api/telegram/stop [post]
func (h *TelegramHandler) Stop(c echo.Context) error {
	if err := h.bot.Stop(c.Request().Context()); err != nil {
		h.logger.Error("stop bot failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, BotStatusResponse{
			Error:  "Failed to stop Telegram bot: " + err.Error(),
			Status: h.bot.Status(),
		})
	}
	return c.JSON(http.StatusOK, BotStatusResponse{
		Success: true,
		Message: "Telegram bot stopped",
		Status:  h.bot.Status(),
	})
}

// Status godoc
// @Summary Bot state
// @Tags telegram
// @Produce json
// @Success 200 {object} telegram.Status
// @Router /api/telegram/status [get]
func (h *TelegramHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.bot.Status())
}

// ListPending godoc
// @Summary Messages received while the bot was inactive
// @Tags telegram
// @Produce json
// @Success 200 {object} PendingListResponse
// @Router /api/telegram/messages/pending [get]
func (h *TelegramHandler) ListPending(c echo.Context) error {
	msgs := h.bot.ListPending()
	return c.JSON(http.StatusOK, PendingListResponse{Success: true, Count: len(msgs), Messages: msgs})
}

// ProcessPending godoc
// @Summary Process one queued message
// @Description The message leaves the queue even when processing fails.
// @Tags telegram
// @Produce json
// @Param messageId path string true "Pending message ID"
// @Success 200 {object} ProcessPendingResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /api/telegram/messages/{messageId}/process [post]
func (h *TelegramHandler) ProcessPending(c echo.Context) error {
	id := strings.TrimSpace(c.Param("messageId"))
	rec, err := h.bot.ProcessPending(c.Request().Context(), id)
	switch {
	case errors.Is(err, pending.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Pending message not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to process pending message: "+err.Error())
	}
	resp := ProcessPendingResponse{Success: true, Message: "Pending message processed"}
	if rec != nil {
		view := h.cache.View(*rec)
		resp.File = &view
	}
	return c.JSON(http.StatusOK, resp)
}

// ListFiles godoc
// @Summary List received files, newest first
// @Tags telegram
// @Produce json
// @Success 200 {object} FileListResponse
// @Router /api/telegram/files [get]
func (h *TelegramHandler) ListFiles(c echo.Context) error {
	views := h.cache.Views(h.cache.List())
	return c.JSON(http.StatusOK, FileListResponse{Success: true, Count: len(views), Files: views})
}

// RecentFiles godoc
// @Summary Filtered view of received files
// @Tags telegram
// @Produce json
// @Param since query string false "RFC3339 time or unix seconds"
// @Param type query string false "MIME major type (image) or full type (image/png)"
// @Param limit query int false "Max results (default 20, max 100)"
// @Success 200 {object} FileListResponse
// @Failure 400 {object} server.ErrorResponse
// @Router /api/telegram/files/recent [get]
func (h *TelegramHandler) RecentFiles(c echo.Context) error {
	var filter files.Filter
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be an RFC3339 time or unix seconds")
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	filter.Type = strings.TrimSpace(c.QueryParam("type"))

	views := h.cache.Views(h.cache.Recent(filter))
	return c.JSON(http.StatusOK, FileListResponse{Success: true, Count: len(views), Files: views})
}

// GetFile godoc
// @Summary Get file metadata
// @Tags telegram
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} FileResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/telegram/files/{id} [get]
func (h *TelegramHandler) GetFile(c echo.Context) error {
	rec, err := h.cache.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	return c.JSON(http.StatusOK, FileResponse{Success: true, File: h.cache.View(rec)})
}

// DownloadFile godoc
// @Summary Download file content
// @Description Streams the local copy, else redirects to the permanent copy.
// @Tags telegram
// @Produce octet-stream
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Success 302
// @Failure 404 {object} server.ErrorResponse
// @Router /api/telegram/files/{id}/download [get]
func (h *TelegramHandler) DownloadFile(c echo.Context) error {
	rec, err := h.cache.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	if h.cache.LocalAvailable(rec) {
		rc, err := h.cache.Open(rec)
		if err == nil {
			defer func() {
				_ = rc.Close()
			}()
			contentType := rec.ContentType
			if contentType == "" {
				contentType = echo.MIMEOctetStream
			}
			c.Response().Header().Set(echo.HeaderContentDisposition,
				mime.FormatMediaType("attachment", map[string]string{"filename": rec.FileName}))
			return c.Stream(http.StatusOK, contentType, rc)
		}
		h.logger.Warn("open local file failed", slog.String("file_id", rec.ID), slog.Any("error", err))
	}
	if rec.ArweaveURL != "" {
		return c.Redirect(http.StatusFound, rec.ArweaveURL)
	}
	return echo.NewHTTPError(http.StatusNotFound, "File content not available on disk")
}

// DeleteFile godoc
// @Summary Delete a file
// @Description Removes the record and the local copy. A permanent copy is never deleted.
// @Tags telegram
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} DeleteFileResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/telegram/files/{id} [delete]
func (h *TelegramHandler) DeleteFile(c echo.Context) error {
	rec, err := h.cache.Delete(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	resp := DeleteFileResponse{Success: true, Message: "File deleted successfully"}
	if rec.ArweaveURL != "" {
		resp.Warning = "File was removed locally but remains in permanent storage at " + rec.ArweaveURL
	}
	return c.JSON(http.StatusOK, resp)
}

func parseSince(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
