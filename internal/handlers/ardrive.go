package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/ardrive"
	"github.com/memohai/aobridge/internal/files"
)

type ArDriveHandler struct {
	coordinator *ardrive.Coordinator
	cache       *files.Cache
	logger      *slog.Logger
}

type UploadRequest struct {
	Tags []ardrive.Tag `json:"tags" validate:"omitempty,dive"`
}

type BalanceResponse struct {
	Success bool `json:"success"`
	ardrive.Balance
}

type CostResponse struct {
	Success       bool   `json:"success"`
	FileID        string `json:"fileId"`
	FileSize      int64  `json:"fileSize"`
	FormattedSize string `json:"formattedSize"`
	ardrive.CostEstimate
}

type InsufficientBalanceResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	CheckoutURL string `json:"checkoutUrl"`
	Balance     int64  `json:"balance"`
	Cost        int64  `json:"cost"`
}

type UploadFailureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewArDriveHandler(log *slog.Logger, coordinator *ardrive.Coordinator, cache *files.Cache) *ArDriveHandler {
	return &ArDriveHandler{
		coordinator: coordinator,
		cache:       cache,
		logger:      log.With(slog.String("handler", "ardrive")),
	}
}

func (h *ArDriveHandler) Register(e *echo.Echo) {
	group := e.Group("/api/telegram/ardrive")
	group.GET("/balance", h.Balance)
	group.GET("/files/:fileId/cost", h.Cost)
	group.POST("/files/:fileId/upload", h.Upload)
}

// Balance godoc
// @Summary Wallet credit balance
// @Tags ardrive
// @Produce json
// @Success 200 {object} BalanceResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /api/telegram/ardrive/balance [get]
func (h *ArDriveHandler) Balance(c echo.Context) error {
	bal, err := h.coordinator.Balance(c.Request().Context())
	if err != nil {
		h.logger.Error("balance query failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get balance: "+err.Error())
	}
	return c.JSON(http.StatusOK, BalanceResponse{Success: true, Balance: bal})
}

// Cost godoc
// @Summary Estimate the upload cost of a file
// @Tags ardrive
// @Produce json
// @Param fileId path string true "File ID"
// @Success 200 {object} CostResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /api/telegram/ardrive/files/{fileId}/cost [get]
func (h *ArDriveHandler) Cost(c echo.Context) error {
	id := c.Param("fileId")
	rec, err := h.cache.Get(id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}
	est, err := h.coordinator.Cost(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "File not found")
		}
		h.logger.Error("cost query failed", slog.String("file_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get upload cost: "+err.Error())
	}
	return c.JSON(http.StatusOK, CostResponse{
		Success:       true,
		FileID:        id,
		FileSize:      rec.FileSize,
		FormattedSize: humanize.IBytes(uint64(max(rec.FileSize, 0))),
		CostEstimate:  est,
	})
}

// Upload godoc
// @Summary Upload a file to permanent storage
// @Description Returns 402 with a checkout URL when the balance cannot cover the cost.
// @Tags ardrive
// @Accept json
// @Produce json
// @Param fileId path string true "File ID"
// @Param request body UploadRequest false "Extra data item tags"
// @Success 200 {object} ardrive.Result
// @Failure 402 {object} InsufficientBalanceResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} UploadFailureResponse
// @Router /api/telegram/ardrive/files/{fileId}/upload [post]
func (h *ArDriveHandler) Upload(c echo.Context) error {
	var req UploadRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
	}

	id := c.Param("fileId")
	res, err := h.coordinator.Upload(c.Request().Context(), id, req.Tags)
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}

	var insufficient *ardrive.InsufficientBalanceError
	switch {
	case errors.Is(err, files.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case errors.Is(err, files.ErrSourceUnavailable):
		return echo.NewHTTPError(http.StatusNotFound, "File content not available on disk")
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusPaymentRequired, InsufficientBalanceResponse{
			Error:       "Insufficient balance",
			CheckoutURL: insufficient.CheckoutURL,
			Balance:     insufficient.Balance,
			Cost:        insufficient.Cost,
		})
	}
	return c.JSON(http.StatusInternalServerError, UploadFailureResponse{
		Error:   "Failed to upload file to permanent storage",
		Message: err.Error(),
	})
}
