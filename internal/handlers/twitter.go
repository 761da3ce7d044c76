package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/twitter"
)

type TwitterHandler struct {
	client *twitter.Client
	logger *slog.Logger
}

type MonitorRequest struct {
	Username   string `json:"username"`
	TweetCount int    `json:"tweetCount"`
}

type MonitorResponse struct {
	Success bool           `json:"success"`
	Data    twitter.Report `json:"data"`
}

type DetailedErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewTwitterHandler(log *slog.Logger, client *twitter.Client) *TwitterHandler {
	return &TwitterHandler{client: client, logger: log.With(slog.String("handler", "twitter"))}
}

func (h *TwitterHandler) Register(e *echo.Echo) {
	e.POST("/api/twitter/monitor", h.Monitor)
}

// Monitor godoc
// @Summary Profile and latest tweets of a user
// @Tags twitter
// @Accept json
// @Produce json
// @Param request body MonitorRequest true "Username and tweet count (1-20, default 10)"
// @Success 200 {object} MonitorResponse
// @Failure 400 {object} DetailedErrorResponse
// @Failure 500 {object} DetailedErrorResponse
// @Router /api/twitter/monitor [post]
func (h *TwitterHandler) Monitor(c echo.Context) error {
	var req MonitorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	username := strings.TrimPrefix(strings.TrimSpace(req.Username), "@")
	if username == "" {
		return c.JSON(http.StatusBadRequest, DetailedErrorResponse{
			Error:   "Missing required parameter",
			Message: "Username is required",
		})
	}
	count := twitter.ClampCount(req.TweetCount)
	h.logger.Info("monitoring user", slog.String("username", username), slog.Int("tweets", count))

	report, err := h.client.Monitor(c.Request().Context(), username, count)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, DetailedErrorResponse{
			Error:   "Failed to monitor Twitter user",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, MonitorResponse{Success: true, Data: report})
}
