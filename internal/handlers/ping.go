package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/healthcheck"
)

type PingHandler struct {
	health *healthcheck.Aggregator
	logger *slog.Logger
	now    func() time.Time
}

// HealthResponse always reports status ok while the process serves requests.
// Components carries the component checks.
type HealthResponse struct {
	Status     string             `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	Components healthcheck.Report `json:"components"`
}

func NewPingHandler(log *slog.Logger, health *healthcheck.Aggregator) *PingHandler {
	return &PingHandler{
		health: health,
		logger: log.With(slog.String("handler", "ping")),
		now:    time.Now,
	}
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
	e.GET("/api/health", h.Health)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Health godoc
// @Summary Liveness probe with component checks
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /api/health [get]
func (h *PingHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Timestamp:  h.now().UTC(),
		Components: h.health.Run(c.Request().Context()),
	})
}
