package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/ao"
)

const notConnectedMessage = "Not connected to AO platform"

type AOHandler struct {
	connector *ao.Connector
	logger    *slog.Logger
	now       func() time.Time
}

type ConnectRequest struct {
	ProcessID  string `json:"processId"`
	EmailBotID string `json:"emailBotId"`
}

type ConnectResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ProcessID  string `json:"processId"`
	EmailBotID string `json:"emailBotId"`
}

type SendMessageRequest struct {
	Target string            `json:"target"`
	Action string            `json:"action"`
	Data   string            `json:"data"`
	Tags   map[string]string `json:"tags"`
}

type SendMessageResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Target    string    `json:"target"`
	Action    string    `json:"action"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

func NewAOHandler(log *slog.Logger, connector *ao.Connector) *AOHandler {
	return &AOHandler{
		connector: connector,
		logger:    log.With(slog.String("handler", "ao")),
		now:       time.Now,
	}
}

func (h *AOHandler) Register(e *echo.Echo) {
	group := e.Group("/api")
	group.POST("/connect", h.Connect)
	group.POST("/disconnect", h.Disconnect)
	group.GET("/status", h.Status)
	group.GET("/targets", h.Targets)
	group.POST("/send", h.Send)
	group.GET("/messages/:processId", h.Messages)
}

// Connect godoc
// @Summary Connect to the AO platform
// @Tags ao
// @Accept json
// @Produce json
// @Param request body ConnectRequest true "Process ids"
// @Success 200 {object} ConnectResponse
// @Failure 400 {object} server.ErrorResponse
// @Router /api/connect [post]
func (h *AOHandler) Connect(c echo.Context) error {
	var req ConnectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.ProcessID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Process ID is required")
	}
	conn, err := h.connector.Connect(req.ProcessID, req.EmailBotID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to connect to AO platform")
	}
	return c.JSON(http.StatusOK, ConnectResponse{
		Success:    true,
		Message:    "Connected to AO platform",
		ProcessID:  conn.ProcessID,
		EmailBotID: conn.EmailBotID,
	})
}

// Disconnect godoc
// @Summary Forget the AO process ids
// @Tags ao
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /api/disconnect [post]
func (h *AOHandler) Disconnect(c echo.Context) error {
	h.connector.Disconnect()
	return c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Disconnected from AO platform"})
}

// Status godoc
// @Summary AO connection status
// @Tags ao
// @Produce json
// @Success 200 {object} ao.Connection
// @Failure 400 {object} server.ErrorResponse
// @Router /api/status [get]
func (h *AOHandler) Status(c echo.Context) error {
	conn, err := h.connector.Status()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, notConnectedMessage)
	}
	return c.JSON(http.StatusOK, conn)
}

// Targets godoc
// @Summary Message targets of the connected platform
// @Tags ao
// @Produce json
// @Success 200 {array} ao.Target
// @Failure 400 {object} server.ErrorResponse
// @Router /api/targets [get]
func (h *AOHandler) Targets(c echo.Context) error {
	targets, err := h.connector.Targets()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, notConnectedMessage)
	}
	return c.JSON(http.StatusOK, targets)
}

// Send godoc
// @Summary Send a message to an AO process
// @Tags ao
// @Accept json
// @Produce json
// @Param request body SendMessageRequest true "Message"
// @Success 200 {object} SendMessageResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 500 {object} SendMessageResponse
// @Router /api/send [post]
func (h *AOHandler) Send(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Target) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Target is required")
	}
	if strings.TrimSpace(req.Action) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Action is required")
	}

	res, err := h.connector.Send(c.Request().Context(), req.Target, req.Action, req.Data, req.Tags)
	if err != nil {
		if errors.Is(err, ao.ErrInvalidArgument) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusInternalServerError, SendMessageResponse{
			Message: "Failed to send message to AO network",
			Target:  req.Target,
			Action:  req.Action,
			Error:   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, SendMessageResponse{
		Success:   true,
		Message:   "Message sent to AO network",
		Target:    res.Target,
		Action:    res.Action,
		Result:    res.Output,
		Timestamp: h.now().UTC(),
	})
}

// Messages godoc
// @Summary Messages sent to a process through this service, newest first
// @Tags ao
// @Produce json
// @Param processId path string true "Process ID"
// @Success 200 {array} ao.Message
// @Router /api/messages/{processId} [get]
func (h *AOHandler) Messages(c echo.Context) error {
	processID := strings.TrimSpace(c.Param("processId"))
	if processID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Process ID is required")
	}
	return c.JSON(http.StatusOK, h.connector.Messages(processID))
}
