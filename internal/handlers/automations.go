package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/ao"
	"github.com/memohai/aobridge/internal/automations"
)

type AutomationsHandler struct {
	service *automations.Service
	logger  *slog.Logger
}

// AutomationRequest uses the capitalized keys the process builder expects.
type AutomationRequest struct {
	When        string `json:"When"`
	Then        string `json:"Then"`
	Target      string `json:"Target"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
}

type CreateAutomationResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	ID      string             `json:"id"`
	Config  automations.Config `json:"config"`
	AOError string             `json:"aoError,omitempty"`
}

type TriggerRequest struct {
	Action string `json:"action"`
	Data   string `json:"data"`
}

type TriggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
	Action  string `json:"action"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewAutomationsHandler(log *slog.Logger, service *automations.Service) *AutomationsHandler {
	return &AutomationsHandler{service: service, logger: log.With(slog.String("handler", "automations"))}
}

func (h *AutomationsHandler) Register(e *echo.Echo) {
	group := e.Group("/api/automations")
	group.POST("", h.Create)
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)
	group.POST("/:id/trigger", h.Trigger)
}

// automationError maps service errors that every route shares.
func automationError(err error) error {
	var mismatch *automations.MismatchError
	switch {
	case errors.Is(err, ao.ErrNotConnected):
		return echo.NewHTTPError(http.StatusBadRequest, notConnectedMessage)
	case errors.Is(err, automations.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Automation not found")
	case errors.As(err, &mismatch):
		return echo.NewHTTPError(http.StatusBadRequest, mismatch.Error())
	case errors.Is(err, automations.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, reason(err, automations.ErrInvalid))
	}
	return nil
}

// Create godoc
// @Summary Create an automation
// @Description The rule is stored even when the process builder cannot be reached; aoError reports that.
// @Tags automations
// @Accept json
// @Produce json
// @Param request body AutomationRequest true "Rule"
// @Success 201 {object} CreateAutomationResponse
// @Failure 400 {object} server.ErrorResponse
// @Router /api/automations [post]
func (h *AutomationsHandler) Create(c echo.Context) error {
	var req AutomationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Create(c.Request().Context(), automations.Config(req))
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create automation")
	}
	resp := CreateAutomationResponse{
		Success: true,
		Message: "Automation created successfully",
		ID:      res.Automation.ID,
		Config:  res.Config,
	}
	if res.AOError != nil {
		resp.Message = "Automation created locally but AO communication failed"
		resp.AOError = res.AOError.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

// List godoc
// @Summary List automations
// @Tags automations
// @Produce json
// @Success 200 {array} automations.Automation
// @Failure 400 {object} server.ErrorResponse
// @Router /api/automations [get]
func (h *AutomationsHandler) List(c echo.Context) error {
	items, err := h.service.List()
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get automations")
	}
	return c.JSON(http.StatusOK, items)
}

// Get godoc
// @Summary Get an automation
// @Tags automations
// @Produce json
// @Param id path string true "Automation ID"
// @Success 200 {object} automations.Automation
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/automations/{id} [get]
func (h *AutomationsHandler) Get(c echo.Context) error {
	a, err := h.service.Get(c.Param("id"))
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get automation")
	}
	return c.JSON(http.StatusOK, a)
}

// Update godoc
// @Summary Update an automation
// @Description Empty fields keep their current value.
// @Tags automations
// @Accept json
// @Produce json
// @Param id path string true "Automation ID"
// @Param request body AutomationRequest true "Fields to change"
// @Success 200 {object} automations.Automation
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/automations/{id} [put]
func (h *AutomationsHandler) Update(c echo.Context) error {
	var req AutomationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.service.Update(c.Param("id"), automations.Update(req))
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update automation")
	}
	return c.JSON(http.StatusOK, a)
}

// Delete godoc
// @Summary Delete an automation
// @Tags automations
// @Produce json
// @Param id path string true "Automation ID"
// @Success 200 {object} automations.Automation
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Router /api/automations/{id} [delete]
func (h *AutomationsHandler) Delete(c echo.Context) error {
	a, err := h.service.Delete(c.Param("id"))
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete automation")
	}
	return c.JSON(http.StatusOK, a)
}

// Trigger godoc
// @Summary Trigger an automation
// @Description The action must equal the rule's When.
// @Tags automations
// @Accept json
// @Produce json
// @Param id path string true "Automation ID"
// @Param request body TriggerRequest true "Action"
// @Success 200 {object} TriggerResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 404 {object} server.ErrorResponse
// @Failure 500 {object} TriggerResponse
// @Router /api/automations/{id}/trigger [post]
func (h *AutomationsHandler) Trigger(c echo.Context) error {
	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id := c.Param("id")
	res, err := h.service.Trigger(c.Request().Context(), id, req.Action, req.Data)
	if err != nil {
		if herr := automationError(err); herr != nil {
			return herr
		}
		h.logger.Error("trigger failed", slog.String("id", id), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, TriggerResponse{
			Message: "Failed to trigger automation on AO network",
			ID:      id,
			Action:  req.Action,
			Error:   err.Error(),
		})
	}
	return c.JSON(http.StatusOK, TriggerResponse{
		Success: true,
		Message: "Automation triggered successfully",
		ID:      id,
		Action:  res.Action,
		Result:  res.Output,
	})
}
