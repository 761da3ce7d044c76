package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/email"
)

type EmailHandler struct {
	sender *email.Sender
	logger *slog.Logger
}

type SendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from"`
	HTML    bool   `json:"html"`
}

type SendEmailResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	MessageID string `json:"messageId,omitempty"`
	Delivered bool   `json:"delivered"`
}

func NewEmailHandler(log *slog.Logger, sender *email.Sender) *EmailHandler {
	return &EmailHandler{sender: sender, logger: log.With(slog.String("handler", "email"))}
}

func (h *EmailHandler) Register(e *echo.Echo) {
	e.POST("/api/email/send", h.Send)
}

// Send godoc
// @Summary Send an email
// @Description Delivered over SMTP when configured, otherwise only logged.
// @Tags email
// @Accept json
// @Produce json
// @Param request body SendEmailRequest true "Email"
// @Success 200 {object} SendEmailResponse
// @Failure 400 {object} server.ErrorResponse
// @Failure 500 {object} server.ErrorResponse
// @Router /api/email/send [post]
func (h *EmailHandler) Send(c echo.Context) error {
	var req SendEmailRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.sender.Send(c.Request().Context(), email.OutboundEmail{
		From:    req.From,
		To:      []string{req.To},
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    req.HTML,
	})
	if err != nil {
		if errors.Is(err, email.ErrInvalid) {
			return echo.NewHTTPError(http.StatusBadRequest, reason(err, email.ErrInvalid))
		}
		h.logger.Error("send email failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to send email")
	}
	return c.JSON(http.StatusOK, SendEmailResponse{
		Success:   true,
		Message:   "Email sent successfully",
		MessageID: res.MessageID,
		Delivered: res.Delivered,
	})
}
