package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/aobridge/internal/tokenprice"
)

type TokenPriceHandler struct {
	client *tokenprice.Client
	logger *slog.Logger
}

type TokenPriceErrorResponse struct {
	Success         bool     `json:"success"`
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	SupportedTokens []string `json:"supportedTokens,omitempty"`
	Example         string   `json:"example,omitempty"`
}

type SupportedTokensResponse struct {
	SupportedTokens []string `json:"supportedTokens"`
	Count           int      `json:"count"`
	Examples        []string `json:"examples"`
}

func NewTokenPriceHandler(log *slog.Logger, client *tokenprice.Client) *TokenPriceHandler {
	return &TokenPriceHandler{client: client, logger: log.With(slog.String("handler", "tokenprice"))}
}

func (h *TokenPriceHandler) Register(e *echo.Echo) {
	group := e.Group("/api/token-price")
	group.GET("", h.Price)
	group.GET("/supported", h.Supported)
}

// Price godoc
// @Summary USD price of a token
// @Tags token-price
// @Produce json
// @Param token query string true "Token symbol (AO, AR, ARIO, TRUNK, GAME)"
// @Success 200 {object} tokenprice.Quote
// @Failure 400 {object} TokenPriceErrorResponse
// @Failure 500 {object} TokenPriceErrorResponse
// @Router /api/token-price [get]
func (h *TokenPriceHandler) Price(c echo.Context) error {
	token := strings.TrimSpace(c.QueryParam("token"))
	if token == "" {
		return c.JSON(http.StatusBadRequest, TokenPriceErrorResponse{
			Error:           "Missing or invalid token parameter",
			Message:         "Please provide a valid token symbol as a query parameter",
			SupportedTokens: tokenprice.SupportedTokens(),
			Example:         "/api/token-price?token=AO",
		})
	}
	quote, err := h.client.Price(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, tokenprice.ErrUnsupportedToken) {
			return c.JSON(http.StatusBadRequest, TokenPriceErrorResponse{
				Error:           "Unsupported token",
				Message:         err.Error(),
				SupportedTokens: tokenprice.SupportedTokens(),
			})
		}
		return c.JSON(http.StatusInternalServerError, TokenPriceErrorResponse{
			Error:   "Failed to fetch token price",
			Message: err.Error(),
		})
	}
	return c.JSON(http.StatusOK, quote)
}

// Supported godoc
// @Summary Tokens with a price source
// @Tags token-price
// @Produce json
// @Success 200 {object} SupportedTokensResponse
// @Router /api/token-price/supported [get]
func (h *TokenPriceHandler) Supported(c echo.Context) error {
	tokens := tokenprice.SupportedTokens()
	examples := make([]string, 0, len(tokens))
	for _, t := range tokens {
		examples = append(examples, "/api/token-price?token="+t)
	}
	return c.JSON(http.StatusOK, SupportedTokensResponse{
		SupportedTokens: tokens,
		Count:           len(tokens),
		Examples:        examples,
	})
}
