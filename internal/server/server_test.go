package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHandler struct{}

type createRequest struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (testHandler) Register(e *echo.Echo) {
	e.POST("/things", func(c echo.Context) error {
		var req createRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, req)
	})
	e.GET("/things/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "thing not found")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("kaput")
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("bad")
	})
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestErrorBodies(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, "", testHandler{})

	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
		errMsg string
	}{
		{"validation", http.MethodPost, "/things", `{}`, http.StatusBadRequest, "name is required"},
		{"invalid field", http.MethodPost, "/things", `{"name":"a","email":"nope"}`, http.StatusBadRequest, "email is invalid (email)"},
		{"not found", http.MethodGet, "/things/1", "", http.StatusNotFound, "thing not found"},
		{"plain error", http.MethodGet, "/boom", "", http.StatusInternalServerError, "kaput"},
		{"panic", http.MethodGet, "/panic", "", http.StatusInternalServerError, "bad"},
		{"unknown route", http.MethodGet, "/nowhere", "", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, out := do(t, s, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Contains(t, out["error"], tt.errMsg)
		})
	}
}

func TestValidRequestPasses(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, "", testHandler{})

	rec, out := do(t, s, http.MethodPost, "/things", `{"name":"a","email":"a@example.com"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a", out["name"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, "", testHandler{})
	_, _ = do(t, s, http.MethodGet, "/things/42", "")

	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `aobridge_http_requests_total{method="GET",path="/things/:id",status="404"}`)
}

func TestNilHandlersSkipped(t *testing.T) {
	t.Parallel()
	s := NewServer(nil, "", nil, testHandler{})
	assert.Equal(t, ":3001", s.Addr())
	rec, _ := do(t, s, http.MethodGet, "/things/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
