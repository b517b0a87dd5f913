package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"lenslink/internal/core/domain"
	"lenslink/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func errorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.GET("/sessions/:id", handler)
	return router
}

func doErrorRequest(t *testing.T, router *gin.Engine) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/sessions/abc", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorHandlerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   errors.ErrorCode
	}{
		{"session not found", domain.ErrSessionNotFound, http.StatusNotFound, errors.ErrCodeNotFound},
		{"invalid role", domain.ErrInvalidRole, http.StatusBadRequest, errors.ErrCodeInvalidInput},
		{"throttled", domain.ErrThrottled, http.StatusTooManyRequests, errors.ErrCodeRateLimit},
		{"detection timeout", domain.ErrDetectionTimeout, http.StatusGatewayTimeout, errors.ErrCodeGatewayTimeout},
		{"detection unavailable", domain.ErrDetectionUnavailable, http.StatusServiceUnavailable, errors.ErrCodeServiceUnavailable},
		{"engine not connected", domain.ErrNotConnected, http.StatusServiceUnavailable, errors.ErrCodeServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := errorRouter(func(c *gin.Context) {
				c.Error(tc.err)
			})

			status, body := doErrorRequest(t, router)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, string(tc.code), body["error"])
		})
	}
}

func TestErrorHandlerPassesAppErrorStatus(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		c.Error(errors.NewNotFoundError("session"))
	})

	status, body := doErrorRequest(t, router)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, string(errors.ErrCodeNotFound), body["error"])
}

func TestErrorHandlerDefaultsToInternal(t *testing.T) {
	router := errorRouter(func(c *gin.Context) {
		c.Error(assert.AnError)
	})

	status, body := doErrorRequest(t, router)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, string(errors.ErrCodeInternal), body["error"])
}

func TestTracingMiddlewarePassesRequestsThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/sessions/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, "/sessions/abc", nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}
