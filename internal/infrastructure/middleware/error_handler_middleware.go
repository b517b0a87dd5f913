package middleware

import (
	stderrors "errors"
	"net/http"

	"lenslink/internal/core/domain"
	"lenslink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// domainStatus maps relay domain sentinels onto HTTP responses. Handlers can
// push a raw domain error with c.Error and rely on this middleware for the
// status code.
func domainStatus(err error) (int, errors.ErrorCode, bool) {
	switch {
	case stderrors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, errors.ErrCodeNotFound, true
	case stderrors.Is(err, domain.ErrInvalidRole):
		return http.StatusBadRequest, errors.ErrCodeInvalidInput, true
	case stderrors.Is(err, domain.ErrThrottled):
		return http.StatusTooManyRequests, errors.ErrCodeRateLimit, true
	case stderrors.Is(err, domain.ErrDetectionTimeout):
		return http.StatusGatewayTimeout, errors.ErrCodeGatewayTimeout, true
	case stderrors.Is(err, domain.ErrDetectionUnavailable),
		stderrors.Is(err, domain.ErrDetectionDisabled),
		stderrors.Is(err, domain.ErrNotConnected):
		return http.StatusServiceUnavailable, errors.ErrCodeServiceUnavailable, true
	}
	return 0, "", false
}

// ErrorHandlerMiddleware turns errors pushed onto the gin context into
// structured responses: AppError carries its own status, domain sentinels map
// through domainStatus, anything else is a 500.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			logger.Errorw("application error",
				"code", appErr.Code,
				"message", appErr.Message,
				"status", appErr.HTTPStatus,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"session_id", c.Param("id"),
				"context", appErr.Context,
			)

			c.JSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
				"details": appErr.Context,
			})
			return
		}

		if status, code, ok := domainStatus(err); ok {
			logger.Warnw("domain error",
				"code", code,
				"error", err.Error(),
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"session_id", c.Param("id"),
			)

			c.JSON(status, gin.H{
				"error":   string(code),
				"message": err.Error(),
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(errors.ErrCodeInternal),
			"message": "Internal server error",
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
