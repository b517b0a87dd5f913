package http

import (
	"errors"
	"net/http"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/internal/core/services"
	"lenslink/internal/infrastructure/monitoring"
	"lenslink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the session and detection REST surface.
type SessionHandler struct {
	sessionService *services.SessionService
	engine         ports.EngineChannel
	dispatcher     ports.Dispatcher
	health         *monitoring.HealthChecker
}

func NewSessionHandler(
	sessionService *services.SessionService,
	engine ports.EngineChannel,
	dispatcher ports.Dispatcher,
	health *monitoring.HealthChecker,
) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		engine:         engine,
		dispatcher:     dispatcher,
		health:         health,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions", h.ListSessions)
		api.GET("/sessions/:id", h.GetSession)
		api.GET("/sessions/:id/stats", h.GetSessionStats)
		api.GET("/sessions/:id/result", h.GetLastResult)

		api.POST("/detect", h.DetectSync)
		api.GET("/detect/status", h.DetectionStatus)
	}

	router.GET("/health", h.Health)
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	session, err := h.sessionService.CreateSession(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), domain.SessionID(sessionID))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
	})
}

func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessionService.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionHandler) GetSessionStats(c *gin.Context) {
	sessionID := c.Param("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), domain.SessionID(sessionID))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats": gin.H{
			"session_id":     session.ID,
			"status":         session.Status,
			"uptime_seconds": session.UptimeSeconds,
			"frame_count":    session.FrameCount,
		},
	})
}

func (h *SessionHandler) GetLastResult(c *gin.Context) {
	sessionID := c.Param("id")
	if err := validation.ValidateSessionID(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.sessionService.GetSession(c.Request.Context(), domain.SessionID(sessionID)); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, ok := h.sessionService.LastResult(domain.SessionID(sessionID))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No detection result for session yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
	})
}

// DetectSync runs a one-shot detection on a single image with no session
// context, proxied synchronously to the engine.
func (h *SessionHandler) DetectSync(c *gin.Context) {
	var req struct {
		Image string `json:"image" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateBase64Image(req.Image); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.engine.DetectSync(c.Request.Context(), req.Image)
	if err != nil {
		if errors.Is(err, domain.ErrDetectionUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Detection engine unavailable"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
	})
}

func (h *SessionHandler) DetectionStatus(c *gin.Context) {
	status := domain.DetectionUnavailable
	if h.dispatcher != nil {
		status = h.dispatcher.Status()
	}

	c.JSON(http.StatusOK, gin.H{
		"status": status,
	})
}

func (h *SessionHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
