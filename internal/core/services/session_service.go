package services

import (
	"context"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/internal/infrastructure/monitoring"
	"lenslink/pkg/cache"

	"go.uber.org/zap"
)

// SessionView is the API-facing shape of a session record.
type SessionView struct {
	ID            domain.SessionID     `json:"session_id"`
	Status        domain.SessionStatus `json:"status"`
	CreatedAt     time.Time            `json:"created_at"`
	UptimeSeconds float64              `json:"uptime_seconds"`
	FrameCount    int64                `json:"frame_count"`
}

// SessionService fronts the registry for the HTTP surface and keeps the most
// recent detection result per session for late-joining viewers.
type SessionService struct {
	registry    ports.SessionRegistry
	lastResults *cache.Cache
	metrics     *monitoring.Collector
	logger      *zap.SugaredLogger
}

func NewSessionService(registry ports.SessionRegistry, metrics *monitoring.Collector, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{
		registry:    registry,
		lastResults: cache.NewCache(10 * time.Minute),
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *SessionService) CreateSession(ctx context.Context) (*SessionView, error) {
	session, err := s.registry.Create(ctx)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SessionCreated()
	}

	s.logger.Infow("session created via API", "session_id", session.ID)
	return viewOf(session), nil
}

func (s *SessionService) GetSession(ctx context.Context, id domain.SessionID) (*SessionView, error) {
	session, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return viewOf(session), nil
}

func (s *SessionService) ListSessions(ctx context.Context) ([]*SessionView, error) {
	sessions, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]*SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, viewOf(session))
	}
	return views, nil
}

// RecordResult remembers the latest detection result for the session and bumps
// its frame count.
func (s *SessionService) RecordResult(ctx context.Context, result domain.DetectionResult) {
	s.lastResults.Set(string(result.SessionID), result)

	if err := s.registry.AddFrame(ctx, result.SessionID); err != nil {
		s.logger.Debugw("frame count update skipped", "session_id", result.SessionID, "error", err)
	}
}

// LastResult returns the most recent detection result for the session, if any.
func (s *SessionService) LastResult(id domain.SessionID) (domain.DetectionResult, bool) {
	v, ok := s.lastResults.Get(string(id))
	if !ok {
		return domain.DetectionResult{}, false
	}
	result, ok := v.(domain.DetectionResult)
	return result, ok
}

// Close releases background resources held by the service.
func (s *SessionService) Close() {
	s.lastResults.Stop()
}

func viewOf(session *domain.Session) *SessionView {
	return &SessionView{
		ID:            session.ID,
		Status:        session.Status,
		CreatedAt:     session.CreatedAt,
		UptimeSeconds: time.Since(session.CreatedAt).Seconds(),
		FrameCount:    session.FrameCount,
	}
}
