package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/internal/core/services"
	"lenslink/internal/infrastructure/monitoring"
	"lenslink/internal/infrastructure/registry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	syncResult domain.DetectionResult
	syncErr    error
}

func (f *fakeEngine) JoinSession(ctx context.Context, id domain.SessionID) error { return nil }
func (f *fakeEngine) SendFrame(ctx context.Context, req domain.DetectionRequest) error {
	return nil
}
func (f *fakeEngine) Results() <-chan domain.DetectionResult { return nil }
func (f *fakeEngine) Connected() bool                        { return true }
func (f *fakeEngine) Healthy(ctx context.Context) error      { return f.syncErr }
func (f *fakeEngine) DetectSync(ctx context.Context, image string) (domain.DetectionResult, error) {
	return f.syncResult, f.syncErr
}
func (f *fakeEngine) Close() error { return nil }

type fakeDispatcher struct {
	status domain.DetectionStatus
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, id domain.SessionID, image string, timestamp int64) (*ports.PendingDetection, error) {
	return nil, domain.ErrDetectionDisabled
}
func (f *fakeDispatcher) Subscribe() *ports.DetectionSubscription { return nil }
func (f *fakeDispatcher) Status() domain.DetectionStatus          { return f.status }
func (f *fakeDispatcher) SetEnabled(enabled bool)                 {}
func (f *fakeDispatcher) Forget(id domain.SessionID)              {}
func (f *fakeDispatcher) Close()                                  {}

func newTestRouter(t *testing.T, engine ports.EngineChannel) (*gin.Engine, *services.SessionService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.NewMemoryRegistry(time.Minute, nil, zap.NewNop().Sugar())
	svc := services.NewSessionService(reg, nil, zap.NewNop().Sugar())
	t.Cleanup(func() {
		svc.Close()
		reg.Close()
	})

	health := monitoring.NewHealthChecker()
	health.AddCheck("self", func(ctx context.Context) (bool, error) { return true, nil }, time.Second)

	handler := NewSessionHandler(svc, engine, &fakeDispatcher{status: domain.DetectionReady}, health)
	router := gin.New()
	handler.SetupRoutes(router)
	return router, svc
}

func TestCreateAndGetSession(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		Session struct {
			ID     string `json:"session_id"`
			Status string `json:"status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Session.ID)
	assert.Equal(t, "waiting", created.Session.Status)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/sessions/"+created.Session.ID, nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/no-such-session", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListSessions(t *testing.T) {
	router, svc := newTestRouter(t, &fakeEngine{})

	_, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestLastResult(t *testing.T) {
	router, svc := newTestRouter(t, &fakeEngine{})

	created, err := svc.CreateSession(context.Background())
	require.NoError(t, err)

	// No result yet.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/sessions/"+string(created.ID)+"/result", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.RecordResult(context.Background(), domain.DetectionResult{
		SessionID: created.ID,
		Timestamp: 7,
	})

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/v1/sessions/"+string(created.ID)+"/result", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetectSync(t *testing.T) {
	engine := &fakeEngine{
		syncResult: domain.DetectionResult{
			Detections:     []domain.Detection{{ClassName: "person", Confidence: 0.9}},
			DetectionCount: 1,
		},
	}
	router, _ := newTestRouter(t, engine)

	image := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	body, _ := json.Marshal(map[string]string{"image": image})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result domain.DetectionResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Result.DetectionCount)
}

func TestDetectSyncEngineUnavailable(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{syncErr: domain.ErrDetectionUnavailable})

	image := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	body, _ := json.Marshal(map[string]string{"image": image})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDetectSyncRejectsBadImage(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	body, _ := json.Marshal(map[string]string{"image": "!!not-base64!!"})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectionStatus(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/detect/status", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeEngine{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
