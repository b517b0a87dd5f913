package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/pkg/circuitbreaker"
	"lenslink/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// engineEvent is the JSON envelope spoken on the engine websocket.
type engineEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	eventJoinSession      = "join_detection_session"
	eventJoinedSession    = "joined_session"
	eventProcessFrame     = "process_frame"
	eventDetectionResults = "detection_results"
	eventError            = "error"
)

// EngineClientConfig configures the channel to the detection engine.
type EngineClientConfig struct {
	// WebSocketURL is the engine's event endpoint (ws://host:port/ws).
	WebSocketURL string
	// HTTPURL is the engine's REST base (http://host:port).
	HTTPURL string
	// RequestTimeout bounds the synchronous HTTP calls.
	RequestTimeout time.Duration
}

// EngineClient maintains the shared channel to the external detection engine:
// a websocket for session-scoped frame processing plus HTTP endpoints for
// health and ad-hoc detection. Engine failures trip the circuit breaker so
// callers degrade to the unavailable status instead of hammering a dead
// engine.
type EngineClient struct {
	cfg        EngineClientConfig
	dialer     *websocket.Dialer
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
	logger     *zap.SugaredLogger

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	results   chan domain.DetectionResult

	closed chan struct{}
	once   sync.Once
}

func NewEngineClient(cfg EngineClientConfig, logger *zap.SugaredLogger) *EngineClient {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	return &EngineClient{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    circuitbreaker.New(circuitbreaker.DefaultConfig()),
		retryCfg:   retry.DefaultConfig(),
		logger:     logger,
		results:    make(chan domain.DetectionResult, 16),
		closed:     make(chan struct{}),
	}
}

// Connect dials the engine websocket with backoff and starts the read loop.
// On read failure the client reconnects in the background until Close.
func (c *EngineClient) Connect(ctx context.Context) error {
	err := retry.Retry(ctx, c.retryCfg, func() error {
		return c.dial(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to connect to detection engine: %w", err)
	}
	return nil
}

func (c *EngineClient) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.WebSocketURL, nil)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	c.logger.Infow("connected to detection engine", "url", c.cfg.WebSocketURL)
	return nil
}

func (c *EngineClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.connected.Store(false)
		conn.Close()
		c.reconnect()
	}()

	for {
		var evt engineEvent
		if err := conn.ReadJSON(&evt); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warnw("detection engine channel read failed", "error", err)
			}
			return
		}

		switch evt.Event {
		case eventDetectionResults:
			var result domain.DetectionResult
			if err := json.Unmarshal(evt.Data, &result); err != nil {
				c.logger.Warnw("malformed detection result", "error", err)
				continue
			}
			select {
			case c.results <- result:
			default:
				// Consumer lagging; dropping is safer than blocking the
				// engine channel.
				c.logger.Warnw("detection result dropped, consumer lagging")
			}

		case eventJoinedSession:
			c.logger.Debugw("joined detection session on engine")

		case eventError:
			c.logger.Warnw("detection engine error event", "data", string(evt.Data))

		default:
			c.logger.Debugw("ignoring unknown engine event", "event", evt.Event)
		}
	}
}

func (c *EngineClient) reconnect() {
	select {
	case <-c.closed:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		c.logger.Errorw("detection engine reconnect failed", "error", err)
	}
}

func (c *EngineClient) JoinSession(ctx context.Context, id domain.SessionID) error {
	return c.sendEvent(eventJoinSession, map[string]interface{}{
		"session_id": id,
	})
}

func (c *EngineClient) SendFrame(ctx context.Context, req domain.DetectionRequest) error {
	return c.sendEvent(eventProcessFrame, req)
}

func (c *EngineClient) Results() <-chan domain.DetectionResult {
	return c.results
}

func (c *EngineClient) Connected() bool {
	return c.connected.Load()
}

// Healthy probes the engine's health endpoint through the circuit breaker.
func (c *EngineClient) Healthy(ctx context.Context) error {
	return c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.HTTPURL+"/health", nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.ErrDetectionUnavailable
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return domain.ErrDetectionUnavailable
		}

		var health struct {
			Status        string `json:"status"`
			DetectorReady bool   `json:"detector_ready"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			return fmt.Errorf("malformed engine health response: %w", err)
		}
		if !health.DetectorReady {
			return domain.ErrDetectionUnavailable
		}
		return nil
	})
}

// DetectSync runs the ad-hoc single-image form against the engine's REST
// endpoint; no session context, no correlation.
func (c *EngineClient) DetectSync(ctx context.Context, image string) (domain.DetectionResult, error) {
	var result domain.DetectionResult

	err := c.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(map[string]string{"image": image})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.HTTPURL+"/detect", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return domain.ErrDetectionUnavailable
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("engine returned status %d: %w", resp.StatusCode, domain.ErrDetectionUnavailable)
		}

		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return domain.DetectionResult{}, err
	}
	return result, nil
}

func (c *EngineClient) Close() error {
	c.once.Do(func() {
		close(c.closed)
	})

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.connected.Store(false)
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *EngineClient) sendEvent(event string, data interface{}) error {
	if !c.connected.Load() {
		return domain.ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(engineEvent{Event: event, Data: raw})
}
