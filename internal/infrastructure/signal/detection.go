package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"
	"lenslink/internal/detect"
	"lenslink/internal/infrastructure/monitoring"

	"go.uber.org/zap"
)

// FramePayload is the payload of a viewer's frame message.
type FramePayload struct {
	Image     string `json:"image"`
	Timestamp int64  `json:"timestamp"`
}

// ResultRecorder remembers delivered detection results per session.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result domain.DetectionResult)
}

// DetectionBridge carries viewer snapshot frames into the dispatch pipeline
// and delivers correlated results back to the submitting viewer. It is fully
// decoupled from signaling routing: detection failures never disturb the
// offer/answer/ICE path.
type DetectionBridge struct {
	dispatcher ports.Dispatcher
	engine     ports.EngineChannel
	pre        *detect.Preprocessor
	recorder   ResultRecorder
	metrics    *monitoring.Collector
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	joined map[domain.SessionID]bool
}

func NewDetectionBridge(
	dispatcher ports.Dispatcher,
	engine ports.EngineChannel,
	pre *detect.Preprocessor,
	recorder ResultRecorder,
	metrics *monitoring.Collector,
	logger *zap.SugaredLogger,
) *DetectionBridge {
	return &DetectionBridge{
		dispatcher: dispatcher,
		engine:     engine,
		pre:        pre,
		recorder:   recorder,
		metrics:    metrics,
		logger:     logger,
		joined:     make(map[domain.SessionID]bool),
	}
}

// HandleFrame admits one snapshot for detection and, when a matching reply
// arrives in time, sends it to conn as a detection-results message. Throttled
// and superseded frames vanish without notice; engine trouble is reported to
// the viewer as a status message.
func (b *DetectionBridge) HandleFrame(ctx context.Context, id domain.SessionID, conn ports.Conn, payload FramePayload) {
	b.joinOnce(ctx, id)

	image := payload.Image
	if b.pre != nil {
		processed, err := b.pre.Process(image)
		if err != nil {
			b.logger.Debugw("frame preprocess failed, sending original",
				"session_id", id,
				"error", err,
			)
		} else {
			image = processed
		}
	}

	start := time.Now()
	pending, err := b.dispatcher.Dispatch(ctx, id, image, payload.Timestamp)
	if err != nil {
		b.dispatchFailed(id, conn, err)
		return
	}

	if b.metrics != nil {
		b.metrics.DetectionDispatched()
	}

	go b.await(id, conn, pending, start)
}

func (b *DetectionBridge) await(id domain.SessionID, conn ports.Conn, pending *ports.PendingDetection, start time.Time) {
	result, err := pending.Wait(context.Background())
	if err != nil {
		if errors.Is(err, detect.ErrSuperseded) {
			return
		}
		if errors.Is(err, domain.ErrDetectionTimeout) && b.metrics != nil {
			b.metrics.DetectionTimeout()
		}
		b.sendStatus(conn, id, domain.DetectionUnavailable)
		return
	}

	if b.metrics != nil {
		b.metrics.ObserveDetectionLatency(time.Since(start))
	}
	if b.recorder != nil {
		b.recorder.RecordResult(context.Background(), result)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		b.logger.Errorw("failed to encode detection result", "session_id", id, "error", err)
		return
	}
	if err := conn.Send(SignalMessage{
		Type:      MsgDetectionResults,
		SessionID: id,
		Payload:   raw,
	}); err != nil {
		b.logger.Debugw("detection result delivery failed", "session_id", id, "error", err)
	}
}

func (b *DetectionBridge) dispatchFailed(id domain.SessionID, conn ports.Conn, err error) {
	switch {
	case errors.Is(err, domain.ErrThrottled):
		// Expected under the frame interval; drop quietly.
	case errors.Is(err, domain.ErrDetectionDisabled):
		b.sendStatus(conn, id, domain.DetectionUnavailable)
	case errors.Is(err, domain.ErrNotConnected):
		b.sendStatus(conn, id, domain.DetectionUnavailable)
	default:
		b.logger.Warnw("frame dispatch failed", "session_id", id, "error", err)
		b.sendStatus(conn, id, domain.DetectionError)
	}
}

func (b *DetectionBridge) sendStatus(conn ports.Conn, id domain.SessionID, status domain.DetectionStatus) {
	if err := conn.Send(SignalMessage{
		Type:      MsgDetectionStatus,
		SessionID: id,
		Status:    string(status),
	}); err != nil {
		b.logger.Debugw("detection status delivery failed", "session_id", id, "error", err)
	}
}

// joinOnce registers the session with the engine the first time a frame is
// submitted for it.
func (b *DetectionBridge) joinOnce(ctx context.Context, id domain.SessionID) {
	b.mu.Lock()
	already := b.joined[id]
	if !already {
		b.joined[id] = true
	}
	b.mu.Unlock()

	if already {
		return
	}

	if err := b.engine.JoinSession(ctx, id); err != nil {
		b.logger.Warnw("failed to join detection session on engine", "session_id", id, "error", err)
		b.mu.Lock()
		delete(b.joined, id)
		b.mu.Unlock()
	}
}

// Forget drops the engine-join mark and dispatch state for a destroyed
// session.
func (b *DetectionBridge) Forget(id domain.SessionID) {
	b.mu.Lock()
	delete(b.joined, id)
	b.mu.Unlock()

	b.dispatcher.Forget(id)
}
