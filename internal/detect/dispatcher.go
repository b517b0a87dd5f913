package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"lenslink/internal/core/domain"
	"lenslink/internal/core/ports"

	"go.uber.org/zap"
)

// ErrSuperseded resolves a pending request that was displaced by a newer
// admitted frame before its reply arrived.
var ErrSuperseded = errors.New("detection request superseded by newer frame")

// DispatcherConfig controls dispatch behavior for one client.
type DispatcherConfig struct {
	// Timeout bounds the wait for one engine reply.
	Timeout time.Duration
	// ConfidenceThreshold filters detections before results are published.
	ConfidenceThreshold float64
	// FrameInterval is the minimum spacing between admitted frames, enforced
	// independently for each session.
	FrameInterval time.Duration
	// HealthInterval is the engine health poll period. Zero disables polling.
	HealthInterval time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Timeout:             5 * time.Second,
		ConfidenceThreshold: 0.25,
		FrameInterval:       150 * time.Millisecond,
		HealthInterval:      10 * time.Second,
	}
}

type subscriber struct {
	results chan domain.DetectionResult
	status  chan domain.DetectionStatus
}

// Dispatcher owns the in-flight request/response correlation state, keyed by
// session so that concurrent sessions never interfere. Each session gets its
// own at-most-one-outstanding slot and frame throttle: a newly admitted frame
// supersedes that session's unanswered request instead of queuing behind it,
// and never touches any other session's slot.
type Dispatcher struct {
	engine ports.EngineChannel
	cfg    DispatcherConfig
	logger *zap.SugaredLogger

	mu        sync.Mutex
	slots     map[domain.SessionID]*ports.PendingDetection
	throttles map[domain.SessionID]*FrameThrottle
	subs      []*subscriber
	status    domain.DetectionStatus
	enabled   bool

	// onStale is invoked when a reply fails correlation; used by metrics.
	onStale func()

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func NewDispatcher(engine ports.EngineChannel, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		engine:    engine,
		cfg:       cfg,
		logger:    logger,
		slots:     make(map[domain.SessionID]*ports.PendingDetection),
		throttles: make(map[domain.SessionID]*FrameThrottle),
		status:    domain.DetectionUnavailable,
		enabled:   true,
		closed:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.resultLoop()

	if cfg.HealthInterval > 0 {
		d.wg.Add(1)
		go d.healthLoop()
	}

	return d
}

// OnStaleReply registers a hook called for every discarded reply.
func (d *Dispatcher) OnStaleReply(fn func()) {
	d.mu.Lock()
	d.onStale = fn
	d.mu.Unlock()
}

// Dispatch admits frame for detection and opens a bounded wait for its reply.
// It fails fast with ErrNotConnected, ErrDetectionDisabled or ErrThrottled;
// none of those are dispatched. A prior unresolved request for the same
// session is superseded; other sessions' requests are untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, id domain.SessionID, image string, timestamp int64) (*ports.PendingDetection, error) {
	if !d.engine.Connected() {
		return nil, domain.ErrNotConnected
	}

	d.mu.Lock()
	if !d.enabled {
		d.mu.Unlock()
		return nil, domain.ErrDetectionDisabled
	}
	throttle := d.throttles[id]
	if throttle == nil {
		throttle = NewFrameThrottle(d.cfg.FrameInterval)
		d.throttles[id] = throttle
	}
	d.mu.Unlock()

	if !throttle.Allow() {
		return nil, domain.ErrThrottled
	}

	pending := ports.NewPendingDetection(id, timestamp)

	d.mu.Lock()
	if old := d.slots[id]; old != nil {
		old.Resolve(domain.DetectionResult{}, ErrSuperseded)
		d.logger.Debugw("superseding unresolved detection request",
			"session_id", old.SessionID,
			"timestamp", old.Timestamp,
		)
	}
	d.slots[id] = pending
	d.mu.Unlock()

	req := domain.DetectionRequest{SessionID: id, Image: image, Timestamp: timestamp}
	if err := d.engine.SendFrame(ctx, req); err != nil {
		d.clearPending(pending)
		pending.Resolve(domain.DetectionResult{}, domain.ErrNotConnected)
		return nil, domain.ErrNotConnected
	}

	// Timeout competes with the matching reply; whichever resolves first
	// wins, the loser is a no-op.
	timer := time.AfterFunc(d.cfg.Timeout, func() {
		if d.clearPending(pending) {
			pending.Resolve(domain.DetectionResult{}, domain.ErrDetectionTimeout)
			d.logger.Warnw("detection request timed out",
				"session_id", id,
				"timestamp", timestamp,
			)
		}
	})
	go func() {
		<-pending.Done()
		timer.Stop()
	}()

	return pending, nil
}

// Subscribe returns a subscription delivering filtered results and status
// transitions. Buffered channels; slow consumers drop intermediate values.
func (d *Dispatcher) Subscribe() *ports.DetectionSubscription {
	sub := &subscriber{
		results: make(chan domain.DetectionResult, 8),
		status:  make(chan domain.DetectionStatus, 4),
	}

	d.mu.Lock()
	d.subs = append(d.subs, sub)
	current := d.status
	d.mu.Unlock()

	// Seed the subscriber with the current status.
	sub.status <- current

	return &ports.DetectionSubscription{Results: sub.results, Status: sub.status}
}

// Status returns the current detection feature status.
func (d *Dispatcher) Status() domain.DetectionStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// SetEnabled toggles detection for this client. Disabling does not cancel an
// in-flight request; it only stops new dispatches.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// Forget drops the per-session dispatch state for a destroyed session. An
// unresolved request for it is superseded so waiters are released.
func (d *Dispatcher) Forget(id domain.SessionID) {
	d.mu.Lock()
	pending := d.slots[id]
	delete(d.slots, id)
	delete(d.throttles, id)
	d.mu.Unlock()

	if pending != nil {
		pending.Resolve(domain.DetectionResult{}, ErrSuperseded)
	}
}

func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
}

// resultLoop consumes engine replies and correlates them against the pending
// slot by (sessionID, timestamp). Anything that fails correlation is stale
// and discarded without effect.
func (d *Dispatcher) resultLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.closed:
			return
		case result, ok := <-d.engine.Results():
			if !ok {
				return
			}
			d.handleResult(result)
		}
	}
}

func (d *Dispatcher) handleResult(result domain.DetectionResult) {
	d.mu.Lock()
	pending := d.slots[result.SessionID]
	matched := pending != nil && pending.Timestamp == result.Timestamp
	if matched {
		delete(d.slots, result.SessionID)
	}
	stale := d.onStale
	d.mu.Unlock()

	if !matched {
		d.logger.Debugw("discarding stale detection reply",
			"session_id", result.SessionID,
			"timestamp", result.Timestamp,
		)
		if stale != nil {
			stale()
		}
		return
	}

	filtered := result.FilterByConfidence(d.cfg.ConfidenceThreshold)
	pending.Resolve(filtered, nil)
	d.setStatus(domain.DetectionReady)
	d.publish(filtered)
}

func (d *Dispatcher) healthLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.HealthInterval)
			err := d.engine.Healthy(ctx)
			cancel()

			if err != nil {
				d.setStatus(domain.DetectionUnavailable)
			} else {
				d.setStatus(domain.DetectionReady)
			}
		}
	}
}

func (d *Dispatcher) setStatus(status domain.DetectionStatus) {
	d.mu.Lock()
	changed := d.status != status
	d.status = status
	subs := d.subs
	d.mu.Unlock()

	if !changed {
		return
	}

	d.logger.Infow("detection status changed", "status", status)
	for _, sub := range subs {
		select {
		case sub.status <- status:
		default:
		}
	}
}

func (d *Dispatcher) publish(result domain.DetectionResult) {
	d.mu.Lock()
	subs := d.subs
	d.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.results <- result:
		default:
		}
	}
}

// clearPending removes p from its session's slot if it still occupies it,
// reporting whether this caller owned the removal.
func (d *Dispatcher) clearPending(p *ports.PendingDetection) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.slots[p.SessionID] == p {
		delete(d.slots, p.SessionID)
		return true
	}
	return false
}
