package ports

import (
	"context"
	"sync"

	"lenslink/internal/core/domain"
)

// EngineChannel is the asynchronous channel to the external detection engine.
type EngineChannel interface {
	// JoinSession registers interest in results for the session.
	JoinSession(ctx context.Context, id domain.SessionID) error

	// SendFrame submits one frame; the reply arrives on Results.
	SendFrame(ctx context.Context, req domain.DetectionRequest) error

	// Results delivers engine replies in arrival order.
	Results() <-chan domain.DetectionResult

	// Connected reports whether a live channel to the engine exists.
	Connected() bool

	// Healthy performs a synchronous engine health probe.
	Healthy(ctx context.Context) error

	// DetectSync runs the ad-hoc single-image form with no session context.
	DetectSync(ctx context.Context, image string) (domain.DetectionResult, error)

	Close() error
}

// Dispatcher coordinates frame dispatch and result correlation. Outstanding
// requests and throttling are tracked per session, never shared across them.
type Dispatcher interface {
	Dispatch(ctx context.Context, id domain.SessionID, image string, timestamp int64) (*PendingDetection, error)
	Subscribe() *DetectionSubscription
	Status() domain.DetectionStatus
	SetEnabled(enabled bool)
	Forget(id domain.SessionID)
	Close()
}

// PendingDetection is the future for one in-flight request, resolved exactly
// once: by a matching reply, by timeout, or by a superseding dispatch.
type PendingDetection struct {
	SessionID domain.SessionID
	Timestamp int64

	once   sync.Once
	done   chan struct{}
	result domain.DetectionResult
	err    error
}

// NewPendingDetection creates an unresolved future.
func NewPendingDetection(id domain.SessionID, ts int64) *PendingDetection {
	return &PendingDetection{SessionID: id, Timestamp: ts, done: make(chan struct{})}
}

// Resolve completes the future exactly once; later calls are ignored.
func (p *PendingDetection) Resolve(result domain.DetectionResult, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// Done is closed when the future resolves.
func (p *PendingDetection) Done() <-chan struct{} {
	return p.done
}

// Resolved reports whether the future has completed.
func (p *PendingDetection) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx is done.
func (p *PendingDetection) Wait(ctx context.Context) (domain.DetectionResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return domain.DetectionResult{}, ctx.Err()
	}
}

// DetectionSubscription carries filtered results and status transitions to one
// consumer. Channels are buffered; slow consumers lose intermediate values
// rather than blocking the dispatcher.
type DetectionSubscription struct {
	Results <-chan domain.DetectionResult
	Status  <-chan domain.DetectionStatus
}
