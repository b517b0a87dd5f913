package detect

import (
	"time"

	"golang.org/x/time/rate"
)

// FrameThrottle decides whether a captured frame is eligible for dispatch.
// It admits at most one frame per interval; rejections do not advance the
// admission clock, so admitted frames are spaced at least the interval apart
// regardless of request rate.
type FrameThrottle struct {
	limiter *rate.Limiter
}

// NewFrameThrottle creates a throttle with the given minimum inter-frame
// interval. Non-positive intervals disable throttling.
func NewFrameThrottle(interval time.Duration) *FrameThrottle {
	if interval <= 0 {
		return &FrameThrottle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &FrameThrottle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether a frame captured now may be dispatched, consuming the
// current interval's slot when it does.
func (t *FrameThrottle) Allow() bool {
	return t.limiter.Allow()
}
