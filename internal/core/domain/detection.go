package domain

// BoundingBox holds normalized coordinates in [0,1] with X1 < X2 and Y1 < Y2.
type BoundingBox struct {
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
	X2     float64 `json:"x2"`
	Y2     float64 `json:"y2"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one labeled region returned by the detection engine.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectionRequest is one snapshot sent to the detection engine. Timestamp is
// client-assigned and monotonic per client; together with SessionID it is the
// correlation key for the asynchronous reply.
type DetectionRequest struct {
	SessionID SessionID `json:"session_id"`
	Image     string    `json:"image"` // base64-encoded bitmap
	Timestamp int64     `json:"timestamp"`
}

// DetectionResult is the engine's reply. Timestamp echoes the originating
// request's timestamp so out-of-order and late replies can be matched.
type DetectionResult struct {
	Detections     []Detection `json:"detections"`
	ProcessingTime float64     `json:"processing_time"`
	FPS            float64     `json:"fps"`
	ImageSize      ImageSize   `json:"image_size"`
	DetectionCount int         `json:"detection_count"`
	SessionID      SessionID   `json:"session_id,omitempty"`
	Timestamp      int64       `json:"timestamp,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// FilterByConfidence returns a copy of the result keeping only detections with
// confidence >= threshold, with DetectionCount recomputed. The transform is
// idempotent: filtering an already-filtered result at the same threshold
// yields an identical result.
func (r DetectionResult) FilterByConfidence(threshold float64) DetectionResult {
	filtered := make([]Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		if d.Confidence >= threshold {
			filtered = append(filtered, d)
		}
	}
	r.Detections = filtered
	r.DetectionCount = len(filtered)
	return r
}

// DetectionStatus is the viewer-visible state of the detection feature,
// independent of the signaling path.
type DetectionStatus string

const (
	DetectionReady       DetectionStatus = "ready"
	DetectionUnavailable DetectionStatus = "unavailable"
	DetectionError       DetectionStatus = "error"
)
