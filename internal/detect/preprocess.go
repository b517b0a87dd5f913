package detect

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"strings"

	"lenslink/pkg/optimize"

	"github.com/disintegration/imaging"
)

// Preprocessor downscales captured snapshots to the detection engine's target
// size before dispatch, keeping process_frame payloads small and matching the
// resolution the engine's model runs at.
type Preprocessor struct {
	width   int
	height  int
	quality int
	buffers *optimize.BufferPool
}

func NewPreprocessor(width, height, quality int) *Preprocessor {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Preprocessor{
		width:   width,
		height:  height,
		quality: quality,
		buffers: optimize.NewBufferPool(),
	}
}

// Process accepts a base64-encoded bitmap (with or without a data-URL prefix),
// resizes it to the target dimensions and returns a base64-encoded JPEG.
func (p *Preprocessor) Process(encoded string) (string, error) {
	raw, err := decodeBase64Image(encoded)
	if err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("failed to decode snapshot: %w", err)
	}

	resized := imaging.Resize(img, p.width, p.height, imaging.Lanczos)

	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	if err := jpeg.Encode(buf, resized, &jpeg.Options{Quality: p.quality}); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// TargetSize returns the configured processing dimensions.
func (p *Preprocessor) TargetSize() (int, int) {
	return p.width, p.height
}

// decodeBase64Image strips an optional "data:image/...;base64," prefix and
// decodes the remainder.
func decodeBase64Image(encoded string) ([]byte, error) {
	if idx := strings.IndexByte(encoded, ','); idx >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[idx+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image payload: %w", err)
	}
	return raw, nil
}
