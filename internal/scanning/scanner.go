package scanning

import (
	"context"
	"time"
)

// Frame is a single captured camera image
type Frame struct {
	Seq         uint64    `json:"seq"`
	Data        []byte    `json:"-"`
	ContentType string    `json:"content_type"`
	CapturedAt  time.Time `json:"captured_at"`
}

// DetectedCode is one barcode read from one frame
type DetectedCode struct {
	Text      string `json:"text"`
	Symbology string `json:"symbology"`
}

// VerifiedScan is emitted once a code has been held steady long enough
type VerifiedScan struct {
	Text       string    `json:"text"`
	Symbology  string    `json:"symbology"`
	VerifiedAt time.Time `json:"verified_at"`
}

// Decoder defines the interface for barcode decoding operations
type Decoder interface {
	// Decode returns every barcode visible in the frame. An empty result is not an error.
	Decode(ctx context.Context, frame Frame) ([]DetectedCode, error)
	// Close closes the decoder and releases resources
	Close() error
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}
