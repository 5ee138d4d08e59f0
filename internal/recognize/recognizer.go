package recognize

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

// RawPrediction is a vendor prediction before label normalization.
type RawPrediction struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	BBox  model.BBox `json:"bbox"`
}

// Recognizer is the pluggable object-recognition capability. Detect
// returns predictions in the order the underlying model produced them.
type Recognizer interface {
	Load(ctx context.Context) error
	Detect(ctx context.Context, frame video.Frame) ([]RawPrediction, error)
	Close() error
}

// ErrModelNotLoaded is returned by Detect before a successful Load.
var ErrModelNotLoaded = errors.New("model not loaded")

// ErrInvalidFrame marks a frame with no usable pixel dimensions. The
// scheduler retries these silently on the next tick.
var ErrInvalidFrame = errors.New("frame has no pixel dimensions")

// ModelLoadError wraps a failed recognizer initialization. Fatal to
// the pipeline until Load is retried.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model load failed: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// DetectionError wraps a single failed detection pass. Non-fatal: the
// loop reports it and continues with the last good result.
type DetectionError struct {
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }
