package model

import "time"

// Normalized class vocabulary. Vendor labels are remapped onto these
// before any rule evaluation; unmapped labels pass through unchanged.
const (
	ClassPedestrian = "pedestrian"
	ClassCar        = "car"
	ClassBus        = "bus"
	ClassBicycle    = "bicycle"
)

// BBox is an axis-aligned bounding box in frame pixel space.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the box midpoint.
func (b BBox) Center() (float64, float64) {
	return b.X + b.Width/2.0, b.Y + b.Height/2.0
}

// Detection is one recognized object instance in a single analyzed
// frame. Immutable once constructed.
type Detection struct {
	Class string  `json:"class"`
	Score float64 `json:"score"`
	BBox  BBox    `json:"bbox"`
}

// Anomaly is a scored flag derived from one or two detections. Object
// is either a normalized class label or a synthetic "interaction:A_B"
// label for a spatial-interaction pair.
type Anomaly struct {
	Object string  `json:"object"`
	BBox   BBox    `json:"bbox"`
	Score  float64 `json:"score"`
}

// AnomalyResult is the per-frame unit handed to external consumers.
// AnomalyScore is the arithmetic mean of the anomaly scores, 0 when
// empty; HasAnomaly is true iff Anomalies is non-empty.
type AnomalyResult struct {
	HasAnomaly   bool      `json:"has_anomaly"`
	AnomalyScore float64   `json:"anomaly_score"`
	Anomalies    []Anomaly `json:"anomalies"`
}

// HistoryEntry records how many instances of one class were present
// in one analyzed frame.
type HistoryEntry struct {
	Class     string    `json:"class"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// FrameReport is the unit the pipeline hands to the results store,
// the journal and the publisher after each analyzed frame.
type FrameReport struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	FrameSeq   uint64        `json:"frame_seq"`
	Detections []Detection   `json:"detections"`
	Result     AnomalyResult `json:"result"`
}

// RunStats is a snapshot of the scheduler counters for one pipeline run.
type RunStats struct {
	Ticks     uint64 `json:"ticks"`
	Analyzed  uint64 `json:"analyzed"`
	Skipped   uint64 `json:"skipped"`
	NotReady  uint64 `json:"not_ready"`
	Failures  uint64 `json:"failures"`
	Anomalies uint64 `json:"anomalies"`
}
