package recognize

import (
	"context"
	"sync"

	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

// StaticRecognizer replays a fixed script of prediction sets, one per
// Detect call, cycling when the script is exhausted. Used for demos
// and offline runs without an inference service.
type StaticRecognizer struct {
	mu     sync.Mutex
	script [][]RawPrediction
	idx    int
	calls  int
}

func NewStaticRecognizer(script [][]RawPrediction) *StaticRecognizer {
	return &StaticRecognizer{script: script}
}

func (s *StaticRecognizer) Load(ctx context.Context) error {
	return nil
}

func (s *StaticRecognizer) Detect(ctx context.Context, frame video.Frame) ([]RawPrediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return nil, nil
	}
	preds := s.script[s.idx]
	s.idx = (s.idx + 1) % len(s.script)
	return preds, nil
}

func (s *StaticRecognizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StaticRecognizer) Close() error {
	return nil
}
