package results

import (
	"sync"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Store keeps the most recent frame reports in a bounded ring for the
// read-only API.
type Store struct {
	mu    sync.RWMutex
	buf   []model.FrameReport
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(report model.FrameReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, report)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = report
}

func (s *Store) List(limit int) []model.FrameReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.FrameReport, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.FrameReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FrameReport, 0)
	for _, r := range s.buf {
		if !r.Timestamp.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

// Anomalies flattens the anomalies of the most recent reports, newest
// last, up to limit anomalies (0 = all retained).
func (s *Store) Anomalies(limit int) []model.Anomaly {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Anomaly, 0)
	for _, r := range s.buf {
		out = append(out, r.Result.Anomalies...)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
