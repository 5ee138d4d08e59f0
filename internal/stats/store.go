package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Counters are the scheduler's run counters, bumped from the tick and
// detection-completion paths.
type Counters struct {
	Ticks     atomic.Uint64
	Analyzed  atomic.Uint64
	Skipped   atomic.Uint64
	NotReady  atomic.Uint64
	Failures  atomic.Uint64
	Anomalies atomic.Uint64
}

func (c *Counters) Snapshot() model.RunStats {
	return model.RunStats{
		Ticks:     c.Ticks.Load(),
		Analyzed:  c.Analyzed.Load(),
		Skipped:   c.Skipped.Load(),
		NotReady:  c.NotReady.Load(),
		Failures:  c.Failures.Load(),
		Anomalies: c.Anomalies.Load(),
	}
}

// Store holds the latest per-class frequency snapshot for the API.
type Store struct {
	mu        sync.RWMutex
	byClass   map[string]int
	updatedAt time.Time
}

func NewStore() *Store {
	return &Store{byClass: make(map[string]int)}
}

func (s *Store) Update(frequencies map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byClass = make(map[string]int, len(frequencies))
	for class, count := range frequencies {
		s.byClass[class] = count
	}
	s.updatedAt = time.Now().UTC()
}

func (s *Store) Get(class string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count, ok := s.byClass[class]
	return count, ok
}

func (s *Store) GetAll() (map[string]int, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.byClass))
	for class, count := range s.byClass {
		out[class] = count
	}
	return out, s.updatedAt
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byClass = make(map[string]int)
	s.updatedAt = time.Time{}
}
