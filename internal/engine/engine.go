package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// Engine folds each analyzed frame's detections into the rolling
// history and scores them with the rule set. Process is called only
// from the scheduler's detection-completion path; the mutex guards
// rule-table swaps from config reloads against that path.
type Engine struct {
	mu      sync.Mutex
	history *HistoryWindow
	rules   *Ruleset
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg config.RulesConfig, logger *slog.Logger) *Engine {
	return &Engine{
		history: NewHistoryWindow(cfg.HistoryWindow),
		rules:   NewRuleset(cfg),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpdateRules swaps the rule table. The history window keeps its
// entries so a reload does not reset frequency statistics; a changed
// window duration takes effect on the next Record pass.
func (e *Engine) UpdateRules(cfg config.RulesConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = NewRuleset(cfg)
	if cfg.HistoryWindow > 0 && cfg.HistoryWindow != e.history.Window() {
		fresh := NewHistoryWindow(cfg.HistoryWindow)
		fresh.entries = append(fresh.entries, e.history.entries...)
		e.history = fresh
	}
}

// Process records the frame's detections, recomputes frequencies and
// evaluates the rules. One call per analyzed frame.
func (e *Engine) Process(detections []model.Detection) model.AnomalyResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.history.Record(detections, now)
	result := e.rules.Evaluate(detections, e.history.Frequencies())
	if result.HasAnomaly && e.logger != nil {
		e.logger.Warn("anomaly detected",
			"score", result.AnomalyScore,
			"count", len(result.Anomalies),
			"first", result.Anomalies[0].Object,
		)
	}
	return result
}

// Frequencies returns the current per-class counts over the retained
// history.
func (e *Engine) Frequencies() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.Frequencies()
}

// Reset clears the observation history.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = NewHistoryWindow(e.history.Window())
}
