package engine

import (
	"sort"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

// HistoryWindow is the time-bounded ledger of per-class observation
// counts. Entries arrive in call order, not necessarily monotonic
// clock order, so eviction is always a full filter pass rather than a
// head pop.
type HistoryWindow struct {
	window  time.Duration
	entries []model.HistoryEntry
}

func NewHistoryWindow(window time.Duration) *HistoryWindow {
	if window <= 0 {
		window = 10 * time.Second
	}
	return &HistoryWindow{
		window:  window,
		entries: make([]model.HistoryEntry, 0, 128),
	}
}

// Record appends one entry per distinct class present in detections,
// then drops every entry older than the window relative to now.
func (h *HistoryWindow) Record(detections []model.Detection, now time.Time) {
	counts := make(map[string]int)
	for _, d := range detections {
		counts[d.Class]++
	}
	classes := make([]string, 0, len(counts))
	for class := range counts {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		h.entries = append(h.entries, model.HistoryEntry{
			Class:     class,
			Count:     counts[class],
			Timestamp: now,
		})
	}
	kept := h.entries[:0]
	for _, e := range h.entries {
		if now.Sub(e.Timestamp) < h.window {
			kept = append(kept, e)
		}
	}
	h.entries = kept
}

// Frequencies sums retained counts per class, recomputed from the
// ledger on every call.
func (h *HistoryWindow) Frequencies() map[string]int {
	out := make(map[string]int)
	for _, e := range h.entries {
		out[e.Class] += e.Count
	}
	return out
}

func (h *HistoryWindow) Len() int {
	return len(h.entries)
}

func (h *HistoryWindow) Window() time.Duration {
	return h.window
}
