package engine

import (
	"testing"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

func newEngineForTest(start time.Time) (*Engine, *time.Time) {
	clock := start
	eng := New(testRules(), nil)
	eng.now = func() time.Time { return clock }
	return eng, &clock
}

func TestCrowdScenario(t *testing.T) {
	base := time.Now().UTC()
	eng, clock := newEngineForTest(base)

	// Six single-pedestrian frames over six seconds of history.
	for i := 0; i < 6; i++ {
		*clock = base.Add(time.Duration(i) * time.Second)
		eng.Process([]model.Detection{det("pedestrian", 0.9, 10, 10, 40, 80)})
	}

	// Then a frame with four pedestrians: frequency is 10, well past
	// the crowd threshold.
	*clock = base.Add(7 * time.Second)
	frame := []model.Detection{
		det("pedestrian", 0.9, 0, 0, 40, 80),
		det("pedestrian", 0.9, 300, 0, 40, 80),
		det("pedestrian", 0.9, 600, 0, 40, 80),
		det("pedestrian", 0.9, 900, 0, 40, 80),
	}
	res := eng.Process(frame)
	if !res.HasAnomaly {
		t.Fatalf("expected crowd anomaly")
	}
	for _, a := range res.Anomalies {
		if a.Object != "pedestrian" {
			continue
		}
		if a.Score < 0.7 {
			t.Fatalf("pedestrian anomaly score %f below base", a.Score)
		}
	}
	if res.AnomalyScore < 0.7 {
		t.Fatalf("aggregate score %f below base", res.AnomalyScore)
	}
}

func TestHistoryExpiresThroughProcess(t *testing.T) {
	base := time.Now().UTC()
	eng, clock := newEngineForTest(base)
	eng.Process([]model.Detection{det("pedestrian", 0.9, 0, 0, 40, 80)})
	if eng.Frequencies()["pedestrian"] != 1 {
		t.Fatalf("expected pedestrian recorded")
	}
	*clock = base.Add(11 * time.Second)
	eng.Process(nil)
	if _, ok := eng.Frequencies()["pedestrian"]; ok {
		t.Fatalf("expected pedestrian aged out")
	}
}

func TestResetClearsHistory(t *testing.T) {
	base := time.Now().UTC()
	eng, _ := newEngineForTest(base)
	eng.Process([]model.Detection{det("car", 0.9, 0, 0, 100, 50)})
	eng.Reset()
	if len(eng.Frequencies()) != 0 {
		t.Fatalf("expected empty frequencies after reset")
	}
}
