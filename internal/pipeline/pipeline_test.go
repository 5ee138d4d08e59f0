package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/engine"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/recognize"
	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

type fakeSource struct {
	mu    sync.Mutex
	ready bool
	seq   uint64
}

func (s *fakeSource) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSource) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *fakeSource) Dimensions() (int, int) { return 64, 48 }

func (s *fakeSource) Frame() video.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return video.Frame{Seq: s.seq, Time: time.Now(), Image: image.NewRGBA(image.Rect(0, 0, 64, 48))}
}

func (s *fakeSource) Close() error { return nil }

// gatedRecognizer blocks each Detect call until released.
type gatedRecognizer struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	preds []recognize.RawPrediction
}

func newGatedRecognizer() *gatedRecognizer {
	return &gatedRecognizer{
		gate:  make(chan struct{}),
		preds: []recognize.RawPrediction{{Label: "person", Score: 0.9, BBox: model.BBox{Width: 40, Height: 80}}},
	}
}

func (g *gatedRecognizer) Load(ctx context.Context) error { return nil }

func (g *gatedRecognizer) Detect(ctx context.Context, frame video.Frame) ([]recognize.RawPrediction, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	<-g.gate
	return g.preds, nil
}

func (g *gatedRecognizer) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *gatedRecognizer) release() { g.gate <- struct{}{} }

func (g *gatedRecognizer) Close() error { return nil }

// flakyRecognizer fails on configured call numbers.
type flakyRecognizer struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	preds  []recognize.RawPrediction
}

func (f *flakyRecognizer) Load(ctx context.Context) error { return nil }

func (f *flakyRecognizer) Detect(ctx context.Context, frame video.Frame) ([]recognize.RawPrediction, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.failOn[n] {
		return nil, errors.New("inference hiccup")
	}
	return f.preds, nil
}

func (f *flakyRecognizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyRecognizer) Close() error { return nil }

func newTestPipeline(t *testing.T, rec recognize.Recognizer, frameSkip int) *Pipeline {
	t.Helper()
	adapter := recognize.NewAdapter(rec, config.RecognizerConfig{ScoreFloor: 0.05, MaxBoxes: 20})
	eng := engine.New(config.DefaultConfig().Rules, nil)
	p := New(config.SchedulerConfig{FrameSkip: frameSkip, TickInterval: time.Hour}, nil, adapter, eng, nil, nil, nil, nil)
	if err := p.LoadModel(context.Background()); err != nil {
		t.Fatalf("load model: %v", err)
	}
	return p
}

func (p *Pipeline) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		idle := !p.inFlight
		p.mu.Unlock()
		if idle {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pipeline never went idle")
}

func staticPerson() *recognize.StaticRecognizer {
	return recognize.NewStaticRecognizer([][]recognize.RawPrediction{
		{{Label: "person", Score: 0.9, BBox: model.BBox{X: 10, Y: 10, Width: 40, Height: 80}}},
	})
}

func TestFrameSkipCadence(t *testing.T) {
	for _, skip := range []int{0, 1, 3} {
		rec := staticPerson()
		p := newTestPipeline(t, rec, skip)
		src := &fakeSource{ready: true}
		ctx := context.Background()

		// Warm the cache so the empty-detections override stops firing.
		p.tick(ctx, src, nil, nil)
		p.waitIdle(t)
		before := rec.Calls()

		const rounds = 5
		for i := 0; i < rounds*(skip+1); i++ {
			p.tick(ctx, src, nil, nil)
			p.waitIdle(t)
		}
		got := rec.Calls() - before
		if got != rounds {
			t.Fatalf("skip=%d: expected %d detection passes over %d ticks, got %d", skip, rounds, rounds*(skip+1), got)
		}
	}
}

func TestSingleDetectionInFlight(t *testing.T) {
	rec := newGatedRecognizer()
	p := newTestPipeline(t, rec, 0)
	src := &fakeSource{ready: true}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p.tick(ctx, src, nil, nil)
	}
	// Give any extra goroutines a chance to call Detect.
	time.Sleep(20 * time.Millisecond)
	if got := rec.Calls(); got != 1 {
		t.Fatalf("expected exactly one in-flight detection, got %d", got)
	}
	rec.release()
	p.waitIdle(t)
	p.tick(ctx, src, nil, nil)
	rec.release()
	p.waitIdle(t)
	if got := rec.Calls(); got != 2 {
		t.Fatalf("expected second detection after completion, got %d", got)
	}
}

func TestStateReturnsToIdleAfterDetection(t *testing.T) {
	rec := newGatedRecognizer()
	p := newTestPipeline(t, rec, 0)
	src := &fakeSource{ready: true}
	ctx := context.Background()

	p.tick(ctx, src, nil, nil)
	if got := p.State(); got != StateDetecting {
		t.Fatalf("expected detecting while in flight, got %s", got)
	}
	rec.release()
	p.waitIdle(t)
	if got := p.State(); got != StateIdle {
		t.Fatalf("expected idle after detection completes, got %s", got)
	}
}

func TestSkipEmitsCachedResult(t *testing.T) {
	rec := staticPerson()
	p := newTestPipeline(t, rec, 3)
	src := &fakeSource{ready: true}
	ctx := context.Background()

	var mu sync.Mutex
	var emitted []model.AnomalyResult
	onResult := func(dets []model.Detection, res model.AnomalyResult) {
		mu.Lock()
		emitted = append(emitted, res)
		mu.Unlock()
	}

	p.tick(ctx, src, onResult, nil)
	p.waitIdle(t)
	p.tick(ctx, src, onResult, nil) // skip tick
	p.tick(ctx, src, onResult, nil) // skip tick

	mu.Lock()
	defer mu.Unlock()
	if len(emitted) != 3 {
		t.Fatalf("expected 3 emissions (1 detect + 2 skips), got %d", len(emitted))
	}
	if emitted[1].AnomalyScore != emitted[0].AnomalyScore || emitted[2].AnomalyScore != emitted[0].AnomalyScore {
		t.Fatalf("skip ticks must re-emit the cached result unchanged: %+v", emitted)
	}
}

func TestSetFrameSkipClampsNegative(t *testing.T) {
	p := newTestPipeline(t, staticPerson(), 0)
	p.SetFrameSkip(-3)
	if got := p.FrameSkip(); got != 0 {
		t.Fatalf("expected clamp to 0, got %d", got)
	}
}

func TestDetectionFailureReportedAndRetried(t *testing.T) {
	rec := &flakyRecognizer{
		failOn: map[int]bool{2: true},
		preds:  []recognize.RawPrediction{{Label: "person", Score: 0.9, BBox: model.BBox{Width: 40, Height: 80}}},
	}
	p := newTestPipeline(t, rec, 0)
	src := &fakeSource{ready: true}
	ctx := context.Background()

	var mu sync.Mutex
	var errs []error
	onError := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for i := 0; i < 3; i++ {
		p.tick(ctx, src, nil, onError)
		p.waitIdle(t)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected exactly one reported error, got %d", len(errs))
	}
	var de *recognize.DetectionError
	if !errors.As(errs[0], &de) {
		t.Fatalf("expected DetectionError, got %v", errs[0])
	}
	if got := rec.Calls(); got != 3 {
		t.Fatalf("loop must keep detecting after a failure, got %d calls", got)
	}
	if p.Counters().Failures.Load() != 1 {
		t.Fatalf("expected one failure counted")
	}
}

func TestNotReadyStallsWithoutConsumingSkipSlot(t *testing.T) {
	rec := staticPerson()
	p := newTestPipeline(t, rec, 2)
	src := &fakeSource{ready: false}
	ctx := context.Background()

	p.tick(ctx, src, nil, nil)
	p.tick(ctx, src, nil, nil)
	if rec.Calls() != 0 {
		t.Fatalf("not-ready video must not trigger detection")
	}
	if p.State() != StateWaitingForVideoReady {
		t.Fatalf("expected waiting state, got %s", p.State())
	}
	p.mu.Lock()
	counter := p.frameCounter
	p.mu.Unlock()
	if counter != 0 {
		t.Fatalf("not-ready ticks must not advance the frame counter, got %d", counter)
	}

	src.setReady(true)
	p.tick(ctx, src, nil, nil)
	p.waitIdle(t)
	if rec.Calls() != 1 {
		t.Fatalf("expected detection once video is ready, got %d", rec.Calls())
	}
}

func TestCancellationDiscardsInFlightResult(t *testing.T) {
	rec := newGatedRecognizer()
	p := newTestPipeline(t, rec, 0)
	src := &fakeSource{ready: true}
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	delivered := 0
	onResult := func([]model.Detection, model.AnomalyResult) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}

	p.tick(ctx, src, onResult, nil)
	cancel()
	rec.release()
	p.waitIdle(t)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("cancelled detection must be discarded, got %d deliveries", delivered)
	}
	p.mu.Lock()
	cached := p.lastDetections
	p.mu.Unlock()
	if cached != nil {
		t.Fatalf("cancelled detection must not update the cache")
	}
}

func TestStartStopRestart(t *testing.T) {
	rec := staticPerson()
	p := newTestPipeline(t, rec, 0)
	p.tickInterval = time.Millisecond
	src := &fakeSource{ready: true}

	if err := p.DetectObjectsOnVideo(context.Background(), src, nil, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.DetectObjectsOnVideo(context.Background(), src, nil, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rec.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if rec.Calls() == 0 {
		t.Fatalf("expected detections from the running loop")
	}
	p.Stop()

	if err := p.DetectObjectsOnVideo(context.Background(), src, nil, nil); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	p.Stop()
}
