package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/engine"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/publish"
	"github.com/Cathyyyy1/anomaly-monitor/internal/recognize"
	"github.com/Cathyyyy1/anomaly-monitor/internal/results"
	"github.com/Cathyyyy1/anomaly-monitor/internal/stats"
	"github.com/Cathyyyy1/anomaly-monitor/internal/storage"
	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

// State is the scheduler's observable state.
type State int32

const (
	StateIdle State = iota
	StateWaitingForVideoReady
	StateDetecting
	StateSkipping
)

func (s State) String() string {
	switch s {
	case StateWaitingForVideoReady:
		return "waiting_for_video_ready"
	case StateDetecting:
		return "detecting"
	case StateSkipping:
		return "skipping"
	default:
		return "idle"
	}
}

type ResultFunc func(detections []model.Detection, result model.AnomalyResult)

type ErrorFunc func(err error)

var ErrAlreadyRunning = errors.New("pipeline already running")

// Pipeline is the facade external code drives. It owns the frame
// scheduler: a ticker-driven loop that decides per tick whether to
// run a new detection pass or re-emit the cached result. At most one
// detection is in flight at any time; the inFlight flag is the
// correctness property everything else leans on.
type Pipeline struct {
	logger    *slog.Logger
	adapter   *recognize.Adapter
	engine    *engine.Engine
	freq      *stats.Store
	results   *results.Store
	journal   storage.Journal
	publisher *publish.Publisher

	runID        string
	tickInterval time.Duration
	frameSkip    atomic.Int64
	counters     stats.Counters

	mu             sync.Mutex
	state          State
	frameCounter   int
	inFlight       bool
	lastDetections []model.Detection
	lastResult     model.AnomalyResult
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	// Serializes callback delivery so skip emissions and detection
	// completions reach the consumer in scheduling order.
	cbMu sync.Mutex
}

func New(cfg config.SchedulerConfig, logger *slog.Logger, adapter *recognize.Adapter, eng *engine.Engine, freq *stats.Store, resultsStore *results.Store, journal storage.Journal, publisher *publish.Publisher) *Pipeline {
	p := &Pipeline{
		logger:       logger,
		adapter:      adapter,
		engine:       eng,
		freq:         freq,
		results:      resultsStore,
		journal:      journal,
		publisher:    publisher,
		runID:        uuid.NewString(),
		tickInterval: cfg.TickInterval,
	}
	if p.tickInterval <= 0 {
		p.tickInterval = 33 * time.Millisecond
	}
	p.SetFrameSkip(cfg.FrameSkip)
	return p
}

// LoadModel initializes the recognition capability. Failures are
// fatal to the pipeline until the call is retried.
func (p *Pipeline) LoadModel(ctx context.Context) error {
	if err := p.adapter.Load(ctx); err != nil {
		if p.logger != nil {
			p.logger.Error("model load failed", "err", err)
		}
		return err
	}
	if p.logger != nil {
		p.logger.Info("model loaded")
	}
	return nil
}

func (p *Pipeline) IsModelLoaded() bool {
	return p.adapter.Loaded()
}

// SetFrameSkip sets how many ticks reuse the cached result between
// detection passes. Negative input clamps to 0. Effective from the
// next tick.
func (p *Pipeline) SetFrameSkip(n int) {
	if n < 0 {
		n = 0
	}
	p.frameSkip.Store(int64(n))
}

func (p *Pipeline) FrameSkip() int {
	return int(p.frameSkip.Load())
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) Counters() *stats.Counters {
	return &p.counters
}

func (p *Pipeline) RunID() string {
	return p.runID
}

// UpdateConfig applies a reloaded config to the running pipeline:
// frame skip, recognizer filtering and the rule table.
func (p *Pipeline) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	p.SetFrameSkip(cfg.Scheduler.FrameSkip)
	p.adapter.UpdateConfig(cfg.Recognizer)
	p.engine.UpdateRules(cfg.Rules)
}

// Reset clears the engine's observation history.
func (p *Pipeline) Reset() {
	p.engine.Reset()
}

// DetectObjectsOnVideo starts the scheduling loop against src. If the
// model is not yet loaded it is loaded first; a load failure is
// reported synchronously through onError and aborts the start.
// Per-frame detection failures go to onError without stopping the
// loop. The loop runs until ctx is cancelled or Stop is called.
func (p *Pipeline) DetectObjectsOnVideo(ctx context.Context, src video.Source, onResult ResultFunc, onError ErrorFunc) error {
	if !p.adapter.Loaded() {
		if err := p.LoadModel(ctx); err != nil {
			if onError != nil {
				onError(err)
			}
			return err
		}
	}
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.frameCounter = 0
	p.state = StateIdle
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(runCtx, src, onResult, onError)
	return nil
}

func (p *Pipeline) loop(ctx context.Context, src video.Source, onResult ResultFunc, onError ErrorFunc) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.state = StateIdle
			p.running = false
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.tick(ctx, src, onResult, onError)
		}
	}
}

// tick is one scheduling decision. Not-ready video stalls without
// consuming a skip slot; otherwise the frame counter advances modulo
// frameSkip+1 and the tick either starts a detection pass or re-emits
// the cached pair.
func (p *Pipeline) tick(ctx context.Context, src video.Source, onResult ResultFunc, onError ErrorFunc) {
	p.counters.Ticks.Add(1)
	if !src.Ready() {
		p.mu.Lock()
		p.state = StateWaitingForVideoReady
		p.mu.Unlock()
		p.counters.NotReady.Add(1)
		return
	}

	p.mu.Lock()
	skip := p.FrameSkip()
	p.frameCounter = (p.frameCounter + 1) % (skip + 1)
	shouldDetect := p.frameCounter == 0 || len(p.lastDetections) == 0
	if shouldDetect && !p.inFlight {
		p.inFlight = true
		p.state = StateDetecting
		p.mu.Unlock()
		frame := src.Frame()
		p.wg.Add(1)
		go p.runDetection(ctx, frame, onResult, onError)
		return
	}
	p.state = StateSkipping
	dets := p.lastDetections
	res := p.lastResult
	p.mu.Unlock()

	p.counters.Skipped.Add(1)
	p.deliver(onResult, dets, res)
}

func (p *Pipeline) runDetection(ctx context.Context, frame video.Frame, onResult ResultFunc, onError ErrorFunc) {
	defer p.wg.Done()
	detections, err := p.adapter.Detect(ctx, frame)

	if ctx.Err() != nil {
		// Cancelled mid-flight: the result is discarded.
		p.clearInFlight(StateIdle)
		return
	}
	if err != nil {
		p.clearInFlight(StateIdle)
		if errors.Is(err, recognize.ErrInvalidFrame) {
			// No usable pixels yet; retried next tick.
			return
		}
		p.counters.Failures.Add(1)
		if p.logger != nil {
			p.logger.Warn("detection failed", "frame_seq", frame.Seq, "err", err)
		}
		if onError != nil {
			p.cbMu.Lock()
			onError(err)
			p.cbMu.Unlock()
		}
		return
	}

	result := p.engine.Process(detections)
	report := model.FrameReport{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		FrameSeq:   frame.Seq,
		Detections: detections,
		Result:     result,
	}

	p.mu.Lock()
	p.inFlight = false
	p.state = StateIdle
	p.lastDetections = detections
	p.lastResult = result
	p.mu.Unlock()

	p.counters.Analyzed.Add(1)
	if result.HasAnomaly {
		p.counters.Anomalies.Add(uint64(len(result.Anomalies)))
	}
	if p.freq != nil {
		p.freq.Update(p.engine.Frequencies())
	}
	if p.results != nil {
		p.results.Add(report)
	}
	if p.journal != nil {
		_ = p.journal.SaveReport(context.Background(), report)
	}
	p.publisher.Publish(context.Background(), report)

	p.deliver(onResult, detections, result)
}

func (p *Pipeline) clearInFlight(next State) {
	p.mu.Lock()
	p.inFlight = false
	p.state = next
	p.mu.Unlock()
}

func (p *Pipeline) deliver(onResult ResultFunc, detections []model.Detection, result model.AnomalyResult) {
	if onResult == nil {
		return
	}
	p.cbMu.Lock()
	onResult(detections, result)
	p.cbMu.Unlock()
}

// Stop cancels the scheduling loop and waits for the in-flight
// detection, if any, to wind down. The pipeline can be started again
// afterwards.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.mu.Lock()
	p.running = false
	p.state = StateIdle
	p.mu.Unlock()
}

// Close stops the loop, journals the final run counters and releases
// the recognition capability.
func (p *Pipeline) Close() error {
	p.Stop()
	if p.journal != nil {
		_ = p.journal.SaveStats(context.Background(), p.runID, p.counters.Snapshot())
	}
	return p.adapter.Close()
}
