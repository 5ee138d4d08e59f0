package recognize

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
	"github.com/Cathyyyy1/anomaly-monitor/internal/video"
)

// Adapter converts a Recognizer's raw predictions into the pipeline's
// Detection model: labels normalized, ignored classes dropped, scores
// below the floor discarded, box count capped. Model order is kept.
type Adapter struct {
	recognizer Recognizer
	loaded     atomic.Bool
	cfg        atomic.Value
}

func NewAdapter(recognizer Recognizer, cfg config.RecognizerConfig) *Adapter {
	a := &Adapter{recognizer: recognizer}
	a.cfg.Store(cfg)
	return a
}

func (a *Adapter) UpdateConfig(cfg config.RecognizerConfig) {
	a.cfg.Store(cfg)
}

func (a *Adapter) config() config.RecognizerConfig {
	return a.cfg.Load().(config.RecognizerConfig)
}

func (a *Adapter) Load(ctx context.Context) error {
	if err := a.recognizer.Load(ctx); err != nil {
		return &ModelLoadError{Err: err}
	}
	a.loaded.Store(true)
	return nil
}

func (a *Adapter) Loaded() bool {
	return a.loaded.Load()
}

func (a *Adapter) Detect(ctx context.Context, frame video.Frame) ([]model.Detection, error) {
	if !a.loaded.Load() {
		return nil, &DetectionError{Err: ErrModelNotLoaded}
	}
	if w, h := frame.Dimensions(); w == 0 || h == 0 {
		return nil, ErrInvalidFrame
	}
	raw, err := a.recognizer.Detect(ctx, frame)
	if err != nil {
		return nil, &DetectionError{Err: err}
	}
	cfg := a.config()
	ignored := ignoreSet(cfg.IgnoreClasses)
	out := make([]model.Detection, 0, len(raw))
	for _, p := range raw {
		if p.Score < cfg.ScoreFloor {
			continue
		}
		class := NormalizeLabel(p.Label, cfg.LabelAliases)
		if class == "" {
			continue
		}
		if _, skip := ignored[class]; skip {
			continue
		}
		out = append(out, model.Detection{
			Class: class,
			Score: p.Score,
			BBox:  p.BBox,
		})
		if cfg.MaxBoxes > 0 && len(out) >= cfg.MaxBoxes {
			break
		}
	}
	return out, nil
}

func (a *Adapter) Close() error {
	a.loaded.Store(false)
	return a.recognizer.Close()
}

func ignoreSet(classes []string) map[string]struct{} {
	if len(classes) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		out[c] = struct{}{}
	}
	return out
}
