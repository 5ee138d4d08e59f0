package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/Cathyyyy1/anomaly-monitor/internal/config"
	"github.com/Cathyyyy1/anomaly-monitor/internal/model"
)

type RuleKind int

const (
	// RuleDefault fires a fixed score when the class's recent
	// frequency is below the rarity threshold. Rare sightings of
	// unconfigured classes are suspicious.
	RuleDefault RuleKind = iota
	// RuleFrequencyGated scores 0 below a frequency threshold, then a
	// monotonic saturating curve base + min(freq/scale, cap-base).
	RuleFrequencyGated
	// RulePresence fires on mere presence: a fixed score, optionally
	// scaled by detection confidence.
	RulePresence
	// RuleGeometric fires when the bounding-box width falls below a
	// cutoff, a proxy for anomalous speed.
	RuleGeometric
)

// RulePolicy is one per-class scoring strategy evaluated through a
// single entry point.
type RulePolicy struct {
	Kind RuleKind

	FrequencyThreshold int
	Base               float64
	Cap                float64
	Scale              float64

	Score            float64
	ConfidenceScaled bool

	WidthCutoff float64

	RarityThreshold int
}

// Evaluate returns the anomaly score in [0,1] for one detection given
// its class's recent frequency.
func (p RulePolicy) Evaluate(det model.Detection, frequency int) float64 {
	switch p.Kind {
	case RuleFrequencyGated:
		if frequency < p.FrequencyThreshold {
			return 0
		}
		score := p.Base + math.Min(float64(frequency)/p.Scale, p.Cap-p.Base)
		return clamp01(score)
	case RulePresence:
		if p.ConfidenceScaled {
			return clamp01(p.Score * det.Score)
		}
		return clamp01(p.Score)
	case RuleGeometric:
		if det.BBox.Width < p.WidthCutoff {
			return clamp01(p.Score)
		}
		return 0
	default:
		if frequency < p.RarityThreshold {
			return clamp01(p.Score)
		}
		return 0
	}
}

// Ruleset holds the per-class policy table, the default policy and
// the pairwise interaction rule.
type Ruleset struct {
	policies           map[string]RulePolicy
	fallback           RulePolicy
	interactionEnabled bool
	interactionScore   float64
}

func NewRuleset(cfg config.RulesConfig) *Ruleset {
	policies := make(map[string]RulePolicy, len(cfg.Classes))
	for class, rc := range cfg.Classes {
		policies[class] = policyFromConfig(rc)
	}
	return &Ruleset{
		policies: policies,
		fallback: RulePolicy{
			Kind:            RuleDefault,
			Score:           cfg.DefaultScore,
			RarityThreshold: cfg.RarityThreshold,
		},
		interactionEnabled: cfg.InteractionEnabled,
		interactionScore:   cfg.InteractionScore,
	}
}

func policyFromConfig(rc config.RuleConfig) RulePolicy {
	p := RulePolicy{
		FrequencyThreshold: rc.FrequencyThreshold,
		Base:               rc.Base,
		Cap:                rc.Cap,
		Scale:              rc.Scale,
		Score:              rc.Score,
		ConfidenceScaled:   rc.ConfidenceScaled,
		WidthCutoff:        rc.WidthCutoff,
	}
	switch rc.Kind {
	case config.RuleFrequencyGated:
		p.Kind = RuleFrequencyGated
	case config.RulePresence:
		p.Kind = RulePresence
	case config.RuleGeometric:
		p.Kind = RuleGeometric
	default:
		p.Kind = RuleDefault
	}
	return p
}

// Evaluate scores the current frame's detections against the
// frequency map and returns the consolidated result.
func (r *Ruleset) Evaluate(detections []model.Detection, frequencies map[string]int) model.AnomalyResult {
	anomalies := make([]model.Anomaly, 0, len(detections))
	for _, det := range detections {
		policy, ok := r.policies[det.Class]
		if !ok {
			policy = r.fallback
		}
		score := policy.Evaluate(det, frequencies[det.Class])
		if score > 0 {
			anomalies = append(anomalies, model.Anomaly{
				Object: det.Class,
				BBox:   det.BBox,
				Score:  score,
			})
		}
	}
	if r.interactionEnabled {
		anomalies = append(anomalies, r.interactions(detections)...)
	}
	result := model.AnomalyResult{Anomalies: anomalies}
	if len(anomalies) > 0 {
		scores := make([]float64, len(anomalies))
		for i, a := range anomalies {
			scores[i] = a.Score
		}
		result.HasAnomaly = true
		result.AnomalyScore = stat.Mean(scores, nil)
	}
	return result
}

// interactions emits one synthetic anomaly per unordered pair of
// different-class detections whose centers sit closer than twice the
// average of the four box dimensions. O(n^2) over per-frame
// detections, which stay small.
func (r *Ruleset) interactions(detections []model.Detection) []model.Anomaly {
	var out []model.Anomaly
	for i := 0; i < len(detections); i++ {
		for j := i + 1; j < len(detections); j++ {
			a, b := detections[i], detections[j]
			if a.Class == b.Class {
				continue
			}
			if !closeEnough(a.BBox, b.BBox) {
				continue
			}
			out = append(out, model.Anomaly{
				Object: "interaction:" + a.Class + "_" + b.Class,
				BBox:   a.BBox,
				Score:  r.interactionScore,
			})
		}
	}
	return out
}

func closeEnough(a, b model.BBox) bool {
	ax, ay := a.Center()
	bx, by := b.Center()
	dist := math.Hypot(ax-bx, ay-by)
	avgDim := (a.Width + a.Height + b.Width + b.Height) / 4.0
	return dist < 2.0*avgDim
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
