package l2geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

// ErrInvalidCostConfig is returned by NewEngine for out-of-range settings.
var ErrInvalidCostConfig = errors.New("invalid cost configuration")

// CostConfig parameterises the association cost.
type CostConfig struct {
	// IoUFloor is the overlap below which a pair is infeasible.
	IoUFloor float64
	// AppearanceWeight blends embedding distance into the cost; 0 disables.
	AppearanceWeight float64
	Metric           EmbeddingMetric
	// ClassAware makes pairs with differing non-empty labels infeasible.
	ClassAware bool
}

// Validate checks ranges.
func (c CostConfig) Validate() error {
	if math.IsNaN(c.IoUFloor) || c.IoUFloor < 0 || c.IoUFloor > 1 {
		return fmt.Errorf("%w: iou floor %g outside [0, 1]", ErrInvalidCostConfig, c.IoUFloor)
	}
	if math.IsNaN(c.AppearanceWeight) || c.AppearanceWeight < 0 || c.AppearanceWeight > 1 {
		return fmt.Errorf("%w: appearance weight %g outside [0, 1]", ErrInvalidCostConfig, c.AppearanceWeight)
	}
	if c.Metric != Cosine && c.Metric != Euclidean {
		return fmt.Errorf("%w: %v", ErrInvalidCostConfig, c.Metric)
	}
	return nil
}

// Engine computes association costs. Costs lie in [0, 1]; +Inf marks an
// infeasible pair.
type Engine struct {
	cfg CostConfig
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg CostConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() CostConfig { return e.cfg }

// Cost returns the cost of associating a predicted track box with a
// detection box. Embeddings are optional; the appearance term only applies
// when both are present.
func (e *Engine) Cost(pred, det l1detections.Box, trackEmb, detEmb []float64) float64 {
	return e.CostWithFloor(pred, det, trackEmb, detEmb, e.cfg.IoUFloor)
}

// CostWithFloor is Cost with an explicit IoU floor.
func (e *Engine) CostWithFloor(pred, det l1detections.Box, trackEmb, detEmb []float64, floor float64) float64 {
	iou := IoU(pred, det)
	if iou < floor {
		return math.Inf(1)
	}
	c := 1 - iou
	if w := e.cfg.AppearanceWeight; w > 0 && len(trackEmb) > 0 && len(detEmb) > 0 {
		c = (1-w)*(1-iou) + w*EmbeddingDistance(trackEmb, detEmb, e.cfg.Metric)
	}
	return clamp01(c)
}

// Row describes one track for cost matrix construction.
type Row struct {
	Box       l1detections.Box
	Embedding []float64
	Class     string
	// Floor replaces the configured IoU floor when OverrideFloor is set.
	Floor         float64
	OverrideFloor bool
}

// Matrix builds the rows×dets cost matrix. Row order and column order
// follow the inputs.
func (e *Engine) Matrix(rows []Row, dets []l1detections.Detection) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		floor := e.cfg.IoUFloor
		if r.OverrideFloor {
			floor = r.Floor
		}
		line := make([]float64, len(dets))
		for j, d := range dets {
			if e.cfg.ClassAware && r.Class != "" && d.Class != "" && r.Class != d.Class {
				line[j] = math.Inf(1)
				continue
			}
			line[j] = e.CostWithFloor(r.Box, d.Box, r.Embedding, d.Embedding, floor)
		}
		out[i] = line
	}
	return out
}
