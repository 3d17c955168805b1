package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/pitchtrack/internal/config"
	"github.com/banshee-data/pitchtrack/internal/mot/l2geometry"
	"github.com/banshee-data/pitchtrack/internal/mot/l3motion"
)

// ErrInvalidConfig is returned by NewTracker when the configuration is
// out of range. It is fatal at construction.
var ErrInvalidConfig = errors.New("invalid tracker configuration")

// Config holds every tracker tunable.
type Config struct {
	IoUFloor               float64 // IoU below which a pair is infeasible
	MatchCostGate          float64 // Maximum accepted cost after solving
	MinHitsToConfirm       int
	MaxOcclusionFrames     int
	MinDetectionConfidence float64 // Spawn gate

	AppearanceWeight  float64 // 0 disables appearance fusion
	EmbeddingMetric   l2geometry.EmbeddingMetric
	EmbeddingMomentum float64
	EmbeddingDim      int // 0 learns the length from the first embedding

	EmitLost   bool // Include lost tracks in frame output
	ClassAware bool // Forbid matches across differing class labels
	MaxTracks  int  // 0 means unlimited

	Motion l3motion.Config

	// WidenedGateRelief relaxes the IoU floor and cost gate of a track for
	// the cycle after a numeric fault: floor*(1-r) and gate+(1-gate)*r.
	WidenedGateRelief    float64
	MaxConsecutiveFaults int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		IoUFloor:               0.2,
		MatchCostGate:          0.8,
		MinHitsToConfirm:       3,
		MaxOcclusionFrames:     30,
		MinDetectionConfidence: 0.5,
		AppearanceWeight:       0,
		EmbeddingMetric:        l2geometry.Cosine,
		EmbeddingMomentum:      0.9,
		Motion:                 l3motion.DefaultConfig(),
		WidenedGateRelief:      0.5,
		MaxConsecutiveFaults:   2,
	}
}

func inUnit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

// Validate reports the first out-of-range value wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case !inUnit(c.IoUFloor):
		return fmt.Errorf("%w: iou_floor %g outside [0, 1]", ErrInvalidConfig, c.IoUFloor)
	case !inUnit(c.MatchCostGate):
		return fmt.Errorf("%w: match_cost_gate %g outside [0, 1]", ErrInvalidConfig, c.MatchCostGate)
	case c.MinHitsToConfirm < 1:
		return fmt.Errorf("%w: min_hits_to_confirm must be >= 1, got %d", ErrInvalidConfig, c.MinHitsToConfirm)
	case c.MaxOcclusionFrames < 0:
		return fmt.Errorf("%w: max_occlusion_frames must be >= 0, got %d", ErrInvalidConfig, c.MaxOcclusionFrames)
	case !inUnit(c.MinDetectionConfidence):
		return fmt.Errorf("%w: min_detection_confidence %g outside [0, 1]", ErrInvalidConfig, c.MinDetectionConfidence)
	case !inUnit(c.AppearanceWeight):
		return fmt.Errorf("%w: appearance_weight %g outside [0, 1]", ErrInvalidConfig, c.AppearanceWeight)
	case !inUnit(c.EmbeddingMomentum):
		return fmt.Errorf("%w: embedding_momentum %g outside [0, 1]", ErrInvalidConfig, c.EmbeddingMomentum)
	case c.EmbeddingDim < 0:
		return fmt.Errorf("%w: embedding_dim must be >= 0, got %d", ErrInvalidConfig, c.EmbeddingDim)
	case c.MaxTracks < 0:
		return fmt.Errorf("%w: max_tracks must be >= 0, got %d", ErrInvalidConfig, c.MaxTracks)
	case !inUnit(c.WidenedGateRelief):
		return fmt.Errorf("%w: widened_gate_relief %g outside [0, 1]", ErrInvalidConfig, c.WidenedGateRelief)
	case c.MaxConsecutiveFaults < 1:
		return fmt.Errorf("%w: max_consecutive_faults must be >= 1, got %d", ErrInvalidConfig, c.MaxConsecutiveFaults)
	}
	if err := c.Motion.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.costConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) costConfig() l2geometry.CostConfig {
	return l2geometry.CostConfig{
		IoUFloor:         c.IoUFloor,
		AppearanceWeight: c.AppearanceWeight,
		Metric:           c.EmbeddingMetric,
		ClassAware:       c.ClassAware,
	}
}

func (c Config) widenedFloor() float64 { return c.IoUFloor * (1 - c.WidenedGateRelief) }

func (c Config) widenedGate() float64 {
	return c.MatchCostGate + (1-c.MatchCostGate)*c.WidenedGateRelief
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(tc *config.TuningConfig) (Config, error) {
	metric, err := l2geometry.ParseEmbeddingMetric(tc.GetEmbeddingMetric())
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	motion := l3motion.DefaultConfig()
	motion.StdWeightPosition = tc.GetStdWeightPosition()
	motion.StdWeightVelocity = tc.GetStdWeightVelocity()
	motion.MaxCovarianceDiag = tc.GetMaxCovarianceDiag()

	cfg := Config{
		IoUFloor:               tc.GetIoUFloor(),
		MatchCostGate:          tc.GetMatchCostGate(),
		MinHitsToConfirm:       tc.GetMinHitsToConfirm(),
		MaxOcclusionFrames:     tc.GetMaxOcclusionFrames(),
		MinDetectionConfidence: tc.GetMinDetectionConfidence(),
		AppearanceWeight:       tc.GetAppearanceWeight(),
		EmbeddingMetric:        metric,
		EmbeddingMomentum:      tc.GetEmbeddingMomentum(),
		EmbeddingDim:           tc.GetEmbeddingDim(),
		EmitLost:               tc.GetEmitLost(),
		ClassAware:             tc.GetClassAware(),
		MaxTracks:              tc.GetMaxTracks(),
		Motion:                 motion,
		WidenedGateRelief:      tc.GetWidenedGateRelief(),
		MaxConsecutiveFaults:   tc.GetMaxConsecutiveFaults(),
	}
	return cfg, cfg.Validate()
}
