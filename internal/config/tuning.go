package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; nil fields fall back to the defaults returned by
// the Get* accessors, so partial files are safe.
type TuningConfig struct {
	// Association params
	IoUFloor          *float64 `json:"iou_floor,omitempty"`
	MatchCostGate     *float64 `json:"match_cost_gate,omitempty"`
	AppearanceWeight  *float64 `json:"appearance_weight,omitempty"`
	EmbeddingMetric   *string  `json:"embedding_metric,omitempty"` // "cosine" or "euclidean"
	EmbeddingMomentum *float64 `json:"embedding_momentum,omitempty"`
	EmbeddingDim      *int     `json:"embedding_dim,omitempty"`
	ClassAware        *bool    `json:"class_aware,omitempty"`

	// Lifecycle params
	MinHitsToConfirm       *int     `json:"min_hits_to_confirm,omitempty"`
	MaxOcclusionFrames     *int     `json:"max_occlusion_frames,omitempty"`
	MinDetectionConfidence *float64 `json:"min_detection_confidence,omitempty"`
	MaxTracks              *int     `json:"max_tracks,omitempty"`
	EmitLost               *bool    `json:"emit_lost,omitempty"`

	// Motion model params
	StdWeightPosition    *float64 `json:"std_weight_position,omitempty"`
	StdWeightVelocity    *float64 `json:"std_weight_velocity,omitempty"`
	MaxCovarianceDiag    *float64 `json:"max_covariance_diag,omitempty"`
	WidenedGateRelief    *float64 `json:"widened_gate_relief,omitempty"`
	MaxConsecutiveFaults *int     `json:"max_consecutive_faults,omitempty"`

	// Kinematics params (optional)
	FrameRate              *float64     `json:"frame_rate,omitempty"`
	SmoothingWindow        *int         `json:"smoothing_window,omitempty"`
	MaxReasonableSpeedKmph *float64     `json:"max_reasonable_speed_kmph,omitempty"`
	PixelsPerMeter         *float64     `json:"pixels_per_meter,omitempty"`
	PixelVertices          [][2]float64 `json:"pixel_vertices,omitempty"`
	WorldVertices          [][2]float64 `json:"world_vertices,omitempty"`
	SkipClasses            []string     `json:"skip_classes,omitempty"`

	// Monitor params
	TrailLength *int `json:"trail_length,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/mot/pipeline/
		"../../../../" + DefaultConfigPath,    // from internal/mot/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkUnit(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func checkPositive(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, *v)
	}
	return nil
}

func checkMinInt(name string, v *int, lo int) error {
	if v != nil && *v < lo {
		return fmt.Errorf("%s must be at least %d, got %d", name, lo, *v)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	checks := []error{
		checkUnit("iou_floor", c.IoUFloor),
		checkUnit("match_cost_gate", c.MatchCostGate),
		checkUnit("appearance_weight", c.AppearanceWeight),
		checkUnit("embedding_momentum", c.EmbeddingMomentum),
		checkUnit("min_detection_confidence", c.MinDetectionConfidence),
		checkUnit("widened_gate_relief", c.WidenedGateRelief),
		checkMinInt("embedding_dim", c.EmbeddingDim, 0),
		checkMinInt("min_hits_to_confirm", c.MinHitsToConfirm, 1),
		checkMinInt("max_occlusion_frames", c.MaxOcclusionFrames, 0),
		checkMinInt("max_tracks", c.MaxTracks, 0),
		checkMinInt("max_consecutive_faults", c.MaxConsecutiveFaults, 1),
		checkPositive("std_weight_position", c.StdWeightPosition),
		checkPositive("std_weight_velocity", c.StdWeightVelocity),
		checkPositive("max_covariance_diag", c.MaxCovarianceDiag),
		checkPositive("frame_rate", c.FrameRate),
		checkPositive("max_reasonable_speed_kmph", c.MaxReasonableSpeedKmph),
		checkPositive("pixels_per_meter", c.PixelsPerMeter),
		checkMinInt("smoothing_window", c.SmoothingWindow, 2),
		checkMinInt("trail_length", c.TrailLength, 1),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.EmbeddingMetric != nil {
		switch strings.ToLower(*c.EmbeddingMetric) {
		case "", "cosine", "euclidean":
		default:
			return fmt.Errorf("embedding_metric must be cosine or euclidean, got %q", *c.EmbeddingMetric)
		}
	}

	// The perspective transform needs both quadrilaterals or neither.
	if (len(c.PixelVertices) > 0) != (len(c.WorldVertices) > 0) {
		return fmt.Errorf("pixel_vertices and world_vertices must be set together")
	}
	if len(c.PixelVertices) > 0 && (len(c.PixelVertices) != 4 || len(c.WorldVertices) != 4) {
		return fmt.Errorf("pixel_vertices and world_vertices need exactly 4 points, got %d and %d",
			len(c.PixelVertices), len(c.WorldVertices))
	}

	return nil
}

// GetIoUFloor returns the iou_floor value or the default.
func (c *TuningConfig) GetIoUFloor() float64 {
	if c.IoUFloor == nil {
		return 0.2
	}
	return *c.IoUFloor
}

// GetMatchCostGate returns the match_cost_gate value or the default.
func (c *TuningConfig) GetMatchCostGate() float64 {
	if c.MatchCostGate == nil {
		return 0.8
	}
	return *c.MatchCostGate
}

// GetAppearanceWeight returns the appearance_weight value or the default.
func (c *TuningConfig) GetAppearanceWeight() float64 {
	if c.AppearanceWeight == nil {
		return 0 // default: appearance fusion disabled
	}
	return *c.AppearanceWeight
}

// GetEmbeddingMetric returns the embedding_metric value or the default.
func (c *TuningConfig) GetEmbeddingMetric() string {
	if c.EmbeddingMetric == nil || *c.EmbeddingMetric == "" {
		return "cosine"
	}
	return strings.ToLower(*c.EmbeddingMetric)
}

// GetEmbeddingMomentum returns the embedding_momentum value or the default.
func (c *TuningConfig) GetEmbeddingMomentum() float64 {
	if c.EmbeddingMomentum == nil {
		return 0.9
	}
	return *c.EmbeddingMomentum
}

// GetEmbeddingDim returns the embedding_dim value or the default.
func (c *TuningConfig) GetEmbeddingDim() int {
	if c.EmbeddingDim == nil {
		return 0 // default: learned from the first embedding seen
	}
	return *c.EmbeddingDim
}

// GetClassAware returns the class_aware value or the default.
func (c *TuningConfig) GetClassAware() bool {
	if c.ClassAware == nil {
		return false
	}
	return *c.ClassAware
}

// GetMinHitsToConfirm returns the min_hits_to_confirm value or the default.
func (c *TuningConfig) GetMinHitsToConfirm() int {
	if c.MinHitsToConfirm == nil {
		return 3
	}
	return *c.MinHitsToConfirm
}

// GetMaxOcclusionFrames returns the max_occlusion_frames value or the default.
func (c *TuningConfig) GetMaxOcclusionFrames() int {
	if c.MaxOcclusionFrames == nil {
		return 30
	}
	return *c.MaxOcclusionFrames
}

// GetMinDetectionConfidence returns the min_detection_confidence value or the default.
func (c *TuningConfig) GetMinDetectionConfidence() float64 {
	if c.MinDetectionConfidence == nil {
		return 0.5
	}
	return *c.MinDetectionConfidence
}

// GetMaxTracks returns the max_tracks value or the default.
func (c *TuningConfig) GetMaxTracks() int {
	if c.MaxTracks == nil {
		return 0 // default: unlimited
	}
	return *c.MaxTracks
}

// GetEmitLost returns the emit_lost value or the default.
func (c *TuningConfig) GetEmitLost() bool {
	if c.EmitLost == nil {
		return false
	}
	return *c.EmitLost
}

// GetStdWeightPosition returns the std_weight_position value or the default.
func (c *TuningConfig) GetStdWeightPosition() float64 {
	if c.StdWeightPosition == nil {
		return 1.0 / 20
	}
	return *c.StdWeightPosition
}

// GetStdWeightVelocity returns the std_weight_velocity value or the default.
func (c *TuningConfig) GetStdWeightVelocity() float64 {
	if c.StdWeightVelocity == nil {
		return 1.0 / 160
	}
	return *c.StdWeightVelocity
}

// GetMaxCovarianceDiag returns the max_covariance_diag value or the default.
func (c *TuningConfig) GetMaxCovarianceDiag() float64 {
	if c.MaxCovarianceDiag == nil {
		return 1e4
	}
	return *c.MaxCovarianceDiag
}

// GetWidenedGateRelief returns the widened_gate_relief value or the default.
func (c *TuningConfig) GetWidenedGateRelief() float64 {
	if c.WidenedGateRelief == nil {
		return 0.5
	}
	return *c.WidenedGateRelief
}

// GetMaxConsecutiveFaults returns the max_consecutive_faults value or the default.
func (c *TuningConfig) GetMaxConsecutiveFaults() int {
	if c.MaxConsecutiveFaults == nil {
		return 2
	}
	return *c.MaxConsecutiveFaults
}

// GetFrameRate returns the frame_rate value or the default.
func (c *TuningConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 30
	}
	return *c.FrameRate
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *TuningConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetMaxReasonableSpeedKmph returns the max_reasonable_speed_kmph value or the default.
func (c *TuningConfig) GetMaxReasonableSpeedKmph() float64 {
	if c.MaxReasonableSpeedKmph == nil {
		return 40
	}
	return *c.MaxReasonableSpeedKmph
}

// GetPixelsPerMeter returns the pixels_per_meter value or the default.
func (c *TuningConfig) GetPixelsPerMeter() float64 {
	if c.PixelsPerMeter == nil {
		return 10
	}
	return *c.PixelsPerMeter
}

// GetSkipClasses returns the skip_classes value or the default.
func (c *TuningConfig) GetSkipClasses() []string {
	if c.SkipClasses == nil {
		return []string{"ball", "referee"}
	}
	return c.SkipClasses
}

// GetTrailLength returns the trail_length value or the default.
func (c *TuningConfig) GetTrailLength() int {
	if c.TrailLength == nil {
		return 300
	}
	return *c.TrailLength
}
