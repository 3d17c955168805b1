package l6kinematics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/pitchtrack/internal/config"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
	"github.com/banshee-data/pitchtrack/internal/units"
)

const (
	positionHistory = 20
	speedHistory    = 10
	minForMedian    = 3

	maxWorldStep = 5.0 // metres per frame
	maxPixelStep = 2.0 // metres per frame, pixel fallback
)

// ErrInvalidConfig is returned by NewEstimator for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid kinematics configuration")

// Config controls the speed and distance estimator.
type Config struct {
	FrameRate       float64 // Frames per second of the source video
	SmoothingWindow int     // Positions used for one speed sample
	MaxSpeedKmph    float64 // Speed samples above this are discarded
	PixelsPerMeter  float64 // Fallback scale when no world position exists
	SkipClasses     []string

	// PixelVertices and WorldVertices calibrate the pitch transform. Both
	// empty disables it and every position uses the pixel fallback.
	PixelVertices [][2]float64
	WorldVertices [][2]float64
}

// DefaultConfig returns the broadcast football defaults without a pitch
// calibration.
func DefaultConfig() Config {
	return Config{
		FrameRate:       30,
		SmoothingWindow: 5,
		MaxSpeedKmph:    40,
		PixelsPerMeter:  10,
		SkipClasses:     []string{"ball", "referee"},
	}
}

// ConfigFromTuning builds a Config from the kinematics section of tc.
func ConfigFromTuning(tc *config.TuningConfig) Config {
	return Config{
		FrameRate:       tc.GetFrameRate(),
		SmoothingWindow: tc.GetSmoothingWindow(),
		MaxSpeedKmph:    tc.GetMaxReasonableSpeedKmph(),
		PixelsPerMeter:  tc.GetPixelsPerMeter(),
		SkipClasses:     tc.GetSkipClasses(),
		PixelVertices:   tc.PixelVertices,
		WorldVertices:   tc.WorldVertices,
	}
}

// Measurement is the latest displayed kinematics of one track.
type Measurement struct {
	TrackID        uint64  `json:"track_id"`
	Class          string  `json:"class,omitempty"`
	Frame          int64   `json:"frame"`
	SpeedKmph      float64 `json:"speed_kmph"`
	DistanceMeters float64 `json:"distance_m"`
	World          bool    `json:"world"` // Derived from pitch coordinates
}

// Stats summarises a track over its whole history.
type Stats struct {
	TrackID       uint64  `json:"track_id"`
	Class         string  `json:"class,omitempty"`
	TotalDistance float64 `json:"total_distance_m"`
	AvgSpeed      float64 `json:"avg_speed_kmph"`
	MaxSpeed      float64 `json:"max_speed_kmph"`
	CurrentSpeed  float64 `json:"current_speed_kmph"`
}

type sample struct {
	x, y  float64
	frame int64
	pixel bool
}

type history struct {
	class     string
	positions []sample  // Most recent last, at most positionHistory
	speeds    []float64 // Smoothed inputs, at most speedHistory
	distance  float64
	display   Measurement
	shown     bool
}

// Estimator accumulates per-track speed and distance. It is safe for
// concurrent use; Emit is normally called from one tracker goroutine while
// readers poll Measurement and Stats.
type Estimator struct {
	cfg  Config
	view *ViewTransformer
	skip map[string]bool

	mu     sync.RWMutex
	tracks map[uint64]*history
}

// NewEstimator validates cfg and returns an empty estimator.
func NewEstimator(cfg Config) (*Estimator, error) {
	switch {
	case !(cfg.FrameRate > 0):
		return nil, fmt.Errorf("%w: frame_rate must be positive, got %g", ErrInvalidConfig, cfg.FrameRate)
	case cfg.SmoothingWindow < 2:
		return nil, fmt.Errorf("%w: smoothing_window must be >= 2, got %d", ErrInvalidConfig, cfg.SmoothingWindow)
	case !(cfg.MaxSpeedKmph > 0):
		return nil, fmt.Errorf("%w: max_reasonable_speed_kmph must be positive, got %g", ErrInvalidConfig, cfg.MaxSpeedKmph)
	case !(cfg.PixelsPerMeter > 0):
		return nil, fmt.Errorf("%w: pixels_per_meter must be positive, got %g", ErrInvalidConfig, cfg.PixelsPerMeter)
	}
	e := &Estimator{
		cfg:    cfg,
		skip:   make(map[string]bool, len(cfg.SkipClasses)),
		tracks: make(map[uint64]*history),
	}
	for _, c := range cfg.SkipClasses {
		e.skip[c] = true
	}
	if len(cfg.PixelVertices) > 0 || len(cfg.WorldVertices) > 0 {
		vt, err := NewViewTransformer(cfg.PixelVertices, cfg.WorldVertices)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		e.view = vt
	}
	return e, nil
}

// Emit implements pipeline.Sink.
func (e *Estimator) Emit(_ context.Context, frame int64, tracks []l5tracks.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range tracks {
		e.observe(frame, tracks[i])
	}
	return nil
}

// Observe adds one snapshot and returns the track's displayed measurement.
// ok is false for skipped classes.
func (e *Estimator) Observe(frame int64, s l5tracks.Snapshot) (Measurement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observe(frame, s)
}

func (e *Estimator) observe(frame int64, s l5tracks.Snapshot) (Measurement, bool) {
	if e.skip[s.Class] {
		return Measurement{}, false
	}
	h := e.tracks[s.ID]
	if h == nil {
		h = &history{}
		e.tracks[s.ID] = h
	}
	if s.Class != "" {
		h.class = s.Class
	}

	fx, fy := s.Box.Foot()
	cur := sample{x: fx / e.cfg.PixelsPerMeter, y: fy / e.cfg.PixelsPerMeter, frame: frame, pixel: true}
	if e.view != nil {
		if wx, wy, ok := e.view.Transform(fx, fy); ok {
			cur = sample{x: wx, y: wy, frame: frame}
		}
	}
	h.positions = append(h.positions, cur)
	if len(h.positions) > positionHistory {
		h.positions = h.positions[len(h.positions)-positionHistory:]
	}

	if len(h.positions) < 2 {
		if !h.shown {
			h.display = Measurement{TrackID: s.ID, Class: h.class, Frame: frame, World: !cur.pixel}
			h.shown = true
		}
		return h.display, true
	}

	window := h.positions
	if len(window) > e.cfg.SmoothingWindow {
		window = window[len(window)-e.cfg.SmoothingWindow:]
	}
	for _, p := range window {
		if p.pixel != cur.pixel {
			// Mixed coordinate systems; keep showing the last value.
			return h.display, true
		}
	}

	speed, ok := e.windowSpeed(window)
	if ok {
		h.speeds = append(h.speeds, speed)
		if len(h.speeds) > speedHistory {
			h.speeds = h.speeds[len(h.speeds)-speedHistory:]
		}
		if len(h.speeds) >= minForMedian {
			speed = median(h.speeds)
		}
	}

	prev := h.positions[len(h.positions)-2]
	if prev.pixel == cur.pixel {
		step := math.Hypot(cur.x-prev.x, cur.y-prev.y)
		limit := maxWorldStep
		if cur.pixel {
			limit = maxPixelStep
		}
		if step <= limit {
			h.distance += step
		}
	}

	if ok {
		h.display = Measurement{
			TrackID:        s.ID,
			Class:          h.class,
			Frame:          frame,
			SpeedKmph:      speed,
			DistanceMeters: h.distance,
			World:          !cur.pixel,
		}
		h.shown = true
	}
	return h.display, true
}

// windowSpeed is the path length over the window divided by its duration,
// in km/h. Implausible speeds are rejected.
func (e *Estimator) windowSpeed(window []sample) (float64, bool) {
	var dist float64
	for i := 1; i < len(window); i++ {
		dist += math.Hypot(window[i].x-window[i-1].x, window[i].y-window[i-1].y)
	}
	frames := int(window[len(window)-1].frame - window[0].frame)
	if frames <= 0 {
		return 0, false
	}
	kmph := units.ConvertSpeed(units.SpeedMPS(dist, frames, e.cfg.FrameRate), units.KMPH)
	if kmph > e.cfg.MaxSpeedKmph {
		return 0, false
	}
	return kmph, true
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Measurement returns the displayed measurement of a track.
func (e *Estimator) Measurement(trackID uint64) (Measurement, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.tracks[trackID]
	if !ok || !h.shown {
		return Measurement{}, false
	}
	return h.display, true
}

// Stats returns per-track summaries in ascending ID order.
func (e *Estimator) Stats() []Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Stats, 0, len(e.tracks))
	for id, h := range e.tracks {
		st := Stats{TrackID: id, Class: h.class, TotalDistance: h.distance}
		if len(h.speeds) > 0 {
			st.AvgSpeed = stat.Mean(h.speeds, nil)
			st.MaxSpeed = floats.Max(h.speeds)
			st.CurrentSpeed = h.speeds[len(h.speeds)-1]
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Reset forgets one track, or every track when trackID is 0.
func (e *Estimator) Reset(trackID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if trackID == 0 {
		e.tracks = make(map[uint64]*history)
		return
	}
	delete(e.tracks, trackID)
}
