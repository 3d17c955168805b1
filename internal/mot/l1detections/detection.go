package l1detections

import (
	"context"
	"io"
)

// Box is an axis-aligned bounding box with a top-left origin. Coordinates
// may be pixels or normalised units; the tracker never mixes the two.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// Area returns Width*Height, or 0 for boxes with a non-positive side.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the box centre.
func (b Box) Center() (cx, cy float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Foot returns the bottom-centre point, the usual ground contact point
// for players on a pitch.
func (b Box) Foot() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height
}

// XYXY returns the corner representation (x1, y1, x2, y2).
func (b Box) XYXY() (x1, y1, x2, y2 float64) {
	return b.X, b.Y, b.X + b.Width, b.Y + b.Height
}

// XYAH returns the centre/aspect/height representation used by the motion
// model. Aspect is width/height and is 0 when height is 0.
func (b Box) XYAH() [4]float64 {
	cx, cy := b.Center()
	var a float64
	if b.Height != 0 {
		a = b.Width / b.Height
	}
	return [4]float64{cx, cy, a, b.Height}
}

// BoxFromXYAH is the inverse of Box.XYAH.
func BoxFromXYAH(cx, cy, a, h float64) Box {
	w := a * h
	return Box{X: cx - w/2, Y: cy - h/2, Width: w, Height: h}
}

// Detection is a single detector output for one frame.
type Detection struct {
	Box       Box       `json:"box"`
	Score     float64   `json:"score"`
	Class     string    `json:"class,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

// HasEmbedding reports whether the detection carries an appearance vector.
func (d Detection) HasEmbedding() bool { return len(d.Embedding) > 0 }

// Frame is the set of detections for one video frame. Index is the source
// frame number; zero-valued indices are assigned sequentially by readers.
type Frame struct {
	Index      int64       `json:"index"`
	Detections []Detection `json:"detections"`
}

// Source yields frames in order. Next returns io.EOF after the last frame.
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

// SliceSource replays an in-memory sequence of frames.
type SliceSource struct {
	frames []Frame
	pos    int
}

// NewSliceSource returns a Source over frames. When no frame carries an
// index, frames are numbered by position.
func NewSliceSource(frames []Frame) *SliceSource {
	out := make([]Frame, len(frames))
	copy(out, frames)
	indexed := false
	for _, f := range out {
		if f.Index != 0 {
			indexed = true
			break
		}
	}
	if !indexed {
		for i := range out {
			out[i].Index = int64(i)
		}
	}
	return &SliceSource{frames: out}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.frames) {
		return Frame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}
