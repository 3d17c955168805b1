package l1detections

import (
	"errors"
	"fmt"
	"math"
)

// Ingestion errors. A detection failing validation is dropped from its
// frame; the frame itself continues.
var (
	ErrNonFiniteBox       = errors.New("box has non-finite coordinates")
	ErrNegativeSize       = errors.New("box has negative width or height")
	ErrInvalidScore       = errors.New("score outside [0, 1]")
	ErrEmbeddingLength    = errors.New("embedding length mismatch")
	ErrNonFiniteEmbedding = errors.New("embedding has non-finite values")
)

// Rejection records a dropped detection by its index in the input frame.
type Rejection struct {
	Index int   `json:"index"`
	Err   error `json:"-"`
}

// Reason returns the rejection error text.
func (r Rejection) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate checks a single detection. embeddingDim is the expected
// embedding length; 0 accepts any length. Zero-size boxes are valid here and
// are clamped by the motion model.
func Validate(d Detection, embeddingDim int) error {
	b := d.Box
	if !finite(b.X) || !finite(b.Y) || !finite(b.Width) || !finite(b.Height) {
		return ErrNonFiniteBox
	}
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("%w: w=%g h=%g", ErrNegativeSize, b.Width, b.Height)
	}
	if math.IsNaN(d.Score) || d.Score < 0 || d.Score > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidScore, d.Score)
	}
	if len(d.Embedding) > 0 {
		if embeddingDim > 0 && len(d.Embedding) != embeddingDim {
			return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingLength, len(d.Embedding), embeddingDim)
		}
		for _, v := range d.Embedding {
			if !finite(v) {
				return ErrNonFiniteEmbedding
			}
		}
	}
	return nil
}

// Sanitize splits dets into the valid detections, in input order, and the
// rejections. origin[i] is the input index of valid[i].
func Sanitize(dets []Detection, embeddingDim int) (valid []Detection, origin []int, rejected []Rejection) {
	valid = make([]Detection, 0, len(dets))
	origin = make([]int, 0, len(dets))
	for i, d := range dets {
		if err := Validate(d, embeddingDim); err != nil {
			rejected = append(rejected, Rejection{Index: i, Err: err})
			continue
		}
		valid = append(valid, d)
		origin = append(origin, i)
	}
	return valid, origin, rejected
}

// Code returns a short stable label for the rejection cause, suitable as a
// metric label.
func (r Rejection) Code() string {
	switch {
	case errors.Is(r.Err, ErrNonFiniteBox):
		return "non_finite_box"
	case errors.Is(r.Err, ErrNegativeSize):
		return "negative_size"
	case errors.Is(r.Err, ErrInvalidScore):
		return "invalid_score"
	case errors.Is(r.Err, ErrEmbeddingLength):
		return "embedding_length"
	case errors.Is(r.Err, ErrNonFiniteEmbedding):
		return "non_finite_embedding"
	default:
		return "other"
	}
}
