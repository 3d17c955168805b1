// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// Det builds a detection with the given box and score.
func Det(x, y, w, h, score float64) l1detections.Detection {
	return l1detections.Detection{
		Box:   l1detections.Box{X: x, Y: y, Width: w, Height: h},
		Score: score,
	}
}

// ConstantVelocity returns n boxes starting at start and moving by
// (vx, vy) pixels per frame.
func ConstantVelocity(start l1detections.Box, vx, vy float64, n int) []l1detections.Box {
	out := make([]l1detections.Box, n)
	for i := range out {
		b := start
		b.X += vx * float64(i)
		b.Y += vy * float64(i)
		out[i] = b
	}
	return out
}

// Frames zips paths into frames: frame i holds box i of every path that is
// long enough, scored 0.9 and labelled "player". Frames are indexed from 0.
func Frames(paths ...[]l1detections.Box) []l1detections.Frame {
	n := 0
	for _, p := range paths {
		if len(p) > n {
			n = len(p)
		}
	}
	frames := make([]l1detections.Frame, n)
	for i := range frames {
		frames[i].Index = int64(i)
		for _, p := range paths {
			if i < len(p) {
				frames[i].Detections = append(frames[i].Detections, l1detections.Detection{
					Box:   p[i],
					Score: 0.9,
					Class: "player",
				})
			}
		}
	}
	return frames
}

// Drop returns a copy of frames with all detections removed from the
// frames whose index is in [from, to).
func Drop(frames []l1detections.Frame, from, to int64) []l1detections.Frame {
	out := make([]l1detections.Frame, len(frames))
	for i, f := range frames {
		out[i] = l1detections.Frame{Index: f.Index}
		if f.Index < from || f.Index >= to {
			out[i].Detections = append([]l1detections.Detection(nil), f.Detections...)
		}
	}
	return out
}
