package l2geometry

import (
	"math"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

// IoU returns the intersection-over-union of two axis-aligned boxes in
// [0, 1]. Boxes with zero or negative area overlap nothing.
func IoU(a, b l1detections.Box) float64 {
	areaA, areaB := a.Area(), b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}
	ax1, ay1, ax2, ay2 := a.XYXY()
	bx1, by1, bx2, by2 := b.XYXY()

	iw := math.Min(ax2, bx2) - math.Max(ax1, bx1)
	ih := math.Min(ay2, by2) - math.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := areaA + areaB - inter
	if union <= 0 || math.IsNaN(union) {
		return 0
	}
	return clamp01(inter / union)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
