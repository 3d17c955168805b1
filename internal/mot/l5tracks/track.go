package l5tracks

import (
	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l3motion"
)

// Track is one tracked object. Tracks live in the Manager arena; callers
// receive copies.
type Track struct {
	ID     uint64
	State  State
	Hits   int // Consecutive matched frames
	Misses int // Consecutive unmatched frames
	Age    int // Frames since creation; 0 on the creation frame

	Class string
	Score float64

	Motion l3motion.State
	Box    l1detections.Box // Current estimate (predicted or corrected)
	// Embedding is the smoothed, L2-normalised appearance vector.
	Embedding []float64

	FirstFrame   int64
	LastFrame    int64 // Last matched frame
	Observations int

	Faults  int  // Consecutive frames with a numeric fault
	Widened bool // Association gate relaxed for the next association

	lastGood       l1detections.Box
	faultedInFrame bool
	widenUsed      bool // Widened row already handed to an association
	everConfirmed  bool
}

// Snapshot is the immutable per-frame view of a track handed to sinks.
type Snapshot struct {
	ID     uint64           `json:"id"`
	Frame  int64            `json:"frame"`
	Box    l1detections.Box `json:"box"`
	VX     float64          `json:"vx"`
	VY     float64          `json:"vy"`
	Class  string           `json:"class,omitempty"`
	State  State            `json:"state"`
	Age    int              `json:"age"`
	Hits   int              `json:"hits"`
	Misses int              `json:"misses"`
	Score  float64          `json:"score"`
}

func (t *Track) snapshot(frame int64) Snapshot {
	vx, vy := l3motion.Velocity(t.Motion)
	return Snapshot{
		ID:     t.ID,
		Frame:  frame,
		Box:    t.Box,
		VX:     vx,
		VY:     vy,
		Class:  t.Class,
		State:  t.State,
		Age:    t.Age,
		Hits:   t.Hits,
		Misses: t.Misses,
		Score:  t.Score,
	}
}
