package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
	"github.com/banshee-data/pitchtrack/internal/mot/pipeline"
	"github.com/banshee-data/pitchtrack/internal/timeutil"
)

// DefaultTrailLength is the number of points kept per track trail.
const DefaultTrailLength = 300

// TrailPoint is a track's foot position in one frame, in pixels.
type TrailPoint struct {
	Frame int64   `json:"frame"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Trail is the recent trajectory of one track.
type Trail struct {
	TrackID uint64       `json:"track_id"`
	Class   string       `json:"class,omitempty"`
	Points  []TrailPoint `json:"points"`
}

// StreamView is the latest frame of one stream.
type StreamView struct {
	Stream  string              `json:"stream"`
	Frame   int64               `json:"frame"`
	Frames  int64               `json:"frames"` // Frames received so far
	Tracks  []l5tracks.Snapshot `json:"tracks"`
	Updated time.Time           `json:"updated"`
}

type streamState struct {
	view   StreamView
	trails map[uint64]*Trail
}

// Board holds copies of the latest output of every stream. It is the one
// structure shared between tracker goroutines and HTTP handlers.
type Board struct {
	trailLen int
	clock    timeutil.Clock

	mu      sync.RWMutex
	streams map[string]*streamState
}

// NewBoard returns an empty board keeping trailLen points per trail.
// Non-positive values use DefaultTrailLength.
func NewBoard(trailLen int) *Board {
	if trailLen <= 0 {
		trailLen = DefaultTrailLength
	}
	return &Board{
		trailLen: trailLen,
		clock:    timeutil.RealClock{},
		streams:  make(map[string]*streamState),
	}
}

// Sink returns the pipeline sink feeding stream into the board.
func (b *Board) Sink(stream string) pipeline.Sink {
	return pipeline.SinkFunc(func(_ context.Context, frame int64, tracks []l5tracks.Snapshot) error {
		b.update(stream, frame, tracks)
		return nil
	})
}

// SinkFactory wraps next so every stream also feeds the board. next may be
// nil.
func (b *Board) SinkFactory(next pipeline.SinkFactory) pipeline.SinkFactory {
	return func(stream string) ([]pipeline.Sink, error) {
		var sinks []pipeline.Sink
		if next != nil {
			s, err := next(stream)
			if err != nil {
				return nil, err
			}
			sinks = s
		}
		return append(sinks, b.Sink(stream)), nil
	}
}

func (b *Board) update(stream string, frame int64, tracks []l5tracks.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.streams[stream]
	if st == nil {
		st = &streamState{trails: make(map[uint64]*Trail)}
		b.streams[stream] = st
	}
	st.view.Stream = stream
	st.view.Frame = frame
	st.view.Frames++
	st.view.Updated = b.clock.Now()
	st.view.Tracks = append(make([]l5tracks.Snapshot, 0, len(tracks)), tracks...)

	for _, s := range tracks {
		tr := st.trails[s.ID]
		if tr == nil {
			tr = &Trail{TrackID: s.ID}
			st.trails[s.ID] = tr
		}
		if s.Class != "" {
			tr.Class = s.Class
		}
		x, y := s.Box.Foot()
		tr.Points = append(tr.Points, TrailPoint{Frame: frame, X: x, Y: y})
		if len(tr.Points) > b.trailLen {
			tr.Points = append(tr.Points[:0:0], tr.Points[len(tr.Points)-b.trailLen:]...)
		}
	}
	// Trails of tracks unseen for a whole trail length are dropped.
	for id, tr := range st.trails {
		if last := tr.Points[len(tr.Points)-1].Frame; frame-last >= int64(b.trailLen) {
			delete(st.trails, id)
		}
	}
}

// Streams returns the known stream names in sorted order.
func (b *Board) Streams() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.streams))
	for name := range b.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest returns a copy of the stream's latest frame.
func (b *Board) Latest(stream string) (StreamView, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.streams[stream]
	if !ok {
		return StreamView{}, false
	}
	v := st.view
	v.Tracks = append([]l5tracks.Snapshot{}, st.view.Tracks...)
	return v, true
}

// Trails returns copies of the stream's trails in track ID order.
func (b *Board) Trails(stream string) ([]Trail, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.streams[stream]
	if !ok {
		return nil, false
	}
	out := make([]Trail, 0, len(st.trails))
	for _, tr := range st.trails {
		out = append(out, Trail{
			TrackID: tr.TrackID,
			Class:   tr.Class,
			Points:  append([]TrailPoint(nil), tr.Points...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out, true
}
