package pipeline

import (
	"math"
	"time"

	"github.com/banshee-data/pitchtrack/internal/monitoring"
	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l2geometry"
	"github.com/banshee-data/pitchtrack/internal/mot/l3motion"
	"github.com/banshee-data/pitchtrack/internal/mot/l4assign"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
)

// Pair is one accepted track-detection association.
type Pair struct {
	TrackID   uint64  `json:"track_id"`
	Detection int     `json:"detection"` // Index in the input frame
	Cost      float64 `json:"cost"`
}

// Association is the frame's assignment expressed in track IDs and input
// detection indices. Every track that was live at association time and
// every valid detection appears exactly once.
type Association struct {
	Pairs               []Pair   `json:"pairs"`
	UnmatchedTracks     []uint64 `json:"unmatched_tracks"`
	UnmatchedDetections []int    `json:"unmatched_detections"`
}

// FrameResult is the outcome of one ProcessFrame call.
type FrameResult struct {
	Frame int64 `json:"frame"`
	// Tracks holds confirmed tracks (and lost tracks when EmitLost is set)
	// in ascending ID order. It is never nil.
	Tracks []l5tracks.Snapshot `json:"tracks"`
	// Removed holds the final snapshots of tracks that left this frame.
	Removed    []l5tracks.Snapshot      `json:"removed,omitempty"`
	Rejected   []l1detections.Rejection `json:"rejected,omitempty"`
	Faults     []l5tracks.FaultRecord   `json:"faults,omitempty"`
	Assignment Association              `json:"assignment"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogf sets the diagnostic logger. The default is monitoring.Logf.
func WithLogf(f func(format string, v ...interface{})) Option {
	return func(t *Tracker) {
		if f != nil {
			t.logf = f
		}
	}
}

// WithMetrics reports per-frame statistics to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithStreamID labels logs and metrics with the stream name.
func WithStreamID(id string) Option {
	return func(t *Tracker) { t.stream = id }
}

// Tracker is a single-stream multi-object tracker. Frames must be
// processed sequentially; a Tracker is not safe for concurrent use.
type Tracker struct {
	cfg    Config
	engine *l2geometry.Engine
	mgr    *l5tracks.Manager

	logf    func(format string, v ...interface{})
	metrics *monitoring.Metrics
	stream  string

	embDim  int
	frame   int64
	started bool
}

// NewTracker validates cfg and returns an empty tracker.
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := l2geometry.NewEngine(cfg.costConfig())
	if err != nil {
		return nil, err
	}
	mgr := l5tracks.NewManager(l5tracks.ManagerConfig{
		Policy: l5tracks.Policy{
			MinHits:      cfg.MinHitsToConfirm,
			MaxOcclusion: cfg.MaxOcclusionFrames,
		},
		MinConfidence:        cfg.MinDetectionConfidence,
		MaxTracks:            cfg.MaxTracks,
		EmbeddingMomentum:    cfg.EmbeddingMomentum,
		MaxConsecutiveFaults: cfg.MaxConsecutiveFaults,
	}, l3motion.NewFilter(cfg.Motion))

	t := &Tracker{
		cfg:    cfg,
		engine: engine,
		mgr:    mgr,
		logf:   monitoring.Logf,
		embDim: cfg.EmbeddingDim,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config { return t.cfg }

// StreamID returns the stream label set with WithStreamID.
func (t *Tracker) StreamID() string { return t.stream }

// LastFrame returns the index of the last processed frame and whether any
// frame has been processed.
func (t *Tracker) LastFrame() (int64, bool) { return t.frame, t.started }

// ProcessFrame advances the tracker by one frame, numbering it after the
// previous frame (the first frame is 0).
func (t *Tracker) ProcessFrame(dets []l1detections.Detection) FrameResult {
	idx := int64(0)
	if t.started {
		idx = t.frame + 1
	}
	return t.ProcessFrameAt(idx, dets)
}

// ProcessFrameAt advances the tracker by one frame labelled idx. Frame
// indices only label output; an index that does not increase is logged
// and replaced by the previous index plus one.
func (t *Tracker) ProcessFrameAt(idx int64, dets []l1detections.Detection) FrameResult {
	start := time.Now()
	if t.started && idx <= t.frame {
		t.logf("frame index %d not after %d; using %d", idx, t.frame, t.frame+1)
		idx = t.frame + 1
	}
	t.frame, t.started = idx, true

	t.learnEmbeddingDim(dets)
	valid, origin, rejected := l1detections.Sanitize(dets, t.embDim)
	for _, r := range rejected {
		t.logf("warning: frame %d: dropped detection %d: %v", idx, r.Index, r.Err)
	}

	t.mgr.BeginFrame(idx)
	faults := t.mgr.PredictAll()

	// Association. Rows are arena slots; tracks removed by a prediction
	// fault are excluded so no detection is spent on them.
	rows := t.mgr.Rows(t.cfg.widenedFloor())
	cost := t.engine.Matrix(rows, valid)
	gates := make([]float64, len(rows))
	for i := range gates {
		tr := t.mgr.Track(i)
		switch {
		case !tr.State.Live():
			gates[i] = math.Inf(-1)
		case tr.Widened:
			gates[i] = t.cfg.widenedGate()
		default:
			gates[i] = t.cfg.MatchCostGate
		}
	}
	res := l4assign.SolveGated(cost, len(valid), gates)

	assoc := Association{
		Pairs:               make([]Pair, 0, len(res.Matches)),
		UnmatchedTracks:     []uint64{},
		UnmatchedDetections: []int{},
	}
	for _, m := range res.Matches {
		id := t.mgr.Track(m.Row).ID
		assoc.Pairs = append(assoc.Pairs, Pair{TrackID: id, Detection: origin[m.Col], Cost: m.Cost})
		if rec := t.mgr.Hit(m.Row, valid[m.Col]); rec != nil {
			faults = append(faults, *rec)
		}
	}
	for _, i := range res.UnmatchedRows {
		tr := t.mgr.Track(i)
		if !tr.State.Live() {
			continue
		}
		assoc.UnmatchedTracks = append(assoc.UnmatchedTracks, tr.ID)
		t.mgr.Miss(i)
	}
	created := 0
	for _, j := range res.UnmatchedCols {
		assoc.UnmatchedDetections = append(assoc.UnmatchedDetections, origin[j])
		if _, ok := t.mgr.Spawn(valid[j]); ok {
			created++
		}
	}
	for _, f := range faults {
		if f.Removed {
			t.logf("warning: frame %d: track %d removed after numeric fault: %v", idx, f.TrackID, f.Err)
		} else {
			t.logf("warning: frame %d: track %d recovered from numeric fault: %v", idx, f.TrackID, f.Err)
		}
	}

	t.mgr.EndFrame()
	removed := t.mgr.Purge()

	out := FrameResult{
		Frame:      idx,
		Tracks:     t.mgr.Snapshots(t.emitted),
		Removed:    removed,
		Rejected:   rejected,
		Faults:     faults,
		Assignment: assoc,
	}
	t.observe(out, len(dets), created, time.Since(start))
	return out
}

func (t *Tracker) emitted(s l5tracks.State) bool {
	return s == l5tracks.Confirmed || (t.cfg.EmitLost && s == l5tracks.Lost)
}

// learnEmbeddingDim fixes the expected embedding length from the first
// well-formed embedding when none is configured.
func (t *Tracker) learnEmbeddingDim(dets []l1detections.Detection) {
	if t.embDim > 0 {
		return
	}
	for _, d := range dets {
		if len(d.Embedding) > 0 && l1detections.Validate(d, 0) == nil {
			t.embDim = len(d.Embedding)
			t.logf("embedding dimension set to %d", t.embDim)
			return
		}
	}
}

func (t *Tracker) observe(out FrameResult, detections, created int, d time.Duration) {
	if t.metrics == nil {
		return
	}
	stats := monitoring.FrameStats{
		Stream:     t.stream,
		Detections: detections,
		Created:    created,
		Removed:    len(out.Removed),
		Faults:     len(out.Faults),
		Duration:   d,
	}
	if len(out.Rejected) > 0 {
		stats.Rejected = make(map[string]int)
		for _, r := range out.Rejected {
			stats.Rejected[r.Code()]++
		}
	}
	for i := 0; i < t.mgr.Len(); i++ {
		switch t.mgr.Track(i).State {
		case l5tracks.Tentative:
			stats.Tentative++
		case l5tracks.Confirmed:
			stats.Confirmed++
		case l5tracks.Lost:
			stats.Lost++
		}
	}
	t.metrics.ObserveFrame(stats)
}

// Live returns snapshots of every live track, whatever its state.
func (t *Tracker) Live() []l5tracks.Snapshot {
	return t.mgr.Snapshots(func(s l5tracks.State) bool { return s.Live() })
}

// Reset clears all tracks. Track IDs keep increasing across resets, and
// the learned embedding dimension is forgotten unless configured.
func (t *Tracker) Reset() {
	t.mgr.Reset()
	t.embDim = t.cfg.EmbeddingDim
}

// Metrics returns lifecycle counters for the tracker's lifetime.
func (t *Tracker) Metrics() l5tracks.Metrics { return t.mgr.Metrics() }
