package l5tracks

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l2geometry"
	"github.com/banshee-data/pitchtrack/internal/mot/l3motion"
)

// ManagerConfig holds lifecycle and spawning parameters.
type ManagerConfig struct {
	Policy               Policy
	MinConfidence        float64 // Detections below this score never spawn tracks
	MaxTracks            int     // Live track cap; 0 means unlimited
	EmbeddingMomentum    float64 // Weight of the previous embedding in the EMA
	MaxConsecutiveFaults int     // Consecutive faulted frames before removal
}

// FaultRecord reports a numeric fault on one track.
type FaultRecord struct {
	TrackID uint64 `json:"track_id"`
	Err     error  `json:"-"`
	Removed bool   `json:"removed"`
}

// Manager owns all tracks of one tracker instance. Tracks are stored in a
// contiguous slice ordered by ascending ID, with an ID to slot index.
// A Manager is not safe for concurrent use.
type Manager struct {
	cfg    ManagerConfig
	filter *l3motion.Filter

	tracks []Track
	index  map[uint64]int
	nextID uint64
	frame  int64

	created, confirmed, removed int64
	boxFrames, emptyBoxFrames  int64
	faults                     int64
}

// NewManager returns an empty Manager. IDs start at 1.
func NewManager(cfg ManagerConfig, filter *l3motion.Filter) *Manager {
	if cfg.MaxConsecutiveFaults <= 0 {
		cfg.MaxConsecutiveFaults = 1
	}
	return &Manager{
		cfg:    cfg,
		filter: filter,
		index:  make(map[uint64]int),
		nextID: 1,
	}
}

// Len returns the number of tracks in the arena, including tracks removed
// this frame and not yet purged.
func (m *Manager) Len() int { return len(m.tracks) }

// Track returns a copy of the track in slot i.
func (m *Manager) Track(i int) Track { return m.tracks[i] }

// Get returns a copy of the track with the given ID.
func (m *Manager) Get(id uint64) (Track, bool) {
	i, ok := m.index[id]
	if !ok {
		return Track{}, false
	}
	return m.tracks[i], true
}

// Frame returns the current frame index.
func (m *Manager) Frame() int64 { return m.frame }

// BeginFrame sets the frame index used for snapshots and bookkeeping.
func (m *Manager) BeginFrame(frame int64) { m.frame = frame }

// PredictAll runs the prediction step on every live track and ages it.
func (m *Manager) PredictAll() []FaultRecord {
	var faults []FaultRecord
	for i := range m.tracks {
		tr := &m.tracks[i]
		if !tr.State.Live() {
			continue
		}
		tr.Age++
		if tr.State != Tentative {
			m.boxFrames++
		}
		box, err := m.filter.Predict(&tr.Motion)
		if err != nil {
			faults = append(faults, m.fault(i, fmt.Errorf("predict track %d: %w", tr.ID, err)))
			continue
		}
		tr.Box = box
	}
	return faults
}

// Rows returns one cost row per arena slot. Tracks with a relaxed gate get
// widenedFloor as their IoU floor; handing out a relaxed row spends it, so
// the gate returns to normal at the next EndFrame.
func (m *Manager) Rows(widenedFloor float64) []l2geometry.Row {
	rows := make([]l2geometry.Row, len(m.tracks))
	for i := range m.tracks {
		tr := &m.tracks[i]
		if tr.Widened {
			tr.widenUsed = true
		}
		rows[i] = l2geometry.Row{
			Box:           tr.Box,
			Embedding:     tr.Embedding,
			Class:         tr.Class,
			Floor:         widenedFloor,
			OverrideFloor: tr.Widened,
		}
	}
	return rows
}

// Hit applies a matched detection to slot i. A fault record is returned
// when the filter update failed and recovery ran instead.
func (m *Manager) Hit(i int, det l1detections.Detection) *FaultRecord {
	tr := &m.tracks[i]
	if !tr.State.Live() {
		return nil
	}
	var rec *FaultRecord
	if err := m.filter.Update(&tr.Motion, det.Box); err != nil {
		f := m.fault(i, fmt.Errorf("update track %d: %w", tr.ID, err))
		rec = &f
		if f.Removed {
			return rec
		}
	} else {
		tr.Box = m.filter.Box(tr.Motion)
		tr.lastGood = tr.Box
	}

	tr.Hits++
	tr.Misses = 0
	tr.LastFrame = m.frame
	tr.Observations++
	tr.Score = det.Score
	if det.Class != "" {
		tr.Class = det.Class
	}
	m.blendEmbedding(tr, det.Embedding)
	m.transition(tr, Event{Kind: Matched, Hits: tr.Hits, Misses: tr.Misses})
	return rec
}

// Miss records an unmatched frame for slot i.
func (m *Manager) Miss(i int) {
	tr := &m.tracks[i]
	if !tr.State.Live() {
		return
	}
	if tr.State != Tentative {
		m.emptyBoxFrames++
	}
	tr.Misses++
	tr.Hits = 0
	m.transition(tr, Event{Kind: Missed, Hits: tr.Hits, Misses: tr.Misses})
}

// Spawn creates a tentative track from an unmatched detection. It returns
// false when the detection is below the confidence gate, the live set is
// full, or the box cannot initialise a filter.
func (m *Manager) Spawn(det l1detections.Detection) (uint64, bool) {
	if det.Score < m.cfg.MinConfidence {
		return 0, false
	}
	if m.cfg.MaxTracks > 0 && m.liveCount() >= m.cfg.MaxTracks {
		return 0, false
	}
	state, err := m.filter.Initiate(det.Box)
	if err != nil {
		return 0, false
	}
	id := m.nextID
	m.nextID++

	tr := Track{
		ID:           id,
		State:        m.cfg.Policy.Initial(),
		Hits:         1,
		Class:        det.Class,
		Score:        det.Score,
		Motion:       state,
		Box:          m.filter.Box(state),
		FirstFrame:   m.frame,
		LastFrame:    m.frame,
		Observations: 1,
	}
	tr.lastGood = tr.Box
	m.blendEmbedding(&tr, det.Embedding)
	m.created++
	if tr.State == Confirmed {
		tr.everConfirmed = true
		m.confirmed++
	}
	m.index[id] = len(m.tracks)
	m.tracks = append(m.tracks, tr)
	return id, true
}

// EndFrame clears per-frame fault bookkeeping. A relaxed gate that took
// part in this frame's association is dropped, and tracks that went a
// frame without a fault have their fault streak reset.
func (m *Manager) EndFrame() {
	for i := range m.tracks {
		tr := &m.tracks[i]
		if tr.widenUsed {
			tr.Widened, tr.widenUsed = false, false
		}
		if tr.faultedInFrame {
			tr.faultedInFrame = false
			continue
		}
		tr.Faults = 0
	}
}

// Purge drops removed tracks from the arena and returns their final
// snapshots in ID order.
func (m *Manager) Purge() []Snapshot {
	var gone []Snapshot
	kept := m.tracks[:0]
	for i := range m.tracks {
		tr := m.tracks[i]
		if tr.State == Removed {
			gone = append(gone, tr.snapshot(m.frame))
			delete(m.index, tr.ID)
			m.removed++
			continue
		}
		kept = append(kept, tr)
	}
	// Zero the tail so dropped embeddings can be collected.
	for i := len(kept); i < len(m.tracks); i++ {
		m.tracks[i] = Track{}
	}
	m.tracks = kept
	for i := range m.tracks {
		m.index[m.tracks[i].ID] = i
	}
	return gone
}

// Snapshots returns snapshots of tracks whose state satisfies keep, in ID
// order. The result is never nil.
func (m *Manager) Snapshots(keep func(State) bool) []Snapshot {
	out := make([]Snapshot, 0, len(m.tracks))
	for i := range m.tracks {
		tr := &m.tracks[i]
		if keep == nil || keep(tr.State) {
			out = append(out, tr.snapshot(m.frame))
		}
	}
	return out
}

// Reset drops every track. The ID counter is kept so IDs are never reused.
func (m *Manager) Reset() {
	m.tracks = nil
	m.index = make(map[uint64]int)
}

func (m *Manager) liveCount() int {
	n := 0
	for i := range m.tracks {
		if m.tracks[i].State.Live() {
			n++
		}
	}
	return n
}

func (m *Manager) transition(tr *Track, ev Event) {
	tr.State = m.cfg.Policy.Next(tr.State, ev)
	if tr.State == Confirmed && !tr.everConfirmed {
		tr.everConfirmed = true
		m.confirmed++
	}
}

// fault recovers slot i from a numeric fault: the covariance is reset (or
// the whole state re-initialised from the last good box when the mean is
// unusable) and the gate is relaxed for the next association. Repeated
// faults on consecutive frames remove the track.
func (m *Manager) fault(i int, err error) FaultRecord {
	tr := &m.tracks[i]
	m.faults++
	if !tr.faultedInFrame {
		tr.Faults++
		tr.faultedInFrame = true
	}
	rec := FaultRecord{TrackID: tr.ID, Err: err}
	if tr.Faults >= m.cfg.MaxConsecutiveFaults {
		tr.State = m.cfg.Policy.Next(tr.State, Event{Kind: Fault})
		rec.Removed = true
		return rec
	}
	if l3motion.IsFinite(tr.Motion) {
		m.filter.ResetCovariance(&tr.Motion)
	} else if s, ierr := m.filter.Initiate(tr.lastGood); ierr == nil {
		tr.Motion = s
	} else {
		tr.State = m.cfg.Policy.Next(tr.State, Event{Kind: Fault})
		rec.Removed = true
		return rec
	}
	tr.Box = m.filter.Box(tr.Motion)
	tr.Widened, tr.widenUsed = true, false
	return rec
}

func (m *Manager) blendEmbedding(tr *Track, emb []float64) {
	if len(emb) == 0 {
		return
	}
	next := append([]float64(nil), emb...)
	l2geometry.Normalize(next)
	if len(tr.Embedding) != len(next) {
		tr.Embedding = next
		return
	}
	mom := m.cfg.EmbeddingMomentum
	floats.Scale(mom, tr.Embedding)
	floats.AddScaled(tr.Embedding, 1-mom, next)
	l2geometry.Normalize(tr.Embedding)
}
