package pipeline

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitchtrack/internal/config"
	"github.com/banshee-data/pitchtrack/internal/monitoring"
	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
	"github.com/banshee-data/pitchtrack/internal/testutil"
)

func quiet(string, ...interface{}) {}

func newTestTracker(t *testing.T, mutate func(*Config)) *Tracker {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := NewTracker(cfg, WithLogf(quiet))
	require.NoError(t, err)
	return tr
}

func box(x, y, w, h float64) l1detections.Box {
	return l1detections.Box{X: x, Y: y, Width: w, Height: h}
}

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

func TestConfig_DefaultsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"iou floor above one", func(c *Config) { c.IoUFloor = 1.5 }},
		{"negative gate", func(c *Config) { c.MatchCostGate = -0.1 }},
		{"zero min hits", func(c *Config) { c.MinHitsToConfirm = 0 }},
		{"negative occlusion", func(c *Config) { c.MaxOcclusionFrames = -1 }},
		{"nan confidence", func(c *Config) { c.MinDetectionConfidence = math.NaN() }},
		{"appearance weight", func(c *Config) { c.AppearanceWeight = 2 }},
		{"momentum", func(c *Config) { c.EmbeddingMomentum = -1 }},
		{"embedding dim", func(c *Config) { c.EmbeddingDim = -3 }},
		{"max tracks", func(c *Config) { c.MaxTracks = -1 }},
		{"relief", func(c *Config) { c.WidenedGateRelief = 1.1 }},
		{"fault budget", func(c *Config) { c.MaxConsecutiveFaults = 0 }},
		{"motion weight", func(c *Config) { c.Motion.StdWeightPosition = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewTracker(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigFromTuning_MatchesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ConfigFromTuning(config.EmptyTuningConfig())
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("ConfigFromTuning(empty) mismatch (-want +got):\n%s", diff)
	}

	fromFile, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), fromFile); diff != "" {
		t.Errorf("ConfigFromTuning(defaults file) mismatch (-want +got):\n%s", diff)
	}
}

func TestWidenedGate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.InDelta(t, 0.1, cfg.widenedFloor(), 1e-12)
	assert.InDelta(t, 0.9, cfg.widenedGate(), 1e-12)

	cfg.WidenedGateRelief = 0
	assert.Equal(t, cfg.IoUFloor, cfg.widenedFloor())
	assert.Equal(t, cfg.MatchCostGate, cfg.widenedGate())
}

// ---------------------------------------------------------------------------
// Frame processing
// ---------------------------------------------------------------------------

func TestTracker_EndToEndScenario(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, func(c *Config) {
		c.MinHitsToConfirm = 3
		c.MaxOcclusionFrames = 5
	})
	det := []l1detections.Detection{testutil.Det(10, 10, 20, 20, 0.9)}

	res := tr.ProcessFrameAt(1, det)
	assert.Empty(t, res.Tracks, "tentative tracks are not emitted")
	live := tr.Live()
	require.Len(t, live, 1)
	assert.Equal(t, l5tracks.Tentative, live[0].State)
	assert.Equal(t, uint64(1), live[0].ID)
	assert.InDelta(t, 10, live[0].Box.X, 1e-9)
	assert.InDelta(t, 10, live[0].Box.Y, 1e-9)
	assert.InDelta(t, 20, live[0].Box.Width, 1e-9)
	assert.InDelta(t, 20, live[0].Box.Height, 1e-9)

	res = tr.ProcessFrameAt(2, det)
	assert.Empty(t, res.Tracks)
	assert.Equal(t, l5tracks.Tentative, tr.Live()[0].State)

	res = tr.ProcessFrameAt(3, det)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, l5tracks.Confirmed, res.Tracks[0].State)
	assert.Equal(t, uint64(1), res.Tracks[0].ID)

	res = tr.ProcessFrameAt(4, nil)
	assert.Empty(t, res.Tracks, "lost tracks are not emitted by default")
	live = tr.Live()
	require.Len(t, live, 1)
	assert.Equal(t, l5tracks.Lost, live[0].State)
	assert.Equal(t, 1, live[0].Misses)
	assert.InDelta(t, 10, live[0].Box.X, 1e-6)
	assert.InDelta(t, 10, live[0].Box.Y, 1e-6)
	assert.InDelta(t, 20, live[0].Box.Width, 1e-6)
	assert.InDelta(t, 20, live[0].Box.Height, 1e-6)

	var removedAt int64 = -1
	for f := int64(5); f <= 10; f++ {
		res = tr.ProcessFrameAt(f, nil)
		for _, r := range res.Removed {
			if r.ID == 1 {
				removedAt = f
				assert.Equal(t, l5tracks.Removed, r.State)
			}
		}
	}
	assert.Equal(t, int64(9), removedAt, "removed on the sixth consecutive miss")
	assert.Empty(t, res.Tracks)
	assert.Empty(t, tr.Live())
	assert.NotNil(t, res.Tracks)
}

func TestTracker_FirstFrameSpawnsFromEmptyTrackSet(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, nil)
	res := tr.ProcessFrameAt(0, []l1detections.Detection{
		testutil.Det(0, 0, 10, 10, 0.9),
		testutil.Det(50, 50, 10, 10, 0.9),
	})
	assert.Empty(t, res.Assignment.Pairs)
	assert.Empty(t, res.Assignment.UnmatchedTracks)
	assert.Equal(t, []int{0, 1}, res.Assignment.UnmatchedDetections)
	live := tr.Live()
	require.Len(t, live, 2)
	assert.Equal(t, l5tracks.Tentative, live[0].State)
	assert.Equal(t, l5tracks.Tentative, live[1].State)
}

// faultScenario confirms a track on a fixed box for two frames, then offers
// a detection shifted 14px so its IoU (6/34) sits between the widened
// floor and the normal one, and its cost between the two gates.
func faultScenario(t *testing.T) (*Tracker, []l1detections.Detection) {
	t.Helper()
	tr := newTestTracker(t, nil)
	tr.ProcessFrameAt(1, []l1detections.Detection{testutil.Det(10, 10, 20, 20, 0.9)})
	res := tr.ProcessFrameAt(2, []l1detections.Detection{testutil.Det(10, 10, 20, 20, 0.9)})
	require.Len(t, res.Assignment.Pairs, 1)
	return tr, []l1detections.Detection{testutil.Det(24, 10, 20, 20, 0.9)}
}

func TestTracker_ShiftedDetectionRejectedWithoutFault(t *testing.T) {
	t.Parallel()

	tr, shifted := faultScenario(t)
	res := tr.ProcessFrameAt(3, shifted)
	assert.Empty(t, res.Assignment.Pairs)
	assert.Equal(t, []uint64{1}, res.Assignment.UnmatchedTracks)
	assert.Equal(t, []int{0}, res.Assignment.UnmatchedDetections)
	assert.Empty(t, res.Faults)
}

func TestTracker_FaultWidensGateForOneAssociation(t *testing.T) {
	t.Parallel()

	tr, shifted := faultScenario(t)
	require.True(t, tr.mgr.SetMotionMean(1, 4, math.NaN()))

	res := tr.ProcessFrameAt(3, shifted)
	require.Len(t, res.Faults, 1)
	assert.Equal(t, uint64(1), res.Faults[0].TrackID)
	assert.False(t, res.Faults[0].Removed)
	require.Len(t, res.Assignment.Pairs, 1)
	assert.Equal(t, uint64(1), res.Assignment.Pairs[0].TrackID)
	assert.InDelta(t, 1-6.0/34, res.Assignment.Pairs[0].Cost, 1e-6)
	assert.Empty(t, res.Assignment.UnmatchedDetections)
	assert.Empty(t, res.Removed)

	got, ok := tr.mgr.Get(1)
	require.True(t, ok)
	assert.False(t, got.Widened, "relaxed gate is spent by this frame's association")
	assert.Equal(t, 1, got.Faults)
}

func TestTracker_ConsecutiveFaultsRemoveTrack(t *testing.T) {
	t.Parallel()

	tr, shifted := faultScenario(t)
	require.True(t, tr.mgr.SetMotionMean(1, 4, math.NaN()))
	res := tr.ProcessFrameAt(3, shifted)
	require.Len(t, res.Faults, 1)
	require.False(t, res.Faults[0].Removed)

	require.True(t, tr.mgr.SetMotionMean(1, 4, math.NaN()))
	res = tr.ProcessFrameAt(4, shifted)
	require.Len(t, res.Faults, 1)
	assert.True(t, res.Faults[0].Removed)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, uint64(1), res.Removed[0].ID)
	assert.Equal(t, l5tracks.Removed, res.Removed[0].State)

	// The removed track takes no part in association; its detection seeds
	// a fresh track.
	assert.Empty(t, res.Assignment.Pairs)
	assert.Empty(t, res.Assignment.UnmatchedTracks)
	assert.Equal(t, []int{0}, res.Assignment.UnmatchedDetections)
	_, ok := tr.mgr.Get(1)
	assert.False(t, ok)
	live := tr.Live()
	require.Len(t, live, 1)
	assert.Equal(t, uint64(2), live[0].ID)
}

func TestTracker_EmitLost(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, func(c *Config) {
		c.MinHitsToConfirm = 1
		c.EmitLost = true
	})
	det := []l1detections.Detection{testutil.Det(0, 0, 30, 60, 0.9)}
	res := tr.ProcessFrame(det)
	require.Len(t, res.Tracks, 1, "min hits of one confirms on creation")
	assert.Equal(t, l5tracks.Confirmed, res.Tracks[0].State)

	res = tr.ProcessFrame(nil)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, l5tracks.Lost, res.Tracks[0].State)
}

func TestTracker_PredictionOnlyFramesAddMisses(t *testing.T) {
	t.Parallel()

	const maxOcc = 7
	tr := newTestTracker(t, func(c *Config) {
		c.MinHitsToConfirm = 2
		c.MaxOcclusionFrames = maxOcc
	})
	det := []l1detections.Detection{testutil.Det(100, 100, 40, 80, 0.95)}
	tr.ProcessFrame(det)
	tr.ProcessFrame(det)
	require.Equal(t, l5tracks.Confirmed, tr.Live()[0].State)

	for n := 1; n <= maxOcc; n++ {
		tr.ProcessFrame(nil)
		live := tr.Live()
		require.Len(t, live, 1, "removed too early after %d misses", n)
		assert.Equal(t, n, live[0].Misses)
		assert.Equal(t, l5tracks.Lost, live[0].State)
	}
	res := tr.ProcessFrame(nil)
	require.Len(t, res.Removed, 1)
	assert.Empty(t, tr.Live())
}

func TestTracker_ConstantVelocityConfirmsAtMinHits(t *testing.T) {
	t.Parallel()

	const minHits = 4
	tr := newTestTracker(t, func(c *Config) { c.MinHitsToConfirm = minHits })
	path := testutil.ConstantVelocity(box(50, 200, 40, 80), 3, 1, 40)

	var costs []float64
	for i, b := range path {
		res := tr.ProcessFrame([]l1detections.Detection{{Box: b, Score: 0.9}})
		live := tr.Live()
		require.Len(t, live, 1, "frame %d", i)
		assert.Equal(t, uint64(1), live[0].ID)
		if i+1 < minHits {
			assert.Equal(t, l5tracks.Tentative, live[0].State, "frame %d", i)
			assert.Empty(t, res.Tracks)
		} else {
			assert.Equal(t, l5tracks.Confirmed, live[0].State, "frame %d", i)
		}
		if i == 0 {
			assert.Empty(t, res.Assignment.Pairs)
			continue
		}
		require.Len(t, res.Assignment.Pairs, 1, "frame %d", i)
		costs = append(costs, res.Assignment.Pairs[0].Cost)
	}
	// Association cost is 1-IoU against the prediction; it must shrink as
	// the filter learns the velocity.
	require.NotEmpty(t, costs)
	assert.Greater(t, costs[0], costs[len(costs)-1])
	assert.Less(t, costs[len(costs)-1], 0.05)

	last := tr.Live()[0]
	assert.InDelta(t, 3, last.VX, 0.3)
	assert.InDelta(t, 1, last.VY, 0.3)
}

func TestTracker_SeparateObjectsGetDistinctIDs(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, func(c *Config) { c.MinHitsToConfirm = 2 })
	a := testutil.ConstantVelocity(box(0, 0, 30, 60), 2, 0, 20)
	b := testutil.ConstantVelocity(box(400, 300, 30, 60), -2, 0, 20)
	frames := testutil.Frames(a, b)

	seen := map[uint64]bool{}
	for _, f := range frames {
		res := tr.ProcessFrameAt(f.Index, f.Detections)
		ids := map[uint64]bool{}
		for _, s := range tr.Live() {
			assert.False(t, ids[s.ID], "duplicate live id %d", s.ID)
			ids[s.ID] = true
			seen[s.ID] = true
		}
		assertPartition(t, res, len(f.Detections))
	}
	assert.Len(t, seen, 2, "each object keeps one identity")
	out := tr.Live()
	require.Len(t, out, 2)
	assert.Less(t, out[0].ID, out[1].ID, "snapshots sorted by id")
}

func TestTracker_IDsNeverReused(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, func(c *Config) { c.MaxOcclusionFrames = 0 })
	prev := uint64(0)
	for i := 0; i < 6; i++ {
		// A fresh tentative track each frame, removed by the empty frame.
		tr.ProcessFrame([]l1detections.Detection{testutil.Det(10, 10, 20, 20, 0.9)})
		live := tr.Live()
		require.Len(t, live, 1)
		assert.Greater(t, live[0].ID, prev)
		prev = live[0].ID
		tr.ProcessFrame(nil)
		assert.Empty(t, tr.Live())
	}
	tr.Reset()
	tr.ProcessFrame([]l1detections.Detection{testutil.Det(10, 10, 20, 20, 0.9)})
	assert.Greater(t, tr.Live()[0].ID, prev, "ids keep increasing after Reset")
}

func assertPartition(t *testing.T, res FrameResult, inputs int) {
	t.Helper()
	rejected := map[int]bool{}
	for _, r := range res.Rejected {
		rejected[r.Index] = true
	}
	dets := map[int]int{}
	tracks := map[uint64]int{}
	for _, p := range res.Assignment.Pairs {
		dets[p.Detection]++
		tracks[p.TrackID]++
	}
	for _, j := range res.Assignment.UnmatchedDetections {
		dets[j]++
	}
	for _, id := range res.Assignment.UnmatchedTracks {
		tracks[id]++
	}
	for j := 0; j < inputs; j++ {
		want := 1
		if rejected[j] {
			want = 0
		}
		assert.Equal(t, want, dets[j], "detection %d in frame %d", j, res.Frame)
	}
	assert.Len(t, dets, inputs-len(rejected))
	for id, n := range tracks {
		assert.Equal(t, 1, n, "track %d in frame %d", id, res.Frame)
	}
}

func TestTracker_PartitionWithClutter(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, nil)
	a := testutil.ConstantVelocity(box(0, 0, 30, 60), 4, 0, 30)
	frames := testutil.Frames(a)
	for i := range frames {
		if i%3 == 0 {
			frames[i].Detections = append(frames[i].Detections,
				testutil.Det(float64(500+i*7), 50, 20, 20, 0.6),
				testutil.Det(float64(510+i*7), 55, 20, 20, 0.3))
		}
		if i%5 == 0 {
			frames[i].Detections = append(frames[i].Detections, testutil.Det(0, 0, -5, 5, 0.9))
		}
	}
	for _, f := range frames {
		res := tr.ProcessFrameAt(f.Index, f.Detections)
		assertPartition(t, res, len(f.Detections))
	}
}

func TestTracker_DropsMalformedDetections(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, nil)
	dets := []l1detections.Detection{
		{Box: box(math.NaN(), 0, 10, 10), Score: 0.9},
		{Box: box(0, 0, -1, 10), Score: 0.9},
		{Box: box(0, 0, 10, 10), Score: 1.5},
		{Box: box(20, 20, 30, 30), Score: 0.9},
	}
	res := tr.ProcessFrame(dets)
	require.Len(t, res.Rejected, 3)
	assert.ErrorIs(t, res.Rejected[0].Err, l1detections.ErrNonFiniteBox)
	assert.ErrorIs(t, res.Rejected[1].Err, l1detections.ErrNegativeSize)
	assert.ErrorIs(t, res.Rejected[2].Err, l1detections.ErrInvalidScore)
	assert.Equal(t, []int{3}, res.Assignment.UnmatchedDetections)
	require.Len(t, tr.Live(), 1)
	assert.InDelta(t, 20, tr.Live()[0].Box.X, 1e-9)
}

func TestTracker_LearnsEmbeddingDimension(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, func(c *Config) { c.AppearanceWeight = 0.3 })
	first := []l1detections.Detection{
		{Box: box(0, 0, 10, 20), Score: 0.9, Embedding: []float64{1, 0, 0, 0}},
	}
	res := tr.ProcessFrame(first)
	assert.Empty(t, res.Rejected)

	second := []l1detections.Detection{
		{Box: box(0, 0, 10, 20), Score: 0.9, Embedding: []float64{1, 0, 0, 0}},
		{Box: box(200, 0, 10, 20), Score: 0.9, Embedding: []float64{1, 0, 0}},
	}
	res = tr.ProcessFrame(second)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.ErrorIs(t, res.Rejected[0].Err, l1detections.ErrEmbeddingLength)
	require.Len(t, res.Assignment.Pairs, 1)
	assert.Equal(t, uint64(1), res.Assignment.Pairs[0].TrackID)
}

func TestTracker_LowConfidenceDoesNotSpawn(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, nil)
	res := tr.ProcessFrame([]l1detections.Detection{testutil.Det(0, 0, 10, 10, 0.2)})
	assert.Empty(t, tr.Live())
	assert.Equal(t, []int{0}, res.Assignment.UnmatchedDetections)
}

func TestTracker_NonIncreasingIndexIsReplaced(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(t, nil)
	assert.Equal(t, int64(5), tr.ProcessFrameAt(5, nil).Frame)
	assert.Equal(t, int64(6), tr.ProcessFrameAt(3, nil).Frame)
	assert.Equal(t, int64(7), tr.ProcessFrame(nil).Frame)
	last, ok := tr.LastFrame()
	assert.True(t, ok)
	assert.Equal(t, int64(7), last)
}

func TestTracker_Deterministic(t *testing.T) {
	t.Parallel()

	a := testutil.ConstantVelocity(box(0, 0, 30, 60), 3, 1, 25)
	b := testutil.ConstantVelocity(box(60, 10, 30, 60), -1, 2, 25)
	slow := testutil.ConstantVelocity(box(300, 300, 20, 40), 0, -2, 12)
	frames := testutil.Drop(testutil.Frames(a, b, slow), 8, 11)

	run := func() []FrameResult {
		tr := newTestTracker(t, func(c *Config) { c.EmitLost = true })
		var out []FrameResult
		for _, f := range frames {
			res := tr.ProcessFrameAt(f.Index, f.Detections)
			res.Rejected, res.Faults = nil, nil
			out = append(out, res)
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Errorf("two runs differ (-first +second):\n%s", diff)
	}
}

func TestTracker_ReportsMetrics(t *testing.T) {
	t.Parallel()

	m, err := monitoring.NewMetrics(nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MinHitsToConfirm = 1
	tr, err := NewTracker(cfg, WithLogf(quiet), WithMetrics(m), WithStreamID("cam-1"))
	require.NoError(t, err)
	assert.Equal(t, "cam-1", tr.StreamID())

	tr.ProcessFrame([]l1detections.Detection{
		testutil.Det(0, 0, 10, 10, 0.9),
		{Box: box(0, 0, -1, 1), Score: 0.5},
	})
	tr.ProcessFrame(nil)

	lm := tr.Metrics()
	assert.Equal(t, int64(1), lm.TracksCreated)
	assert.Equal(t, int64(1), lm.TracksConfirmed)
	assert.Equal(t, 1, lm.Lost)
}
