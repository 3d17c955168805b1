package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
	"github.com/banshee-data/pitchtrack/internal/mot/pipeline"
	"github.com/banshee-data/pitchtrack/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tracks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.db")
	s, err := Open(path)
	require.NoError(t, err)
	run, err := s.StartRun(context.Background(), "cam", nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].RunID)
}

func TestRun_EmitAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	run, err := s.StartRun(ctx, "north", map[string]int{"min_hits": 3})
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run ids are uuids")

	snap := func(id uint64, frame int64, x float64, state l5tracks.State, score float64) l5tracks.Snapshot {
		return l5tracks.Snapshot{
			ID: id, Frame: frame, State: state, Score: score, Class: "player",
			Box: l1detections.Box{X: x, Y: 5, Width: 10, Height: 20}, VX: 1,
		}
	}
	require.NoError(t, run.Emit(ctx, 3, []l5tracks.Snapshot{snap(1, 3, 0, l5tracks.Confirmed, 0.7)}))
	require.NoError(t, run.Emit(ctx, 4, []l5tracks.Snapshot{
		snap(1, 4, 1, l5tracks.Confirmed, 0.9),
		snap(2, 4, 50, l5tracks.Confirmed, 0.6),
	}))
	require.NoError(t, run.Emit(ctx, 5, nil))
	require.NoError(t, run.Finish(ctx))

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "north", runs[0].Stream)
	assert.Equal(t, int64(3), runs[0].Frames)
	assert.Equal(t, int64(2), runs[0].Tracks)
	assert.NotZero(t, runs[0].FinishedAt)
	assert.JSONEq(t, `{"min_hits":3}`, string(runs[0].Config))

	tracks, err := s.RunTracks(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, uint64(1), tracks[0].TrackID)
	assert.Equal(t, int64(3), tracks[0].FirstFrame)
	assert.Equal(t, int64(4), tracks[0].LastFrame)
	assert.Equal(t, int64(2), tracks[0].Observations)
	assert.InDelta(t, 0.9, tracks[0].MaxScore, 1e-12)
	assert.Equal(t, l5tracks.Confirmed, tracks[0].LastState)

	obs, err := s.TrackObservations(ctx, run.ID, 1)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.Equal(t, snap(1, 3, 0, l5tracks.Confirmed, 0.7), obs[0])
	assert.Equal(t, snap(1, 4, 1, l5tracks.Confirmed, 0.9), obs[1])

	none, err := s.TrackObservations(ctx, run.ID, 99)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRun_AsPipelineSink(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	run, err := s.StartRun(ctx, "pitch", nil)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	tr, err := pipeline.NewTracker(cfg, pipeline.WithLogf(func(string, ...interface{}) {}))
	require.NoError(t, err)
	path := testutil.ConstantVelocity(l1detections.Box{X: 0, Y: 0, Width: 30, Height: 60}, 2, 0, 10)
	src := l1detections.NewSliceSource(testutil.Frames(path))

	require.NoError(t, tr.Run(ctx, src, run))
	require.NoError(t, run.Finish(ctx))

	tracks, err := s.RunTracks(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	// Confirmed on the third frame, emitted from then on.
	assert.Equal(t, int64(2), tracks[0].FirstFrame)
	assert.Equal(t, int64(8), tracks[0].Observations)
	assert.Equal(t, "player", tracks[0].Class)
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success after busy", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("non-busy error is not retried", func(t *testing.T) {
		calls := 0
		boom := errors.New("constraint failed")
		err := retryOnBusy(func() error {
			calls++
			return boom
		})
		if !errors.Is(err, boom) {
			t.Errorf("expected %v, got %v", boom, err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}
