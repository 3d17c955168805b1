package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
)

// Run records one stream's tracker output. It implements pipeline.Sink.
// A Run is used from a single goroutine.
type Run struct {
	store  *Store
	ID     string
	Stream string
}

// RunInfo describes a stored run.
type RunInfo struct {
	RunID      string          `json:"run_id"`
	Stream     string          `json:"stream"`
	Config     json.RawMessage `json:"config,omitempty"`
	StartedAt  int64           `json:"started_at"`  // Unix nanoseconds
	FinishedAt int64           `json:"finished_at"` // 0 while running
	Frames     int64           `json:"frames"`
	Tracks     int64           `json:"tracks"`
}

// TrackSummary is the per-track aggregate of a run.
type TrackSummary struct {
	RunID        string         `json:"run_id"`
	TrackID      uint64         `json:"track_id"`
	Class        string         `json:"class,omitempty"`
	FirstFrame   int64          `json:"first_frame"`
	LastFrame    int64          `json:"last_frame"`
	Observations int64          `json:"observations"`
	LastState    l5tracks.State `json:"last_state"`
	MaxScore     float64        `json:"max_score"`
}

// StartRun creates a run for stream. cfg is stored as JSON for later
// inspection and may be nil.
func (s *Store) StartRun(ctx context.Context, stream string, cfg interface{}) (*Run, error) {
	var cfgJSON interface{}
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode run config: %w", err)
		}
		cfgJSON = string(b)
	}
	r := &Run{store: s, ID: uuid.New().String(), Stream: stream}
	err := retryOnBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (run_id, stream, config_json, started_at) VALUES (?, ?, ?, ?)`,
			r.ID, stream, cfgJSON, time.Now().UnixNano())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

// Emit stores the frame's snapshots and updates the track summaries in one
// transaction.
func (r *Run) Emit(ctx context.Context, frame int64, tracks []l5tracks.Snapshot) error {
	return retryOnBusy(func() error {
		tx, err := r.store.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		obs, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO observations (
				run_id, track_id, frame, x, y, w, h, vx, vy, state, age, hits, misses, score
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare observation insert: %w", err)
		}
		defer obs.Close()

		sum, err := tx.PrepareContext(ctx, `
			INSERT INTO tracks (
				run_id, track_id, class, first_frame, last_frame, observations, last_state, max_score
			) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (run_id, track_id) DO UPDATE SET
				class        = CASE WHEN excluded.class != '' THEN excluded.class ELSE tracks.class END,
				last_frame   = excluded.last_frame,
				observations = tracks.observations + 1,
				last_state   = excluded.last_state,
				max_score    = MAX(tracks.max_score, excluded.max_score)`)
		if err != nil {
			return fmt.Errorf("prepare track upsert: %w", err)
		}
		defer sum.Close()

		for _, t := range tracks {
			b := t.Box
			if _, err := obs.ExecContext(ctx, r.ID, int64(t.ID), frame, b.X, b.Y, b.Width, b.Height,
				t.VX, t.VY, string(t.State), t.Age, t.Hits, t.Misses, t.Score); err != nil {
				return fmt.Errorf("insert observation for track %d: %w", t.ID, err)
			}
			if _, err := sum.ExecContext(ctx, r.ID, int64(t.ID), t.Class, frame, frame,
				string(t.State), t.Score); err != nil {
				return fmt.Errorf("upsert track %d: %w", t.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET frames = frames + 1 WHERE run_id = ?`, r.ID); err != nil {
			return fmt.Errorf("update run frames: %w", err)
		}
		return tx.Commit()
	})
}

// Finish marks the run complete and records its track count.
func (r *Run) Finish(ctx context.Context) error {
	return retryOnBusy(func() error {
		_, err := r.store.db.ExecContext(ctx, `
			UPDATE runs SET
				finished_at = ?,
				tracks = (SELECT COUNT(*) FROM tracks WHERE tracks.run_id = runs.run_id)
			WHERE run_id = ?`, time.Now().UnixNano(), r.ID)
		return err
	})
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, stream, config_json, started_at, finished_at, frames, tracks
		FROM runs
		ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var ri RunInfo
		var cfg sql.NullString
		var finished sql.NullInt64
		if err := rows.Scan(&ri.RunID, &ri.Stream, &cfg, &ri.StartedAt, &finished, &ri.Frames, &ri.Tracks); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if cfg.Valid {
			ri.Config = json.RawMessage(cfg.String)
		}
		ri.FinishedAt = finished.Int64
		out = append(out, ri)
	}
	return out, rows.Err()
}

// RunTracks returns the track summaries of a run in ID order.
func (s *Store) RunTracks(ctx context.Context, runID string) ([]TrackSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, track_id, class, first_frame, last_frame, observations, last_state, max_score
		FROM tracks
		WHERE run_id = ?
		ORDER BY track_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackSummary
	for rows.Next() {
		var ts TrackSummary
		var id int64
		var state string
		if err := rows.Scan(&ts.RunID, &id, &ts.Class, &ts.FirstFrame, &ts.LastFrame,
			&ts.Observations, &state, &ts.MaxScore); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		ts.TrackID = uint64(id)
		ts.LastState = l5tracks.State(state)
		out = append(out, ts)
	}
	return out, rows.Err()
}

// TrackObservations returns every stored snapshot of one track in frame
// order.
func (s *Store) TrackObservations(ctx context.Context, runID string, trackID uint64) ([]l5tracks.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.frame, o.x, o.y, o.w, o.h, o.vx, o.vy, o.state, o.age, o.hits, o.misses, o.score, t.class
		FROM observations o
		JOIN tracks t ON t.run_id = o.run_id AND t.track_id = o.track_id
		WHERE o.run_id = ? AND o.track_id = ?
		ORDER BY o.frame`, runID, int64(trackID))
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []l5tracks.Snapshot
	for rows.Next() {
		snap := l5tracks.Snapshot{ID: trackID}
		var b l1detections.Box
		var state string
		if err := rows.Scan(&snap.Frame, &b.X, &b.Y, &b.Width, &b.Height, &snap.VX, &snap.VY,
			&state, &snap.Age, &snap.Hits, &snap.Misses, &snap.Score, &snap.Class); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		snap.Box = b
		snap.State = l5tracks.State(state)
		out = append(out, snap)
	}
	return out, rows.Err()
}
