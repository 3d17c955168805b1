package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pitchtrack/internal/monitoring"
	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
)

// Sink consumes per-frame tracker output. Snapshots are copies; sinks may
// keep them.
type Sink interface {
	Emit(ctx context.Context, frame int64, tracks []l5tracks.Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, frame int64, tracks []l5tracks.Snapshot) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, frame int64, tracks []l5tracks.Snapshot) error {
	return f(ctx, frame, tracks)
}

// Run reads frames from src until io.EOF, tracking each one and handing
// the output to every sink in order. Gaps in the source frame indices are
// filled with prediction-only frames, at most MaxOcclusionFrames+1 of
// them, since further empty frames cannot change the track set. The
// context is checked between frames.
func (t *Tracker) Run(ctx context.Context, src l1detections.Source, sinks ...Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fr, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		if last, ok := t.LastFrame(); ok && fr.Index > last+1 {
			gap := fr.Index - last - 1
			fill := int64(t.cfg.MaxOcclusionFrames) + 1
			if gap < fill {
				fill = gap
			}
			for idx := fr.Index - fill; idx < fr.Index; idx++ {
				if err := emit(ctx, t.ProcessFrameAt(idx, nil), sinks); err != nil {
					return err
				}
			}
		}
		if err := emit(ctx, t.ProcessFrameAt(fr.Index, fr.Detections), sinks); err != nil {
			return err
		}
	}
}

func emit(ctx context.Context, res FrameResult, sinks []Sink) error {
	for _, s := range sinks {
		if err := s.Emit(ctx, res.Frame, res.Tracks); err != nil {
			return fmt.Errorf("emit frame %d: %w", res.Frame, err)
		}
	}
	return nil
}

// SinkFactory returns the sinks for one stream.
type SinkFactory func(stream string) ([]Sink, error)

// RunStreams tracks every stream with its own Tracker, concurrently. The
// trackers share nothing but the options passed in; each gets its stream
// name as WithStreamID and a prefixed logger. The first error cancels the
// remaining streams and is returned.
func RunStreams(ctx context.Context, streams map[string]l1detections.Source, cfg Config, factory SinkFactory, opts ...Option) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)

	type job struct {
		name  string
		src   l1detections.Source
		tr    *Tracker
		sinks []Sink
	}
	jobs := make([]job, 0, len(names))
	for _, name := range names {
		var sinks []Sink
		if factory != nil {
			s, err := factory(name)
			if err != nil {
				return fmt.Errorf("sinks for stream %q: %w", name, err)
			}
			sinks = s
		}
		streamOpts := append([]Option{WithLogf(monitoring.Prefixed(name))}, opts...)
		streamOpts = append(streamOpts, WithStreamID(name))
		tr, err := NewTracker(cfg, streamOpts...)
		if err != nil {
			return err
		}
		jobs = append(jobs, job{name: name, src: streams[name], tr: tr, sinks: sinks})
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		g.Go(func() error {
			if err := j.tr.Run(ctx, j.src, j.sinks...); err != nil {
				return fmt.Errorf("stream %q: %w", j.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}
