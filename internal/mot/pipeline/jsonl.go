package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/pitchtrack/internal/mot/l5tracks"
)

// FrameRecord is the JSON Lines encoding of one output frame.
type FrameRecord struct {
	Stream string              `json:"stream,omitempty"`
	Frame  int64               `json:"frame"`
	Tracks []l5tracks.Snapshot `json:"tracks"`
}

// JSONLWriter is a Sink writing one FrameRecord per line.
type JSONLWriter struct {
	stream string
	w      *bufio.Writer
	enc    *json.Encoder
}

// NewJSONLWriter returns a writer tagging records with stream (omitted
// when empty). Call Flush when done.
func NewJSONLWriter(w io.Writer, stream string) *JSONLWriter {
	bw := bufio.NewWriter(w)
	return &JSONLWriter{stream: stream, w: bw, enc: json.NewEncoder(bw)}
}

// Emit implements Sink.
func (j *JSONLWriter) Emit(_ context.Context, frame int64, tracks []l5tracks.Snapshot) error {
	if tracks == nil {
		tracks = []l5tracks.Snapshot{}
	}
	if err := j.enc.Encode(FrameRecord{Stream: j.stream, Frame: frame, Tracks: tracks}); err != nil {
		return fmt.Errorf("encode frame %d: %w", frame, err)
	}
	return nil
}

// Flush writes buffered records to the underlying writer.
func (j *JSONLWriter) Flush() error { return j.w.Flush() }
