package l1detections

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes bounds a single JSON line; embeddings make lines long.
const maxLineBytes = 16 * 1024 * 1024

// Reader decodes frames from JSON Lines, one frame object per line:
//
//	{"index": 12, "detections": [{"box": {"x":1,"y":2,"w":3,"h":4}, "score": 0.9}]}
//
// Blank lines are skipped. Frames without an "index" key continue the
// sequence from the previous frame.
type Reader struct {
	sc   *bufio.Scanner
	line int
	next int64
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

type wireFrame struct {
	Index      *int64      `json:"index"`
	Detections []Detection `json:"detections"`
}

// Next implements Source.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if !r.sc.Scan() {
			if err := r.sc.Err(); err != nil {
				return Frame{}, fmt.Errorf("read detections line %d: %w", r.line+1, err)
			}
			return Frame{}, io.EOF
		}
		r.line++
		raw := r.sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var wf wireFrame
		if err := json.Unmarshal(raw, &wf); err != nil {
			return Frame{}, fmt.Errorf("decode detections line %d: %w", r.line, err)
		}
		f := Frame{Index: r.next, Detections: wf.Detections}
		if wf.Index != nil {
			f.Index = *wf.Index
		}
		r.next = f.Index + 1
		return f, nil
	}
}
