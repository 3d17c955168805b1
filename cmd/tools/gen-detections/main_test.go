package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitchtrack/internal/mot/l1detections"
)

func testParams() Params {
	return Params{
		Frames: 40, Players: 4, Width: 640, Height: 360,
		Noise: 1, OcclusionLen: 5, Spurious: 0.5, EmbeddingDim: 8, Seed: 7,
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := Generate(testParams())
	b := Generate(testParams())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different frames (-a +b):\n%s", diff)
	}

	p := testParams()
	p.Seed = 8
	assert.NotEqual(t, a, Generate(p))
}

func TestGenerate_Valid(t *testing.T) {
	frames := Generate(testParams())
	require.Len(t, frames, 40)
	for i, f := range frames {
		assert.Equal(t, int64(i), f.Index)
		for _, d := range f.Detections {
			assert.NoError(t, l1detections.Validate(d, 8), "frame %d", i)
		}
	}
}

func TestGenerate_OcclusionGapsAndBounds(t *testing.T) {
	p := testParams()
	p.Spurious = 0
	p.Noise = 0
	frames := Generate(p)
	total := 0
	for _, f := range frames {
		total += len(f.Detections)
		for _, d := range f.Detections {
			assert.GreaterOrEqual(t, d.Box.X, 0.0)
			assert.LessOrEqual(t, d.Box.X+d.Box.Width, p.Width+1e-9)
		}
	}
	assert.Equal(t, p.Frames*p.Players-p.Players*p.OcclusionLen, total, "one gap per player")
}

func TestWrite_ReadBack(t *testing.T) {
	frames := Generate(testParams())
	var buf bytes.Buffer
	require.NoError(t, write(&buf, frames))

	r := l1detections.NewReader(&buf)
	n := 0
	for {
		f, err := r.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, frames[n].Index, f.Index)
		assert.Len(t, f.Detections, len(frames[n].Detections))
		n++
	}
	assert.Equal(t, len(frames), n)
}
