package l1detections

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Box helpers
// ---------------------------------------------------------------------------

func TestBox_XYAHRoundTrip(t *testing.T) {
	t.Parallel()

	b := Box{X: 10, Y: 10, Width: 20, Height: 40}
	xyah := b.XYAH()
	assert.Equal(t, [4]float64{20, 30, 0.5, 40}, xyah)

	back := BoxFromXYAH(xyah[0], xyah[1], xyah[2], xyah[3])
	assert.InDelta(t, b.X, back.X, 1e-12)
	assert.InDelta(t, b.Y, back.Y, 1e-12)
	assert.InDelta(t, b.Width, back.Width, 1e-12)
	assert.InDelta(t, b.Height, back.Height, 1e-12)
}

func TestBox_AreaAndFoot(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Box{Width: 0, Height: 5}.Area())
	assert.Equal(t, 12.0, Box{Width: 3, Height: 4}.Area())

	x, y := Box{X: 10, Y: 20, Width: 4, Height: 10}.Foot()
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 30.0, y)

	assert.Equal(t, [4]float64{0, 0, 0, 0}, Box{}.XYAH())
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		det  Detection
		dim  int
		want error
	}{
		{"valid", Detection{Box: Box{1, 2, 3, 4}, Score: 0.9}, 0, nil},
		{"zero size accepted", Detection{Box: Box{1, 2, 0, 0}, Score: 0.9}, 0, nil},
		{"nan x", Detection{Box: Box{math.NaN(), 2, 3, 4}, Score: 0.9}, 0, ErrNonFiniteBox},
		{"inf height", Detection{Box: Box{1, 2, 3, math.Inf(1)}, Score: 0.9}, 0, ErrNonFiniteBox},
		{"negative width", Detection{Box: Box{1, 2, -3, 4}, Score: 0.9}, 0, ErrNegativeSize},
		{"score above one", Detection{Box: Box{1, 2, 3, 4}, Score: 1.5}, 0, ErrInvalidScore},
		{"nan score", Detection{Box: Box{1, 2, 3, 4}, Score: math.NaN()}, 0, ErrInvalidScore},
		{"embedding length", Detection{Box: Box{1, 2, 3, 4}, Score: 0.9, Embedding: []float64{1, 2}}, 3, ErrEmbeddingLength},
		{"embedding nan", Detection{Box: Box{1, 2, 3, 4}, Score: 0.9, Embedding: []float64{1, math.NaN()}}, 0, ErrNonFiniteEmbedding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(tt.det, tt.dim)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestSanitize_KeepsOrderAndOrigin(t *testing.T) {
	t.Parallel()

	dets := []Detection{
		{Box: Box{0, 0, 10, 10}, Score: 0.9},
		{Box: Box{0, 0, -1, 10}, Score: 0.9},
		{Box: Box{5, 5, 10, 10}, Score: 0.7},
		{Box: Box{5, 5, 10, 10}, Score: 2},
	}
	valid, origin, rejected := Sanitize(dets, 0)
	require.Len(t, valid, 2)
	assert.Equal(t, []int{0, 2}, origin)
	require.Len(t, rejected, 2)
	assert.Equal(t, 1, rejected[0].Index)
	assert.Equal(t, 3, rejected[1].Index)
	assert.ErrorIs(t, rejected[0].Err, ErrNegativeSize)
	assert.NotEmpty(t, rejected[1].Reason())
	assert.Equal(t, "negative_size", rejected[0].Code())
	assert.Equal(t, "invalid_score", rejected[1].Code())
	assert.Equal(t, "other", Rejection{}.Code())
}

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

func TestReader_DecodesFramesAndIndices(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"index": 5, "detections": [{"box": {"x": 1, "y": 2, "w": 3, "h": 4}, "score": 0.8, "class": "player"}]}`,
		``,
		`{"detections": []}`,
		`{"index": 9, "detections": [{"box": {"x": 0, "y": 0, "w": 1, "h": 1}, "score": 0.5, "embedding": [0.1, 0.2]}]}`,
	}, "\n")
	r := NewReader(strings.NewReader(input))
	ctx := context.Background()

	f, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.Index)
	require.Len(t, f.Detections, 1)
	assert.Equal(t, "player", f.Detections[0].Class)
	assert.Equal(t, Box{1, 2, 3, 4}, f.Detections[0].Box)

	f, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), f.Index)
	assert.Empty(t, f.Detections)

	f, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), f.Index)
	assert.Equal(t, []float64{0.1, 0.2}, f.Detections[0].Embedding)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_MalformedLine(t *testing.T) {
	t.Parallel()

	r := NewReader(strings.NewReader("{not json}\n"))
	_, err := r.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestSliceSource(t *testing.T) {
	t.Parallel()

	src := NewSliceSource([]Frame{{}, {}, {}})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(i), f.Index)
	}
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewSliceSource([]Frame{{}}).Next(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
