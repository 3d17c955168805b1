package l2geometry

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// EmbeddingMetric selects how appearance vectors are compared.
type EmbeddingMetric int

const (
	// Cosine maps cosine similarity s to (1-s)/2.
	Cosine EmbeddingMetric = iota
	// Euclidean is half the distance between L2-normalised vectors.
	Euclidean
)

func (m EmbeddingMetric) String() string {
	switch m {
	case Cosine:
		return "cosine"
	case Euclidean:
		return "euclidean"
	}
	return fmt.Sprintf("EmbeddingMetric(%d)", int(m))
}

// ParseEmbeddingMetric accepts "cosine" or "euclidean" (case-insensitive).
// An empty string selects Cosine.
func ParseEmbeddingMetric(s string) (EmbeddingMetric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "euclidean":
		return Euclidean, nil
	}
	return 0, fmt.Errorf("unknown embedding metric %q", s)
}

// EmbeddingDistance returns an appearance distance in [0, 1]. Vectors of
// different length, empty vectors and zero vectors are maximally distant.
func EmbeddingDistance(a, b []float64, metric EmbeddingMetric) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 || math.IsNaN(na) || math.IsNaN(nb) {
		return 1
	}
	switch metric {
	case Euclidean:
		ua := floats.ScaleTo(make([]float64, len(a)), 1/na, a)
		ub := floats.ScaleTo(make([]float64, len(b)), 1/nb, b)
		return clamp01(floats.Distance(ua, ub, 2) / 2)
	default:
		cos := floats.Dot(a, b) / (na * nb)
		return clamp01((1 - cos) / 2)
	}
}

// Normalize scales v in place to unit L2 norm. Zero vectors are left
// unchanged.
func Normalize(v []float64) {
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return
	}
	floats.Scale(1/n, v)
}
