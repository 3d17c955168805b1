package l6kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateQuad is returned when the four calibration points do not
// define a perspective transform.
var ErrDegenerateQuad = errors.New("calibration quadrilateral is degenerate")

// ViewTransformer maps image pixels inside a calibrated quadrilateral to
// world coordinates in metres.
type ViewTransformer struct {
	pixel [4][2]float64
	h     [9]float64 // Row-major homography, h[8] == 1
}

// NewViewTransformer solves the homography taking each pixel vertex to the
// world vertex at the same position. Exactly four pairs are required.
func NewViewTransformer(pixel, world [][2]float64) (*ViewTransformer, error) {
	if len(pixel) != 4 || len(world) != 4 {
		return nil, fmt.Errorf("%w: need 4 vertex pairs, got %d and %d", ErrDegenerateQuad, len(pixel), len(world))
	}
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := pixel[i][0], pixel[i][1]
		u, v := world[i][0], world[i][1]
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -x * u, -y * u})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -x * v, -y * v})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}
	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateQuad, err)
	}
	vt := &ViewTransformer{}
	for i := 0; i < 4; i++ {
		vt.pixel[i] = pixel[i]
	}
	for i := 0; i < 8; i++ {
		vt.h[i] = sol.AtVec(i)
		if math.IsNaN(vt.h[i]) || math.IsInf(vt.h[i], 0) {
			return nil, ErrDegenerateQuad
		}
	}
	vt.h[8] = 1
	return vt, nil
}

// Transform maps pixel (x, y) to world coordinates. ok is false when the
// point lies outside the calibrated quadrilateral.
func (v *ViewTransformer) Transform(x, y float64) (wx, wy float64, ok bool) {
	if !insideQuad(v.pixel, x, y) {
		return 0, 0, false
	}
	h := v.h
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// insideQuad reports whether (x, y) is inside or on the boundary of q.
func insideQuad(q [4][2]float64, x, y float64) bool {
	in := false
	for i, j := 0, 3; i < 4; j, i = i, i+1 {
		xi, yi := q[i][0], q[i][1]
		xj, yj := q[j][0], q[j][1]
		if onSegment(xi, yi, xj, yj, x, y) {
			return true
		}
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			in = !in
		}
	}
	return in
}

func onSegment(x1, y1, x2, y2, x, y float64) bool {
	cross := (x2-x1)*(y-y1) - (y2-y1)*(x-x1)
	if math.Abs(cross) > 1e-9*math.Max(1, math.Hypot(x2-x1, y2-y1)) {
		return false
	}
	return x >= math.Min(x1, x2) && x <= math.Max(x1, x2) &&
		y >= math.Min(y1, y2) && y <= math.Max(y1, y2)
}
