package l4assign

import (
	"fmt"
	"math"
	"sort"
)

// Match pairs a cost-matrix row with a column.
type Match struct {
	Row  int     `json:"row"`
	Col  int     `json:"col"`
	Cost float64 `json:"cost"`
}

// Result is a partition of the rows and columns of a cost matrix into
// matches and unmatched indices. Matches are ordered by Row; the unmatched
// sets are ascending.
type Result struct {
	Matches       []Match `json:"matches"`
	UnmatchedRows []int   `json:"unmatched_rows"`
	UnmatchedCols []int   `json:"unmatched_cols"`
}

// TotalCost sums the cost of all matches.
func (r Result) TotalCost() float64 {
	var sum float64
	for _, m := range r.Matches {
		sum += m.Cost
	}
	return sum
}

// Validate checks that r partitions rows×cols indices: every row and every
// column appears exactly once across matched and unmatched sets.
func (r Result) Validate(rows, cols int) error {
	seenRow := make([]bool, rows)
	seenCol := make([]bool, cols)
	mark := func(seen []bool, i int, kind string) error {
		if i < 0 || i >= len(seen) {
			return fmt.Errorf("%s index %d out of range [0, %d)", kind, i, len(seen))
		}
		if seen[i] {
			return fmt.Errorf("%s index %d appears twice", kind, i)
		}
		seen[i] = true
		return nil
	}
	for _, m := range r.Matches {
		if err := mark(seenRow, m.Row, "row"); err != nil {
			return err
		}
		if err := mark(seenCol, m.Col, "column"); err != nil {
			return err
		}
	}
	for _, i := range r.UnmatchedRows {
		if err := mark(seenRow, i, "row"); err != nil {
			return err
		}
	}
	for _, j := range r.UnmatchedCols {
		if err := mark(seenCol, j, "column"); err != nil {
			return err
		}
	}
	for i, ok := range seenRow {
		if !ok {
			return fmt.Errorf("row %d missing from result", i)
		}
	}
	for j, ok := range seenCol {
		if !ok {
			return fmt.Errorf("column %d missing from result", j)
		}
	}
	return nil
}

// clipMargin places clipped costs just above the highest finite gate so
// they stay selectable by the solver but lose to every admissible entry
// and never survive the gate filter.
const clipMargin = 1e-4

// Solve returns the minimum-cost assignment over a matrix with len(cost)
// rows and cols columns, then discards every match whose cost exceeds
// gate. Finite costs above gate are clipped to just above the gate before
// solving; +Inf and NaN entries are never selected. Rows shorter
// than cols are treated as forbidden beyond their length and entries past
// cols are ignored, so empty and rectangular matrices need no special
// handling by the caller.
//
// Solve is deterministic: equal-cost alternatives resolve to the lowest
// row and column indices encountered.
func Solve(cost [][]float64, cols int, gate float64) Result {
	var gates []float64
	if len(cost) > 0 {
		gates = make([]float64, len(cost))
		for i := range gates {
			gates[i] = gate
		}
	}
	return SolveGated(cost, cols, gates)
}

// SolveGated is Solve with a per-row gate. A missing or NaN gate admits
// any finite cost; a gate of -Inf excludes the row from the assignment.
func SolveGated(cost [][]float64, cols int, gates []float64) Result {
	n := len(cost)
	if n == 0 || cols <= 0 {
		return unmatchedAll(n, cols)
	}
	c, dim := gatedMatrix(cost, cols, gates)
	rowAssign := kuhnMunkres(c, dim)

	res := Result{}
	colUsed := make([]bool, cols)
	for i := 0; i < n; i++ {
		j := rowAssign[i]
		if j < 0 || j >= cols || !admissible(cost, gates, i, j) {
			res.UnmatchedRows = append(res.UnmatchedRows, i)
			continue
		}
		colUsed[j] = true
		res.Matches = append(res.Matches, Match{Row: i, Col: j, Cost: cost[i][j]})
	}
	for j := 0; j < cols; j++ {
		if !colUsed[j] {
			res.UnmatchedCols = append(res.UnmatchedCols, j)
		}
	}
	sort.Slice(res.Matches, func(a, b int) bool { return res.Matches[a].Row < res.Matches[b].Row })
	return res
}

func gateOf(gates []float64, i int) float64 {
	if i < len(gates) && !math.IsNaN(gates[i]) {
		return gates[i]
	}
	return math.Inf(1)
}

// selectable reports whether the solver may pick cell (i, j) at all.
func selectable(cost [][]float64, gates []float64, i, j int) bool {
	if j >= len(cost[i]) || math.IsInf(gateOf(gates, i), -1) {
		return false
	}
	v := cost[i][j]
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// admissible reports whether a match on (i, j) survives the gate filter.
func admissible(cost [][]float64, gates []float64, i, j int) bool {
	return selectable(cost, gates, i, j) && cost[i][j] <= gateOf(gates, i)
}

// gatedMatrix builds the square matrix handed to the solver. Over-gate
// entries are clipped, unselectable ones get a forbidden marker and
// padding cells cost 0 so surplus rows or columns are absorbed without
// biasing the real assignment.
func gatedMatrix(cost [][]float64, cols int, gates []float64) ([][]float64, int) {
	n := len(cost)
	dim := n
	if cols > dim {
		dim = cols
	}

	// Over-gate entries share one clipped cost above every finite gate, so
	// a row with a tighter gate cannot undercut an admissible entry of a
	// row with a wider one.
	ceiling := math.Inf(-1)
	for i := 0; i < n; i++ {
		if g := gateOf(gates, i); !math.IsInf(g, 0) && g > ceiling {
			ceiling = g
		}
	}
	clipped := func(i, j int) float64 {
		if v := cost[i][j]; v <= gateOf(gates, i) {
			return v
		}
		return ceiling + clipMargin
	}

	// The forbidden marker must exceed any total of selectable entries so
	// the solver only takes it when nothing else fits.
	maxAbs := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			if selectable(cost, gates, i, j) {
				maxAbs = math.Max(maxAbs, math.Abs(clipped(i, j)))
			}
		}
	}
	forbidden := 2 * (maxAbs + 1) * float64(dim+1)

	c := make([][]float64, dim)
	for i := 0; i < dim; i++ {
		c[i] = make([]float64, dim)
		if i >= n {
			continue
		}
		for j := 0; j < cols; j++ {
			if selectable(cost, gates, i, j) {
				c[i][j] = clipped(i, j)
			} else {
				c[i][j] = forbidden
			}
		}
	}
	return c, dim
}

func unmatchedAll(n, m int) Result {
	res := Result{}
	for i := 0; i < n; i++ {
		res.UnmatchedRows = append(res.UnmatchedRows, i)
	}
	for j := 0; j < m; j++ {
		res.UnmatchedCols = append(res.UnmatchedCols, j)
	}
	return res
}

// kuhnMunkres solves the square dim×dim assignment problem with the
// shortest augmenting path method using row and column potentials
// (Jonker-Volgenant variant). It returns rowAssign[i] = column of row i.
func kuhnMunkres(c [][]float64, dim int) []int {
	const inf = math.MaxFloat64 / 2

	// 1-indexed; index 0 is the virtual column.
	u := make([]float64, dim+1) // Row potentials
	v := make([]float64, dim+1) // Column potentials
	p := make([]int, dim+1)     // p[j] = row assigned to column j
	way := make([]int, dim+1)   // way[j] = previous column in augmenting path
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0

		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1

			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}

			if j1 < 0 {
				break
			}

			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}

			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 && p[j] <= dim {
			rowAssign[p[j]-1] = j - 1
		}
	}
	return rowAssign
}
