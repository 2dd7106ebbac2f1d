// Package solver implements a small mixed-integer linear program solver:
// branch and bound over an LP relaxation. Problems here have tens to a few
// hundred variables, so a dense simplex per node is well within budget.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// Problem is a minimization MILP:
//
//	minimize  C . x
//	subject to A x <= B, 0 <= x <= Upper
//
// Variables flagged in Integer must take integral values in the solution.
type Problem struct {
	C       []float64
	A       [][]float64
	B       []float64
	Upper   []float64 // +Inf means unbounded
	Integer []bool
}

// Status classifies the outcome of a solve.
type Status string

const (
	// StatusOptimal means the incumbent is proven within the gap tolerance.
	StatusOptimal Status = "optimal"
	// StatusFeasible means a valid incumbent exists but the search stopped
	// before proving the gap.
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusTimeout    Status = "timeout"
)

// Solution is the solve result. X is only meaningful for StatusOptimal and
// StatusFeasible.
type Solution struct {
	Status    Status
	X         []float64
	Objective float64
	// Gap is the relative distance between the incumbent and the best bound
	// at termination.
	Gap   float64
	Nodes int
}

// Options tunes the branch and bound search. The context passed to Solve
// carries the deadline.
type Options struct {
	Gap      float64 // relative optimality gap to accept, e.g. 0.001
	MaxNodes int     // 0 means the default
}

const defaultMaxNodes = 100000

// integralityTol is how far from an integer a relaxation value may sit and
// still count as integral.
const integralityTol = 1e-6

func (p Problem) validate() error {
	n := len(p.C)
	if n == 0 {
		return errors.New("problem has no variables")
	}
	if len(p.Upper) != n || len(p.Integer) != n {
		return fmt.Errorf("bounds length mismatch: %d variables, %d uppers, %d integer flags", n, len(p.Upper), len(p.Integer))
	}
	if len(p.A) != len(p.B) {
		return fmt.Errorf("constraint mismatch: %d rows, %d right-hand sides", len(p.A), len(p.B))
	}
	for i, row := range p.A {
		if len(row) != n {
			return fmt.Errorf("constraint row %d has %d coefficients, want %d", i, len(row), n)
		}
	}
	return nil
}

// node is one branch and bound subproblem: the root problem plus tightened
// variable bounds.
type node struct {
	lower []float64
	upper []float64
}

// Solve runs branch and bound until optimality within the gap, node
// exhaustion, or context deadline.
func Solve(ctx context.Context, p Problem, opts Options) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{Status: StatusInfeasible}, err
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = defaultMaxNodes
	}

	n := len(p.C)
	root := node{lower: make([]float64, n), upper: make([]float64, n)}
	copy(root.upper, p.Upper)

	var (
		incumbent    []float64
		incumbentObj = math.Inf(1)
		bestBound    = math.Inf(-1)
		nodes        int
	)

	// DFS keeps memory bounded; the stack holds pending subproblems.
	stack := []node{root}
	rootBoundSet := false

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			// A deadline with an incumbent in hand still yields a usable
			// answer; only an empty search times out.
			return finishInterrupted(incumbent, incumbentObj, bestBound, nodes, StatusFeasible), nil
		default:
		}
		if nodes >= maxNodes {
			return finishInterrupted(incumbent, incumbentObj, bestBound, nodes, StatusFeasible), nil
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		obj, x, err := solveRelaxation(p, nd)
		if err != nil {
			// Infeasible or unbounded subproblem; prune.
			continue
		}
		if !rootBoundSet {
			bestBound = obj
			rootBoundSet = true
		}
		if obj >= incumbentObj-math.Abs(incumbentObj)*opts.Gap {
			continue // cannot beat the incumbent by enough
		}

		branchVar := mostFractional(x, p.Integer)
		if branchVar < 0 {
			// Integral solution; new incumbent.
			if obj < incumbentObj {
				incumbentObj = obj
				incumbent = roundIntegral(x, p.Integer)
			}
			continue
		}

		// Branch on the fractional variable: floor side and ceil side.
		val := x[branchVar]
		down := cloneNode(nd)
		down.upper[branchVar] = math.Floor(val)
		up := cloneNode(nd)
		up.lower[branchVar] = math.Ceil(val)
		if down.upper[branchVar] >= down.lower[branchVar] {
			stack = append(stack, down)
		}
		if math.IsInf(up.upper[branchVar], 1) || up.lower[branchVar] <= up.upper[branchVar] {
			stack = append(stack, up)
		}
	}

	if incumbent == nil {
		return Solution{Status: StatusInfeasible, Nodes: nodes}, nil
	}
	return Solution{
		Status:    StatusOptimal,
		X:         incumbent,
		Objective: incumbentObj,
		Gap:       relativeGap(incumbentObj, bestBound),
		Nodes:     nodes,
	}, nil
}

func finishInterrupted(incumbent []float64, obj, bound float64, nodes int, ifIncumbent Status) Solution {
	if incumbent == nil {
		return Solution{Status: StatusTimeout, Nodes: nodes}
	}
	return Solution{
		Status:    ifIncumbent,
		X:         incumbent,
		Objective: obj,
		Gap:       relativeGap(obj, bound),
		Nodes:     nodes,
	}
}

func relativeGap(incumbent, bound float64) float64 {
	if math.IsInf(bound, -1) {
		return 1
	}
	denom := math.Max(math.Abs(incumbent), 1e-9)
	g := (incumbent - bound) / denom
	if g < 0 {
		return 0
	}
	return g
}

func cloneNode(nd node) node {
	out := node{
		lower: make([]float64, len(nd.lower)),
		upper: make([]float64, len(nd.upper)),
	}
	copy(out.lower, nd.lower)
	copy(out.upper, nd.upper)
	return out
}

// mostFractional returns the integer variable furthest from integrality, or
// -1 when all integer variables are integral.
func mostFractional(x []float64, integer []bool) int {
	best, bestDist := -1, integralityTol
	for j, v := range x {
		if !integer[j] {
			continue
		}
		frac := math.Abs(v - math.Round(v))
		if frac > bestDist {
			best, bestDist = j, frac
		}
	}
	return best
}

func roundIntegral(x []float64, integer []bool) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if integer[j] {
			out[j] = math.Round(v)
		} else {
			out[j] = v
		}
	}
	return out
}

// solveRelaxation solves the LP relaxation of the problem under a node's
// bounds by converting to the equality standard form the simplex expects.
func solveRelaxation(p Problem, nd node) (float64, []float64, error) {
	n := len(p.C)

	// Shift variables by their lower bounds so every variable is >= 0:
	// x = y + lower. Rows and the objective constant adjust accordingly.
	type row struct {
		coeffs []float64
		rhs    float64
	}
	var rows []row
	for i := range p.A {
		rhs := p.B[i]
		for j := range p.A[i] {
			rhs -= p.A[i][j] * nd.lower[j]
		}
		rows = append(rows, row{coeffs: p.A[i], rhs: rhs})
	}
	// Shifted upper bounds become y_j <= upper_j - lower_j.
	type bound struct {
		j   int
		val float64
	}
	var ubs []bound
	for j := 0; j < n; j++ {
		if math.IsInf(nd.upper[j], 1) {
			continue
		}
		u := nd.upper[j] - nd.lower[j]
		if u < 0 {
			return 0, nil, lp.ErrInfeasible
		}
		ubs = append(ubs, bound{j: j, val: u})
	}

	m := len(rows) + len(ubs)
	total := n + m // one slack per inequality
	c := make([]float64, total)
	copy(c, p.C)

	a := mat.NewDense(m, total, nil)
	b := make([]float64, m)
	for i, r := range rows {
		for j, v := range r.coeffs {
			a.Set(i, j, v)
		}
		a.Set(i, n+i, 1)
		b[i] = r.rhs
	}
	for k, ub := range ubs {
		i := len(rows) + k
		a.Set(i, ub.j, 1)
		a.Set(i, n+i, 1)
		b[i] = ub.val
	}

	obj, xFull, err := lp.Simplex(c, a, b, 1e-10, nil)
	if err != nil {
		return 0, nil, err
	}

	x := make([]float64, n)
	shiftObj := obj
	for j := 0; j < n; j++ {
		x[j] = xFull[j] + nd.lower[j]
		shiftObj += p.C[j] * nd.lower[j]
	}
	return shiftObj, x, nil
}
