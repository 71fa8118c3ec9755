package admm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrSingularSystem is returned when the system matrix X^T X/n + rho D^T D
// cannot be inverted. Increasing rho or checking the rank of the transform
// usually resolves it.
var ErrSingularSystem = errors.New("singular system matrix")

// Params holds the hyperparameters of a generalized lasso solve
type Params struct {
	Alpha   float64 // L1 penalty weight, >= 0
	Rho     float64 // augmented Lagrangian penalty weight, > 0
	Tol     float64 // threshold on the cost change between iterations, > 0
	MaxIter int     // iteration budget per target column, >= 1
}

// Result holds the outcome of a solve across target columns
type Result struct {
	Coef      *mat.Dense // m x k transform-domain coefficients, one column per target
	Iters     []int      // last 0-based iteration index reached per target
	Converged []bool     // whether the cost gap dropped below Tol per target
}

// Problem binds a design matrix X (n x p), a transform matrix D (m x p) and
// hyperparameters, with the inverse of X^T X/n + rho D^T D precomputed once
// and shared by every target column. The coefficients returned for each
// column are the soft-thresholded auxiliary variable z (the transform-domain
// estimate of D w), not the primal w itself; with D = identity the two agree
// at convergence.
//
// A Problem is read-only after construction, so SolveColumn may be called
// from multiple goroutines concurrently.
type Problem struct {
	x mat.Matrix // n x p design matrix
	d mat.Matrix // m x p transform matrix

	alpha     float64
	rho       float64
	tol       float64
	maxIter   int
	threshold float64 // alpha / rho

	nSamples  int
	nFeatures int
	nPenalty  int // rows of D

	inv *mat.Dense // (X^T X/n + rho D^T D)^(-1)
}

// NewProblem binds x, d and the hyperparameters and precomputes the inverse
// system matrix. Inputs are assumed validated and finite; the caller centers
// and scales x beforehand if needed. The only failure is a singular system,
// reported as ErrSingularSystem.
func NewProblem(x, d mat.Matrix, prm Params) (*Problem, error) {
	n, p := x.Dims()
	m, _ := d.Dims()

	var sys mat.Dense
	sys.Mul(x.T(), x)
	sys.Scale(1/float64(n), &sys)

	var pen mat.Dense
	pen.Mul(d.T(), d)
	pen.Scale(prm.Rho, &pen)
	sys.Add(&sys, &pen)

	inv := mat.NewDense(p, p, nil)
	if err := inv.Inverse(&sys); err != nil {
		// An ill-conditioned but invertible system still yields a usable
		// inverse; only exact singularity aborts the solve.
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
		}
	}

	return &Problem{
		x:         x,
		d:         d,
		alpha:     prm.Alpha,
		rho:       prm.Rho,
		tol:       prm.Tol,
		maxIter:   prm.MaxIter,
		threshold: prm.Alpha / prm.Rho,
		nSamples:  n,
		nFeatures: p,
		nPenalty:  m,
		inv:       inv,
	}, nil
}

// Solve builds a Problem from x, d and prm and solves every column of y.
// It is the one-call form of NewProblem followed by Problem.Solve.
func Solve(x, y, d mat.Matrix, prm Params) (*Result, error) {
	pb, err := NewProblem(x, d, prm)
	if err != nil {
		return nil, err
	}
	return pb.Solve(y), nil
}

// Solve runs SolveColumn for every column of y (n x k) and packs the
// per-column vectors into a single m x k coefficient matrix. Columns are
// independent; solving them together is identical to solving each against
// its own k=1 response.
func (pb *Problem) Solve(y mat.Matrix) *Result {
	n, k := y.Dims()
	res := &Result{
		Coef:      mat.NewDense(pb.nPenalty, k, nil),
		Iters:     make([]int, k),
		Converged: make([]bool, k),
	}

	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, y)
		z, iters, converged := pb.SolveColumn(mat.NewVecDense(n, col))
		res.Coef.SetCol(j, z.RawVector().Data)
		res.Iters[j] = iters
		res.Converged[j] = converged
	}
	return res
}

// SolveColumn runs the ADMM iteration for a single response column and
// returns the final z vector, the last 0-based iteration index and whether
// the stop test fired. When the budget is exhausted the index is MaxIter-1,
// which doubles as the non-convergence signal; exhaustion is not an error.
func (pb *Problem) SolveColumn(y mat.Vector) (*mat.VecDense, int, bool) {
	// w0 = X^T y / n, kept around as the constant part of every w-update.
	xty := mat.NewVecDense(pb.nFeatures, nil)
	xty.MulVec(pb.x.T(), y)
	xty.ScaleVec(1/float64(pb.nSamples), xty)

	w := mat.NewVecDense(pb.nFeatures, nil)
	w.CopyVec(xty)

	// z0 = D w0, h0 = 0 with z's shape.
	z := mat.NewVecDense(pb.nPenalty, nil)
	z.MulVec(pb.d, w)
	h := mat.NewVecDense(pb.nPenalty, nil)

	// Scratch reused across iterations.
	dw := mat.NewVecDense(pb.nPenalty, nil)
	mix := mat.NewVecDense(pb.nPenalty, nil)
	rhs := mat.NewVecDense(pb.nFeatures, nil)
	resid := mat.NewVecDense(pb.nSamples, nil)

	cost := costFunction(pb.x, y, w, z, pb.alpha, resid)
	iters := pb.maxIter - 1
	converged := false

	for t := 0; t < pb.maxIter; t++ {
		// w <- M (X^T y/n + rho D^T (z - h/rho))
		mix.AddScaledVec(z, -1/pb.rho, h)
		rhs.MulVec(pb.d.T(), mix)
		rhs.AddScaledVec(xty, pb.rho, rhs)
		w.MulVec(pb.inv, rhs)

		// z <- SoftThreshold(D w + h/rho, alpha/rho)
		dw.MulVec(pb.d, w)
		mix.AddScaledVec(dw, 1/pb.rho, h)
		softThresholdVec(z, mix, pb.threshold)

		// h <- h + rho (D w - z)
		mix.SubVec(dw, z)
		h.AddScaledVec(h, pb.rho, mix)

		next := costFunction(pb.x, y, w, z, pb.alpha, resid)
		if math.Abs(next-cost) < pb.tol {
			iters = t
			converged = true
			break
		}
		cost = next
	}

	return z, iters, converged
}

// costFunction evaluates ||y - X w||_2 / n + alpha sum|z| into resid's
// storage. The residual norm is deliberately not squared; the stop test
// tracks this exact scalar and substituting the squared form would change
// convergence behavior.
func costFunction(x mat.Matrix, y, w, z mat.Vector, alpha float64, resid *mat.VecDense) float64 {
	n, _ := x.Dims()
	resid.MulVec(x, w)
	resid.SubVec(y, resid)
	return mat.Norm(resid, 2)/float64(n) + alpha*mat.Norm(z, 1)
}

// SoftThreshold shrinks x toward zero by t, clamping to zero inside [-t, t].
// It is the proximal operator of the L1 norm with weight t.
func SoftThreshold(x, t float64) float64 {
	if math.Abs(x) <= t {
		return 0
	}
	if x > 0 {
		return x - t
	}
	return x + t
}

// softThresholdVec applies SoftThreshold elementwise, writing into dst.
// Both vectors must be contiguous and of equal length.
func softThresholdVec(dst, src *mat.VecDense, t float64) {
	dstData := dst.RawVector().Data
	for i, v := range src.RawVector().Data {
		dstData[i] = SoftThreshold(v, t)
	}
}

// DifferenceMatrix returns the (p-1) x p first-difference operator used by
// the fused lasso: row i has +1 at column i and -1 at column i+1. Penalizing
// D w with it drives neighboring coefficients to share values.
func DifferenceMatrix(p int) *mat.Dense {
	if p < 2 {
		panic("difference matrix requires at least two features")
	}
	d := mat.NewDense(p-1, p, nil)
	for i := 0; i < p-1; i++ {
		d.Set(i, i, 1)
		d.Set(i, i+1, -1)
	}
	return d
}
