package lasso

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/sparsefit/go-generalized-lasso/admm"
	"github.com/sparsefit/go-generalized-lasso/preprocess"
)

var (
	ErrNegativeAlpha   = errors.New("negative alpha")
	ErrNonPositiveRho  = errors.New("non-positive rho")
	ErrNonPositiveTol  = errors.New("non-positive tolerance")
	ErrInvalidMaxIter  = errors.New("max iterations must be at least 1")
	ErrNegativeWorkers = errors.New("negative workers")
	ErrNotFitted       = errors.New("model is not fitted")
	ErrEmptyDesign     = errors.New("empty design matrix")
	ErrRowMismatch     = errors.New("response rows do not match design rows")
	ErrFeatureMismatch = errors.New("feature count does not match fitted model")
	ErrTargetMismatch  = errors.New("target count does not match fitted model")
)

// Options configures an ADMMRegression
type Options struct {
	Alpha        float64 // L1 penalty weight, >= 0
	Rho          float64 // augmented Lagrangian penalty weight, > 0
	Tol          float64 // stop threshold on the cost change between iterations, > 0
	MaxIter      int     // iteration budget per target, >= 1
	FitIntercept bool    // center features and targets, recover an intercept
	Normalize    bool    // scale centered features to unit norm; takes effect only with FitIntercept
	Workers      int     // concurrent target solves during Fit; <= 1 solves sequentially
}

// NewDefaultOptions returns the default configuration: alpha 1, rho 1,
// tolerance 1e-4, a budget of 1000 iterations and intercept fitting on
func NewDefaultOptions() *Options {
	return &Options{
		Alpha:        1.0,
		Rho:          1.0,
		Tol:          1e-4,
		MaxIter:      1000,
		FitIntercept: true,
	}
}

// Validate checks the hyperparameter bounds
func (o *Options) Validate() error {
	if o.Alpha < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeAlpha, o.Alpha)
	}
	if o.Rho <= 0 {
		return fmt.Errorf("%w: %v", ErrNonPositiveRho, o.Rho)
	}
	if o.Tol <= 0 {
		return fmt.Errorf("%w: %v", ErrNonPositiveTol, o.Tol)
	}
	if o.MaxIter < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxIter, o.MaxIter)
	}
	if o.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeWorkers, o.Workers)
	}
	return nil
}

// FitDiagnostics reports how the last Fit behaved
type FitDiagnostics struct {
	AlphaZero  bool   // alpha was zero, so the fit degenerates to ridge-like updates that may converge poorly
	Iterations []int  // last 0-based iteration index per target
	Converged  []bool // whether each target met the tolerance within budget
}

// ADMMRegression is a linear model with an L1 coefficient penalty fitted by
// the ADMM solver. It supports multi-output responses; each target column is
// solved independently against the shared precomputed system. A model is not
// safe for concurrent mutation, but once fitted it may serve Predict and
// Score from multiple goroutines.
type ADMMRegression struct {
	opts Options

	coef      *mat.Dense // p x k, one column per target
	intercept []float64
	nIter     []int
	converged []bool
	alphaZero bool
	nFeatures int
	nTargets  int
	fitted    bool
}

// New creates an estimator with the given options. A nil opts selects the
// defaults.
func New(opts *Options) (*ADMMRegression, error) {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ADMMRegression{opts: *opts}, nil
}

// Fit estimates coefficients and intercepts from the design matrix x (n x p)
// and the response y (n x 1 or n x k for multi-output). When Workers is
// above one, target columns are solved concurrently; results are identical
// to the sequential path since each column owns its state.
func (r *ADMMRegression) Fit(x, y mat.Matrix) error {
	n, p := x.Dims()
	yn, k := y.Dims()
	if n == 0 || p == 0 {
		return ErrEmptyDesign
	}
	if yn != n {
		return fmt.Errorf("%w: design has %d rows, response has %d", ErrRowMismatch, n, yn)
	}

	xc, yc, tr := preprocess.Apply(x, y, r.opts.FitIntercept, r.opts.Normalize)

	prob, err := admm.NewProblem(xc, identity(p), admm.Params{
		Alpha:   r.opts.Alpha,
		Rho:     r.opts.Rho,
		Tol:     r.opts.Tol,
		MaxIter: r.opts.MaxIter,
	})
	if err != nil {
		return fmt.Errorf("factorizing system: %w", err)
	}

	coef := mat.NewDense(p, k, nil)
	nIter := make([]int, k)
	converged := make([]bool, k)

	workers := r.opts.Workers
	if workers > k {
		workers = k
	}
	if workers <= 1 {
		col := make([]float64, n)
		for j := 0; j < k; j++ {
			mat.Col(col, j, yc)
			z, iters, ok := prob.SolveColumn(mat.NewVecDense(n, col))
			coef.SetCol(j, z.RawVector().Data)
			nIter[j] = iters
			converged[j] = ok
		}
	} else {
		// Fan out across targets; every goroutine writes only its own
		// column of the outputs.
		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for j := 0; j < k; j++ {
			wg.Add(1)
			sem <- struct{}{}
			go func(j int) {
				defer wg.Done()
				defer func() { <-sem }()

				col := make([]float64, n)
				mat.Col(col, j, yc)
				z, iters, ok := prob.SolveColumn(mat.NewVecDense(n, col))
				coef.SetCol(j, z.RawVector().Data)
				nIter[j] = iters
				converged[j] = ok
			}(j)
		}
		wg.Wait()
	}

	r.intercept = tr.Restore(coef)
	r.coef = coef
	r.nIter = nIter
	r.converged = converged
	r.alphaZero = r.opts.Alpha == 0
	r.nFeatures = p
	r.nTargets = k
	r.fitted = true
	return nil
}

// Predict applies the fitted model to x (n x p) and returns an n x k matrix
// of predictions
func (r *ADMMRegression) Predict(x mat.Matrix) (*mat.Dense, error) {
	if !r.fitted {
		return nil, ErrNotFitted
	}
	n, p := x.Dims()
	if p != r.nFeatures {
		return nil, fmt.Errorf("%w: got %d, fitted with %d", ErrFeatureMismatch, p, r.nFeatures)
	}

	pred := mat.NewDense(n, r.nTargets, nil)
	pred.Mul(x, r.coef)
	for i := 0; i < n; i++ {
		for c := 0; c < r.nTargets; c++ {
			pred.Set(i, c, pred.At(i, c)+r.intercept[c])
		}
	}
	return pred, nil
}

// Score returns the coefficient of determination of the prediction against
// y, averaged uniformly across targets. The best possible score is 1.
func (r *ADMMRegression) Score(x, y mat.Matrix) (float64, error) {
	pred, err := r.Predict(x)
	if err != nil {
		return 0, err
	}
	n, k := y.Dims()
	pn, _ := pred.Dims()
	if n != pn {
		return 0, fmt.Errorf("%w: design has %d rows, response has %d", ErrRowMismatch, pn, n)
	}
	if k != r.nTargets {
		return 0, fmt.Errorf("%w: got %d, fitted with %d", ErrTargetMismatch, k, r.nTargets)
	}

	est := make([]float64, n)
	obs := make([]float64, n)
	total := 0.0
	for c := 0; c < k; c++ {
		mat.Col(est, c, pred)
		mat.Col(obs, c, y)
		total += stat.RSquaredFrom(est, obs, nil)
	}
	return total / float64(k), nil
}

// Coef returns the fitted p x k coefficient matrix, or nil before Fit
func (r *ADMMRegression) Coef() *mat.Dense {
	return r.coef
}

// Intercept returns the fitted per-target intercepts, or nil before Fit.
// Without intercept fitting the values are zero.
func (r *ADMMRegression) Intercept() []float64 {
	return r.intercept
}

// Iterations returns the per-target iteration counts of the last Fit. A
// count of MaxIter-1 together with a false convergence flag means the budget
// ran out.
func (r *ADMMRegression) Iterations() []int {
	return r.nIter
}

// Diagnostics returns convergence information about the last Fit
func (r *ADMMRegression) Diagnostics() FitDiagnostics {
	return FitDiagnostics{
		AlphaZero:  r.alphaZero,
		Iterations: r.nIter,
		Converged:  r.converged,
	}
}

// RegressionState represents the serializable state of ADMMRegression
type RegressionState struct {
	Version      int     `gob:"version"`
	Alpha        float64 `gob:"alpha"`
	Rho          float64 `gob:"rho"`
	Tol          float64 `gob:"tol"`
	MaxIter      int     `gob:"max_iter"`
	FitIntercept bool    `gob:"fit_intercept"`
	Normalize    bool    `gob:"normalize"`
	Workers      int     `gob:"workers"`

	Fitted    bool      `gob:"fitted"`
	NFeatures int       `gob:"n_features"`
	NTargets  int       `gob:"n_targets"`
	CoefData  []float64 `gob:"coef_data"` // p x k coefficients, row-major
	Intercept []float64 `gob:"intercept"`
	NIter     []int     `gob:"n_iter"`
	Converged []bool    `gob:"converged"`
	AlphaZero bool      `gob:"alpha_zero"`
}

// Save serializes the model state to gob format
func (r *ADMMRegression) Save(w io.Writer) error {
	state := RegressionState{
		Version:      1,
		Alpha:        r.opts.Alpha,
		Rho:          r.opts.Rho,
		Tol:          r.opts.Tol,
		MaxIter:      r.opts.MaxIter,
		FitIntercept: r.opts.FitIntercept,
		Normalize:    r.opts.Normalize,
		Workers:      r.opts.Workers,
		Fitted:       r.fitted,
	}

	if r.fitted {
		raw := r.coef.RawMatrix()
		state.CoefData = make([]float64, len(raw.Data))
		copy(state.CoefData, raw.Data)
		state.Intercept = append([]float64(nil), r.intercept...)
		state.NIter = append([]int(nil), r.nIter...)
		state.Converged = append([]bool(nil), r.converged...)
		state.AlphaZero = r.alphaZero
		state.NFeatures = r.nFeatures
		state.NTargets = r.nTargets
	}

	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes model state from gob format
func Load(r io.Reader) (*ADMMRegression, error) {
	var state RegressionState
	if err := gob.NewDecoder(r).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	model, err := New(&Options{
		Alpha:        state.Alpha,
		Rho:          state.Rho,
		Tol:          state.Tol,
		MaxIter:      state.MaxIter,
		FitIntercept: state.FitIntercept,
		Normalize:    state.Normalize,
		Workers:      state.Workers,
	})
	if err != nil {
		return nil, err
	}
	if !state.Fitted {
		return model, nil
	}

	if len(state.CoefData) != state.NFeatures*state.NTargets {
		return nil, errors.New("invalid coefficient data length")
	}
	if len(state.Intercept) != state.NTargets {
		return nil, errors.New("invalid intercept data length")
	}

	coefData := make([]float64, len(state.CoefData))
	copy(coefData, state.CoefData)
	model.coef = mat.NewDense(state.NFeatures, state.NTargets, coefData)
	model.intercept = state.Intercept
	model.nIter = state.NIter
	model.converged = state.Converged
	model.alphaZero = state.AlphaZero
	model.nFeatures = state.NFeatures
	model.nTargets = state.NTargets
	model.fitted = true
	return model, nil
}

func identity(p int) *mat.Dense {
	d := mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		d.Set(i, i, 1)
	}
	return d
}
