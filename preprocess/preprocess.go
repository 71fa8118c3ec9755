package preprocess

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Transform captures the centering and scaling applied to a dataset so that
// coefficients fitted on the processed data can be mapped back to the
// original feature space
type Transform struct {
	XOffset []float64 // per-feature means, zeros when not centering
	XScale  []float64 // per-feature scales, ones when not normalizing
	YOffset []float64 // per-target means, zeros when not centering
}

// Apply returns centered (and optionally normalized) copies of x (n x p) and
// y (n x k) together with the Transform that undoes the shift. The inputs are
// never modified. With fitIntercept false both returns are plain copies and
// the transform is the identity; normalize only takes effect when centering.
// Normalization divides each centered column by its Euclidean norm, leaving
// zero-variance columns untouched.
func Apply(x, y mat.Matrix, fitIntercept, normalize bool) (*mat.Dense, *mat.Dense, *Transform) {
	xc := mat.DenseCopyOf(x)
	yc := mat.DenseCopyOf(y)
	n, p := xc.Dims()
	_, k := yc.Dims()

	t := &Transform{
		XOffset: make([]float64, p),
		XScale:  make([]float64, p),
		YOffset: make([]float64, k),
	}
	for j := range t.XScale {
		t.XScale[j] = 1
	}
	if !fitIntercept {
		return xc, yc, t
	}

	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, xc)
		mean := floats.Sum(col) / float64(n)
		t.XOffset[j] = mean
		floats.AddConst(-mean, col)
		if normalize {
			if scale := floats.Norm(col, 2); scale != 0 {
				t.XScale[j] = scale
				floats.Scale(1/scale, col)
			}
		}
		xc.SetCol(j, col)
	}

	for c := 0; c < k; c++ {
		mat.Col(col, c, yc)
		mean := floats.Sum(col) / float64(n)
		t.YOffset[c] = mean
		floats.AddConst(-mean, col)
		yc.SetCol(c, col)
	}

	return xc, yc, t
}

// Restore rescales coefficients fitted on the processed data back to the
// original feature units in place and returns the per-target intercepts
// implied by the offsets. coef is p x k, one column per target.
func (t *Transform) Restore(coef *mat.Dense) []float64 {
	p, k := coef.Dims()
	for j := 0; j < p; j++ {
		for c := 0; c < k; c++ {
			coef.Set(j, c, coef.At(j, c)/t.XScale[j])
		}
	}

	intercept := make([]float64, k)
	for c := 0; c < k; c++ {
		dot := 0.0
		for j := 0; j < p; j++ {
			dot += t.XOffset[j] * coef.At(j, c)
		}
		intercept[c] = t.YOffset[c] - dot
	}
	return intercept
}
