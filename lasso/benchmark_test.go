package lasso

import (
	"testing"
)

// BenchmarkFit tests the performance of a full single-target fit
func BenchmarkFit(b *testing.B) {
	x, y := makeFitData(200, []float64{2, -1, 0, 0.5, 0, 0, 1, 0, -0.5, 0}, 1.0, 0.05, 99)
	opts := &Options{Alpha: 0.1, Rho: 1, Tol: 1e-4, MaxIter: 1000, FitIntercept: true}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		model, err := New(opts)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		if err := model.Fit(x, y); err != nil {
			b.Fatalf("Fit failed: %v", err)
		}
	}
}

// BenchmarkFitWorkers tests the performance of a concurrent multi-target fit
func BenchmarkFitWorkers(b *testing.B) {
	const (
		nSamples  = 200
		nFeatures = 10
		nTargets  = 8
		seed      = 99
	)

	x, y := makeMultiTarget(nSamples, nFeatures, nTargets, seed)
	opts := &Options{Alpha: 0.1, Rho: 1, Tol: 1e-4, MaxIter: 1000, FitIntercept: true, Workers: 4}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		model, err := New(opts)
		if err != nil {
			b.Fatalf("New failed: %v", err)
		}
		if err := model.Fit(x, y); err != nil {
			b.Fatalf("Fit failed: %v", err)
		}
	}
}

// BenchmarkPredict tests the performance of prediction on a fitted model
func BenchmarkPredict(b *testing.B) {
	x, y := makeFitData(200, []float64{2, -1, 0, 0.5, 0, 0, 1, 0, -0.5, 0}, 1.0, 0.05, 99)
	model, err := New(&Options{Alpha: 0.1, Rho: 1, Tol: 1e-4, MaxIter: 1000, FitIntercept: true})
	if err != nil {
		b.Fatalf("New failed: %v", err)
	}
	if err := model.Fit(x, y); err != nil {
		b.Fatalf("Fit failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := model.Predict(x); err != nil {
			b.Fatalf("Predict failed: %v", err)
		}
	}
}
