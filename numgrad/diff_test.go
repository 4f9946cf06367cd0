// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numgrad

import (
	"math"
	"testing"
)

// Two components with known analytic gradients:
//
//	f₀(x) = x₀² + 3x₀x₁      ∇f₀ = (2x₀ + 3x₁, 3x₀)
//	f₁(x) = sin(x₀) + x₁³    ∇f₁ = (cos(x₀), 3x₁²)
func testEval(x []float64, i int) float64 {
	if i == 0 {
		return x[0]*x[0] + 3*x[0]*x[1]
	}
	return math.Sin(x[0]) + x[1]*x[1]*x[1]
}

func testGrad(x []float64, i int) []float64 {
	if i == 0 {
		return []float64{2*x[0] + 3*x[1], 3 * x[0]}
	}
	return []float64{math.Cos(x[0]), 3 * x[1] * x[1]}
}

func TestGradient(t *testing.T) {

	tests := []struct {
		method Method
		tol    float64
	}{
		{Forward, 1e-6},
		{Central, 1e-8},
	}

	x := []float64{0.7, -1.3}
	keep := []float64{0.7, -1.3}

	for _, tt := range tests {
		o := &Objective{N: 2, Dim: 2, Eval: testEval, Method: tt.method}
		if err := o.Check(); err != nil {
			panic(err)
		}

		grad := make([]float64, 2)
		for i := 0; i < o.NumFunctions(); i++ {
			o.Gradient(x, i, grad)
			want := testGrad(x, i)
			for k := range grad {
				if math.Abs(grad[k]-want[k]) > tt.tol {
					t.Fatalf("TestGradient: method %v component %d entry %d: got %v want %v",
						tt.method, i, k, grad[k], want[k])
				}
			}
		}

		// The evaluation point must be restored after the perturbations.
		for k := range x {
			if x[k] != keep[k] {
				t.Fatal("TestGradient: evaluation point not restored")
			}
		}
	}
}

func TestGradientRelStep(t *testing.T) {

	o := &Objective{N: 2, Dim: 2, Eval: testEval, Method: Central, RelStep: 1e-6}
	if err := o.Check(); err != nil {
		panic(err)
	}

	x := []float64{2.5, 4.0}
	grad := make([]float64, 2)
	o.Gradient(x, 0, grad)

	want := testGrad(x, 0)
	for k := range grad {
		if math.Abs(grad[k]-want[k]) > 1e-5 {
			t.Fatalf("TestGradientRelStep: entry %d: got %v want %v", k, grad[k], want[k])
		}
	}

	// Near zero the relative step degenerates and the absolute rule takes over.
	x = []float64{0, 0}
	o.Gradient(x, 0, grad)
	if math.Abs(grad[0]) > 1e-5 || math.Abs(grad[1]) > 1e-5 {
		t.Fatal("TestGradientRelStep: wrong gradient at origin")
	}
}

func TestEvaluate(t *testing.T) {
	o := &Objective{N: 2, Dim: 2, Eval: testEval, Method: Forward}
	x := []float64{0.7, -1.3}
	if o.Evaluate(x, 1) != testEval(x, 1) {
		t.Fatal("TestEvaluate: value not forwarded")
	}
	if o.NumFunctions() != 2 {
		t.Fatal("TestEvaluate: wrong component count")
	}
}

func TestCheck(t *testing.T) {

	good := Objective{N: 2, Dim: 2, Eval: testEval, Method: Central}
	if err := good.Check(); err != nil {
		t.Fatal("TestCheck: unexpected error")
	}

	tests := []struct {
		name string
		mod  func(o *Objective)
	}{
		{"components", func(o *Objective) { o.N = 0 }},
		{"dimension", func(o *Objective) { o.Dim = 0 }},
		{"method", func(o *Objective) { o.Method = Method(9) }},
		{"eval", func(o *Objective) { o.Eval = nil }},
		{"relstep", func(o *Objective) { o.RelStep = -1 }},
	}

	for _, tt := range tests {
		o := good
		tt.mod(&o)
		if err := o.Check(); err == nil {
			t.Fatalf("TestCheck: %s accepted", tt.name)
		}
	}
}
