// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numgrad

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Objective adapts a value-only decomposable function into the
// gradient-bearing contract the optimizer consumes, estimating every
// component gradient by finite differences.
//
// Each Gradient call costs dim+1 (Forward) or 2·dim (Central) component
// evaluations. The point passed to Gradient is perturbed in place and
// restored before returning.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
type Objective struct {
	N   int // The number of component functions
	Dim int // The dimension of the variable
	// Eval returns the value of component i at x.
	Eval func(x []float64, i int) float64
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute the absolute step size as
	// h = RelStep * sign(x) * abs(x). When RelStep is 0 the step is
	// h = sign(x) * eps * max(1, abs(x)) with a method-dependent eps.
	RelStep float64
}

// Check validates the adapter parameters.
func (o *Objective) Check() (err error) {
	switch {
	case o.N <= 0 || o.Dim <= 0:
		err = errors.New("negative dimensions")
	case o.Method != Forward && o.Method != Central:
		err = errors.New("unknown method")
	case o.Eval == nil:
		err = errors.New("object function is required")
	case math.IsNaN(o.RelStep) || o.RelStep < 0:
		err = errors.New("relative step must not less than 0")
	}
	return
}

func (o *Objective) NumFunctions() int {
	return o.N
}

func (o *Objective) Evaluate(x []float64, i int) float64 {
	return o.Eval(x, i)
}

// Gradient estimates the gradient of component i at x into grad.
func (o *Objective) Gradient(x []float64, i int, grad []float64) {

	eps := sqrtEps
	if o.Method == Central {
		eps = cubeEps
	}

	var f0 float64
	if o.Method == Forward {
		f0 = o.Eval(x, i)
	}

	for k := range grad {
		t := x[k]
		h := o.absoluteStep(t, eps)
		if o.Method == Central {
			x[k] = t - h
			f1 := o.Eval(x, i)
			x[k] = t + h
			f2 := o.Eval(x, i)
			grad[k] = (f2 - f1) / (2 * h)
		} else {
			x[k] = t + h
			grad[k] = (o.Eval(x, i) - f0) / h
		}
		x[k] = t
	}
}

func (o *Objective) absoluteStep(v, eps float64) float64 {
	if o.RelStep != 0 {
		s := math.Copysign(o.RelStep, v) * math.Abs(v)
		// Guard against a step rounding to nothing near zero.
		if d := (v + s) - v; d != 0 {
			return s
		}
	}
	return math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
}
