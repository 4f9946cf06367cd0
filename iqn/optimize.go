// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iqn

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the terminal condition
	LogLast LogLevel = 0
	// LogSweep print also the mean objective after every sweep
	LogSweep LogLevel = 1
	// LogVerbose print details of every sweep including the iterate
	LogVerbose LogLevel = 2
)

// Logger handles logging output for the optimizer.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

// Objective is a decomposable objective function 𝒇(𝐱) = (1/n)·∑𝒇ᵢ(𝐱)
// made of n component functions over a d-vector variable.
//
// The optimizer only consumes this contract: it assumes Gradient and
// Evaluate are pure functions of (x, i) returning shapes that match x.
// Contract violations (n = 0, mismatched dimensions) are caller errors
// and are not re-validated here.
type Objective interface {
	// NumFunctions returns the number of component functions n (n ≥ 1),
	// fixed for the optimizer's lifetime.
	NumFunctions() int
	// Gradient stores the gradient of component i at x into grad.
	Gradient(x []float64, i int, grad []float64)
	// Evaluate returns the value of component i at x.
	Evaluate(x []float64, i int) float64
}

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when the number of full sweeps reaches limit.
	// Every sweep visits each component function exactly once.
	MaxSweeps int
	// The iteration stop when the mean objective satisfied:
	//   (1/n)·∑𝒇ᵢ(𝐱) < 𝚝𝚘𝚕
	Tolerance float64
}

// Problem specifies the problem for the incremental quasi-Newton optimizer.
type Problem struct {
	Dim      int         // The dimension of the optimization variable
	Function Objective   // Decomposable objective function
	Step     float64     // Damping factor in (0, 1]; 1 recovers the undamped Newton step
	Stop     Termination // Stop condition
	// Rand draws the random point the per-function memory is seeded from.
	// The memory store is seeded from an independently drawn 𝒩(0,1) point,
	// decoupled from the initial iterate passed to Fit.
	// When nil a time-seeded source is used.
	Rand *rand.Rand
}

// New creates a new incremental quasi-Newton optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}

	switch {
	case p.Dim <= 0:
		err = errors.New("problem dimension must greater than 0")
	case p.Function == nil:
		err = errors.New("objective function is required")
	case math.IsNaN(p.Step) || p.Step <= 0 || p.Step > 1:
		err = errors.New("step size must lie in (0, 1]")
	case p.Stop.MaxSweeps <= 0:
		err = errors.New("max sweeps must greater than 0")
	case math.IsNaN(p.Stop.Tolerance) || p.Stop.Tolerance < 0:
		err = errors.New("tolerance must not less than 0")
	}
	if err != nil {
		return
	}

	rnd := p.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	optimizer = &Optimizer{
		iterSpec{
			d:      p.Dim,
			step:   p.Step,
			stop:   p.Stop,
			fn:     p.Function,
			rnd:    rnd,
			logger: *logger,
		},
	}
	return
}

// Optimizer implemented using the IQN algorithm: an incremental
// quasi-Newton method with local superlinear convergence rate.
//
// The objective 𝒇(𝐱) = (1/n)·∑𝒇ᵢ(𝐱) is minimized by sweeping cyclically
// over the component functions. For every visited component a rank-two
// secant correction is applied to its locally stored curvature 𝐐ᵢ, and the
// delta is folded into three incrementally maintained aggregates:
//
//	𝐁 = (1/n)·∑𝐐ᵢ        aggregate curvature
//	𝐮 = (1/n)·∑𝐐ᵢ𝐭ᵢ      aggregate Hessian-variable product
//	𝐠 = (1/n)·∑𝐲ᵢ        aggregate gradient
//
// after which the iterate takes a damped Newton step
//
//	𝐱 ← 𝛂·𝐁⁻¹(𝐮 - 𝐠) + (1-𝛂)·𝐱
//
// The per-step cost is dominated by the d×d factorization of 𝐁 while the
// memory cost stays at O(n·d²) for the per-function store.
//
// # Reference:
//
//   - A. Mokhtari, M. Eisen, A. Ribeiro, "IQN: An Incremental Quasi-Newton
//     Method with Local Superlinear Convergence Rate"
//     https://arxiv.org/abs/1702.00709
type Optimizer struct {
	iterSpec
}

type iterSpec struct {
	d      int
	step   float64
	stop   Termination
	fn     Objective
	rnd    *rand.Rand
	logger Logger
}

// Status is the terminal condition reported after a run.
type Status int

const (
	// NotTerminated means the run is still in progress.
	NotTerminated Status = iota
	// Converged means the mean objective dropped below the tolerance.
	Converged
	// SweepLimit means the sweep budget was exhausted before convergence.
	// This is a distinct outcome, not an error: the result carries the
	// best-known objective value.
	SweepLimit
	// NumericalFailure means the mean objective became NaN or infinite,
	// typically caused by a non-positive secant condition 𝐲ᵀ𝐬 ≤ 0 or a
	// singular aggregate curvature. Recognized, not recovered.
	NumericalFailure
)

func (s Status) String() string {
	switch s {
	case NotTerminated:
		return "NotTerminated"
	case Converged:
		return "Converged"
	case SweepLimit:
		return "SweepLimit"
	case NumericalFailure:
		return "NumericalFailure"
	default:
		return "UnknownStatus"
	}
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension d and component count n, the dominant storage
// is the per-function memory of approximately float64[n×(d² + 2d)].
type Workspace struct {
	d, n int
	iterCtx
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool      // Whether the optimization was converged.
	F       float64   // Final mean objective value.
	X       []float64 // Final iterate.
	Summary           // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status    Status // Terminal condition after optimization.
	NumSweeps int    // Number of full sweeps performed.
	NumGrad   int    // Number of component gradient evaluations performed.
	NumEval   int    // Number of component value evaluations performed.
}

// Init allocate the workspace for the optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.d, w.n = o.d, o.fn.NumFunctions()
	w.init(w.d, w.n)
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.d {
		panic("initial x dimension not match spec")
	}

	if w.d != o.d || w.n != o.fn.NumFunctions() {
		panic("workspace dimension not match spec")
	}

	w.reset()
	copy(w.x.RawVector().Data, x)

	driver := iterDriver{
		optimizer: o,
		workspace: w,
	}

	status := driver.mainLoop()

	out := make([]float64, o.d)
	copy(out, w.x.RawVector().Data)
	return &Result{
		OK: status == Converged,
		F:  w.f, X: out,
		Summary: Summary{
			Status:    status,
			NumSweeps: w.sweeps,
			NumGrad:   w.numGrad,
			NumEval:   w.numEval,
		},
	}
}

// iterCtx holds the aggregate state and scratch buffers of one run.
type iterCtx struct {
	mem funcMemory

	b *mat.SymDense // aggregate curvature 𝐁 = (1/n)·∑𝐐ᵢ
	u *mat.VecDense // aggregate Hessian-variable product 𝐮 = (1/n)·∑𝐐ᵢ𝐭ᵢ
	g *mat.VecDense // aggregate gradient 𝐠 = (1/n)·∑𝐲ᵢ
	x *mat.VecDense // iterate, owned exclusively by the driver

	q    *mat.SymDense // rank-two corrected local curvature
	z    *mat.VecDense // random point seeding the memory store
	s    *mat.VecDense // displacement 𝐬 = 𝐱 - 𝐭ᵢ
	y    *mat.VecDense // gradient displacement 𝐲 = ∇𝒇ᵢ(𝐱) - 𝐲ᵢ
	grad *mat.VecDense // gradient of the visited component at 𝐱
	qx   *mat.VecDense
	qt   *mat.VecDense
	rhs  *mat.VecDense
	dir  *mat.VecDense
	lu   mat.LU

	f       float64
	sweeps  int
	numGrad int
	numEval int
}

func (ctx *iterCtx) init(d, n int) {
	ctx.mem.alloc(n, d)
	ctx.b = mat.NewSymDense(d, nil)
	ctx.q = mat.NewSymDense(d, nil)
	ctx.u = mat.NewVecDense(d, nil)
	ctx.g = mat.NewVecDense(d, nil)
	ctx.x = mat.NewVecDense(d, nil)
	ctx.z = mat.NewVecDense(d, nil)
	ctx.s = mat.NewVecDense(d, nil)
	ctx.y = mat.NewVecDense(d, nil)
	ctx.grad = mat.NewVecDense(d, nil)
	ctx.qx = mat.NewVecDense(d, nil)
	ctx.qt = mat.NewVecDense(d, nil)
	ctx.rhs = mat.NewVecDense(d, nil)
	ctx.dir = mat.NewVecDense(d, nil)
}

func (ctx *iterCtx) reset() {
	ctx.f = 0
	ctx.sweeps = 0
	ctx.numGrad = 0
	ctx.numEval = 0
}
