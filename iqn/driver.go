// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iqn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// iterDriver is the main driver for the sweep loop of an optimization
// process, responsible for the aggregate state transitions.
type iterDriver struct {
	optimizer *Optimizer
	workspace *Workspace
}

// mainLoop seeds the per-function memory and then performs full cyclic
// sweeps until one of the three terminal conditions is reached. The
// checks run in a fixed order after every sweep: numerical failure
// first, then convergence, then the sweep budget.
func (d *iterDriver) mainLoop() (status Status) {

	o, w := d.optimizer, d.workspace
	log := &o.logger

	d.printInit()
	d.seedMemory()

	f := math.NaN()
	for w.sweeps = 1; w.sweeps <= o.stop.MaxSweeps; w.sweeps++ {
		d.sweep()

		f = d.meanObjective()
		if log.enable(LogSweep) {
			log.log("IQN: sweep %d, objective %.8e.\n", w.sweeps, f)
			if log.enable(LogVerbose) {
				log.log(" X =")
				for i := 0; i < o.d; i++ {
					log.log(" %.4e", w.x.AtVec(i))
				}
				log.log("\n")
			}
		}

		switch {
		case math.IsNaN(f) || math.IsInf(f, 0):
			status = NumericalFailure
		case f < o.stop.Tolerance:
			status = Converged
		case w.sweeps == o.stop.MaxSweeps:
			status = SweepLimit
		}
		if status != NotTerminated {
			break
		}
	}

	w.f = f
	d.printExit(status)
	return
}

// seedMemory performs the single initialization pass: every component
// record is seeded against an independently drawn 𝒩(0,1) point, not the
// caller's iterate. The aggregates start as
//
//	𝐠 = (1/n)·∑𝐲ᵢ    𝐁 = 𝐈    𝐮 = 𝐳
//
// which is consistent with the identity curvature of every record.
func (d *iterDriver) seedMemory() {
	o, w := d.optimizer, d.workspace

	for i := 0; i < o.d; i++ {
		w.z.SetVec(i, o.rnd.NormFloat64())
	}

	w.g.Zero()
	w.mem.seed(o.fn, w.z, w.g)
	w.numGrad += w.n
	w.g.ScaleVec(1/float64(w.n), w.g)

	identSym(w.b)
	w.u.CopyVec(w.z)
}

// sweep performs one full cyclic pass visiting every component function
// exactly once in the order (j+1) mod n.
func (d *iterDriver) sweep() {
	w := d.workspace
	for j := 0; j < w.n; j++ {
		d.innerStep((j + 1) % w.n)
	}
}

// innerStep visits component it: when the iterate moved since the last
// visit, it folds a rank-two curvature correction into the aggregates,
// commits the new record and applies the damped Newton update. Each inner
// step strictly depends on the aggregate state of the previous one, so
// the loop is intrinsically sequential.
func (d *iterDriver) innerStep(it int) {
	o, w := d.optimizer, d.workspace
	mem := &w.mem

	// No wasted work on stale components.
	w.s.SubVec(w.x, mem.points[it])
	if mat.Norm(w.s, 2) == 0 {
		return
	}

	o.fn.Gradient(w.x.RawVector().Data, it, w.grad.RawVector().Data)
	w.numGrad++
	w.y.SubVec(w.grad, mem.grads[it])

	mem.secantUpdate(it, w.s, w.y, w.qt, w.q)

	// Fold (1/n)·delta into the aggregates against the OLD record:
	//   𝐁 += (1/n)·(𝐐ⁿᵉʷ - 𝐐ᵢ)
	//   𝐮 += (1/n)·(𝐐ⁿᵉʷ𝐱 - 𝐐ᵢ𝐭ᵢ)
	//   𝐠 += (1/n)·(∇𝒇ᵢ(𝐱) - 𝐲ᵢ)
	inv := 1 / float64(w.n)
	qOld := mem.curvs[it]
	for r := 0; r < o.d; r++ {
		for c := r; c < o.d; c++ {
			w.b.SetSym(r, c, w.b.At(r, c)+inv*(w.q.At(r, c)-qOld.At(r, c)))
		}
	}
	w.qx.MulVec(w.q, w.x)
	w.qt.MulVec(qOld, mem.points[it])
	w.qx.SubVec(w.qx, w.qt)
	w.u.AddScaledVec(w.u, inv, w.qx)
	w.g.AddScaledVec(w.g, inv, w.y)

	// The aggregates have absorbed the delta, the record may go.
	mem.commit(it, w.x, w.grad, w.q)

	// Damped Newton update 𝐱 ← 𝛂·𝐁⁻¹(𝐮 - 𝐠) + (1-𝛂)·𝐱.
	// The factorization is recomputed on every committed step: the O(d³)
	// solve is the dominant cost term of the whole design.
	w.rhs.SubVec(w.u, w.g)
	w.lu.Factorize(w.b)
	if err := w.lu.SolveVecTo(w.dir, false, w.rhs); err != nil {
		if _, ok := err.(mat.Condition); !ok {
			// Singular aggregate curvature: poison the step so the
			// failure surfaces at the objective check.
			for i := 0; i < o.d; i++ {
				w.dir.SetVec(i, math.NaN())
			}
		}
	}
	w.x.ScaleVec(1-o.step, w.x)
	w.x.AddScaledVec(w.x, o.step, w.dir)
}

// meanObjective evaluates the overall objective as the mean of all
// component values at the current iterate. Purely observational: it feeds
// the convergence checks and the progress log, never the state transition.
func (d *iterDriver) meanObjective() float64 {
	o, w := d.optimizer, d.workspace
	x := w.x.RawVector().Data

	sum := 0.0
	for i := 0; i < w.n; i++ {
		sum += o.fn.Evaluate(x, i)
		w.numEval++
	}
	return sum / float64(w.n)
}

func (d *iterDriver) printInit() {
	o, w := d.optimizer, d.workspace
	log := &o.logger
	if log.enable(LogSweep) {
		log.log("RUNNING THE IQN CODE\n")
		log.log("           * * *\n")
		log.log("D = %d    N = %d    STEP = %g\n", o.d, w.n, o.step)
	}
}

func (d *iterDriver) printExit(status Status) {
	o, w := d.optimizer, d.workspace
	log := &o.logger
	if !log.enable(LogLast) {
		return
	}
	switch status {
	case NumericalFailure:
		log.log("IQN: converged to %v; terminating with failure. Try a smaller step size?\n", w.f)
	case Converged:
		log.log("IQN: minimized within tolerance %g; terminating optimization.\n", o.stop.Tolerance)
	case SweepLimit:
		log.log("IQN: maximum sweeps (%d) reached; terminating optimization.\n", o.stop.MaxSweeps)
	}
}
