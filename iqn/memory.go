// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iqn

import (
	"gonum.org/v1/gonum/mat"
)

// funcMemory is the per-function memory store: for every component function
// it remembers the point 𝐭ᵢ, gradient 𝐲ᵢ and local curvature 𝐐ᵢ observed on
// the last visit. Records are created once by seed and then overwritten in
// place by commit; they are never rebuilt during a run.
type funcMemory struct {
	n, d   int
	points []*mat.VecDense // 𝐭ᵢ last evaluation point
	grads  []*mat.VecDense // 𝐲ᵢ last gradient
	curvs  []*mat.SymDense // 𝐐ᵢ local curvature approximation
}

func (m *funcMemory) alloc(n, d int) {
	m.n, m.d = n, d
	m.points = make([]*mat.VecDense, n)
	m.grads = make([]*mat.VecDense, n)
	m.curvs = make([]*mat.SymDense, n)
	for i := 0; i < n; i++ {
		m.points[i] = mat.NewVecDense(d, nil)
		m.grads[i] = mat.NewVecDense(d, nil)
		m.curvs[i] = mat.NewSymDense(d, nil)
	}
}

// seed initializes every record against the point z: 𝐭ᵢ = z, 𝐐ᵢ = 𝐈 and
// 𝐲ᵢ = ∇𝒇ᵢ(z), costing exactly n gradient evaluations. The gradients are
// accumulated into sum so the caller can form the aggregate mean.
func (m *funcMemory) seed(fn Objective, z, sum *mat.VecDense) {
	for i := 0; i < m.n; i++ {
		m.points[i].CopyVec(z)
		fn.Gradient(z.RawVector().Data, i, m.grads[i].RawVector().Data)
		identSym(m.curvs[i])
		sum.AddVec(sum, m.grads[i])
	}
}

// secantUpdate computes the rank-two corrected curvature for component i
// from the secant pair (𝐬, 𝐲) into dst:
//
//	𝐐ⁿᵉʷ = 𝐐ᵢ + 𝐲𝐲ᵀ/𝐲ᵀ𝐬 - 𝐐ᵢ𝐬𝐬ᵀ𝐐ᵢ/𝐬ᵀ𝐐ᵢ𝐬
//
// which satisfies the secant equation 𝐐ⁿᵉʷ𝐬 = 𝐲 and keeps dst symmetric
// positive semi-definite when the curvature condition 𝐲ᵀ𝐬 > 0 holds.
// The denominators are intentionally unguarded: a degenerate step with
// 𝐲ᵀ𝐬 ≤ 0 propagates NaN/Inf through the aggregates and surfaces at the
// objective check instead of being silently skipped or clamped.
// The stored record is not touched; qs is scratch for 𝐐ᵢ𝐬.
func (m *funcMemory) secantUpdate(i int, s, y, qs *mat.VecDense, dst *mat.SymDense) {
	q := m.curvs[i]
	qs.MulVec(q, s)
	ys := mat.Dot(y, s)
	sqs := mat.Dot(s, qs)
	dst.CopySym(q)
	dst.SymRankOne(dst, 1/ys, y)
	dst.SymRankOne(dst, -1/sqs, qs)
}

// commit overwrites the record of component i with the newly observed
// triple. Must only be called after the aggregates have incorporated the
// delta: the old record has to stay readable exactly long enough for the
// driver to subtract its contribution.
func (m *funcMemory) commit(i int, x, grad *mat.VecDense, q *mat.SymDense) {
	m.points[i].CopyVec(x)
	m.grads[i].CopyVec(grad)
	m.curvs[i].CopySym(q)
}

func identSym(a *mat.SymDense) {
	a.Zero()
	n, _ := a.Dims()
	for i := 0; i < n; i++ {
		a.SetSym(i, i, 1)
	}
}
