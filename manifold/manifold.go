// Package manifold describes how a solver may move a parameter block. A step is taken in the
// block's tangent space and mapped back onto the block with Plus.
package manifold

import (
	"gonum.org/v1/gonum/num/dual"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/icp/autodiff"
	"go.viam.com/icp/spatialmath"
)

// Manifold is a smooth parameterization of a parameter block.
type Manifold interface {
	// AmbientSize is the length of the parameter block.
	AmbientSize() int
	// TangentSize is the number of degrees of freedom a step has.
	TangentSize() int
	// Plus writes x ⊞ delta into out. out may alias x.
	Plus(x, delta, out []float64)
	// PlusJacobian writes d(x ⊞ delta)/d(delta), evaluated at delta, into jacobian in row-major
	// AmbientSize x TangentSize order.
	PlusJacobian(x, delta, jacobian []float64)
}

// Euclidean is ordinary vector addition.
type Euclidean struct {
	size int
}

// NewEuclidean returns the flat manifold of the given size.
func NewEuclidean(size int) *Euclidean {
	return &Euclidean{size: size}
}

// AmbientSize returns the block size.
func (e *Euclidean) AmbientSize() int { return e.size }

// TangentSize returns the block size.
func (e *Euclidean) TangentSize() int { return e.size }

// Plus adds delta to x.
func (e *Euclidean) Plus(x, delta, out []float64) {
	for i := 0; i < e.size; i++ {
		out[i] = x[i] + delta[i]
	}
}

// PlusJacobian writes the identity.
func (e *Euclidean) PlusJacobian(x, delta, jacobian []float64) {
	for i := 0; i < e.size; i++ {
		for j := 0; j < e.size; j++ {
			if i == j {
				jacobian[i*e.size+j] = 1
			} else {
				jacobian[i*e.size+j] = 0
			}
		}
	}
}

// expTaylorThreshold is the squared step length below which exp(δ) is replaced by (1, δ).
const expTaylorThreshold = 2.220446049250313e-16

// Quaternion is the unit sphere of w-first quaternions [w, x, y, z] with a 3 dimensional tangent
// space. Plus(q, δ) = exp(δ) ⊗ q where exp(δ) = (cos|δ|, sin|δ| δ/|δ|), so a step δ rotates q by
// 2|δ| about δ.
type Quaternion struct{}

// NewQuaternion returns the unit quaternion manifold.
func NewQuaternion() *Quaternion {
	return &Quaternion{}
}

// AmbientSize is 4.
func (*Quaternion) AmbientSize() int { return spatialmath.QuaternionSize }

// TangentSize is 3.
func (*Quaternion) TangentSize() int { return 3 }

// Plus left-multiplies x by exp(delta). The result is renormalized so repeated steps do not drift
// off the sphere.
func (*Quaternion) Plus(x, delta, out []float64) {
	step := quat.Exp(quat.Number{Imag: delta[0], Jmag: delta[1], Kmag: delta[2]})
	q := spatialmath.Normalize(quat.Mul(step, spatialmath.QuatFromSlice(x)))
	spatialmath.QuatToSlice(q, out)
}

// PlusJacobian differentiates exp(delta) ⊗ x with dual numbers at the given delta.
func (*Quaternion) PlusJacobian(x, delta, jacobian []float64) {
	base := spatialmath.QuatFromSlice(x)
	kernel := func(p [][]dual.Number, r []dual.Number) {
		quaternionPlus[dual.Number](autodiff.Dual{}, base, p[0], r)
	}
	autodiff.Jacobian(spatialmath.QuaternionSize, [][]float64{delta[:3]}, nil, [][]float64{jacobian}, kernel)
}

func quaternionPlus[T any](a autodiff.Arithmetic[T], x quat.Number, delta, out []T) {
	norm2 := a.Add(a.Add(a.Mul(delta[0], delta[0]), a.Mul(delta[1], delta[1])), a.Mul(delta[2], delta[2]))

	var w, s T
	if a.Real(norm2) <= expTaylorThreshold {
		w, s = a.Const(1), a.Const(1)
	} else {
		norm := a.Sqrt(norm2)
		w, s = a.Cos(norm), a.Div(a.Sin(norm), norm)
	}
	u0, u1, u2 := a.Mul(s, delta[0]), a.Mul(s, delta[1]), a.Mul(s, delta[2])
	x0, x1, x2, x3 := a.Const(x.Real), a.Const(x.Imag), a.Const(x.Jmag), a.Const(x.Kmag)

	// Hamilton product (w, u) ⊗ x
	out[0] = a.Sub(a.Sub(a.Sub(a.Mul(w, x0), a.Mul(u0, x1)), a.Mul(u1, x2)), a.Mul(u2, x3))
	out[1] = a.Sub(a.Add(a.Add(a.Mul(w, x1), a.Mul(u0, x0)), a.Mul(u1, x3)), a.Mul(u2, x2))
	out[2] = a.Add(a.Add(a.Sub(a.Mul(w, x2), a.Mul(u0, x3)), a.Mul(u1, x0)), a.Mul(u2, x1))
	out[3] = a.Add(a.Sub(a.Add(a.Mul(w, x3), a.Mul(u0, x2)), a.Mul(u1, x1)), a.Mul(u2, x0))
}
