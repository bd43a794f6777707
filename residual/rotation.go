package residual

import (
	"github.com/golang/geo/r3"

	"go.viam.com/icp/autodiff"
)

// angleAxisTaylorThreshold is the squared angle, machine epsilon, below which Rodrigues' formula is
// replaced by its first order expansion p + ω×p. Derivatives stay finite and exact at zero.
const angleAxisTaylorThreshold = 2.220446049250313e-16

type vec3[T any] [3]T

func lift[T any](a autodiff.Arithmetic[T], v r3.Vector) vec3[T] {
	return vec3[T]{a.Const(v.X), a.Const(v.Y), a.Const(v.Z)}
}

func fromBlock[T any](block []T) vec3[T] {
	return vec3[T]{block[0], block[1], block[2]}
}

func add[T any](a autodiff.Arithmetic[T], u, v vec3[T]) vec3[T] {
	return vec3[T]{a.Add(u[0], v[0]), a.Add(u[1], v[1]), a.Add(u[2], v[2])}
}

func sub[T any](a autodiff.Arithmetic[T], u, v vec3[T]) vec3[T] {
	return vec3[T]{a.Sub(u[0], v[0]), a.Sub(u[1], v[1]), a.Sub(u[2], v[2])}
}

func scale[T any](a autodiff.Arithmetic[T], s T, v vec3[T]) vec3[T] {
	return vec3[T]{a.Mul(s, v[0]), a.Mul(s, v[1]), a.Mul(s, v[2])}
}

func dot[T any](a autodiff.Arithmetic[T], u, v vec3[T]) T {
	return a.Add(a.Add(a.Mul(u[0], v[0]), a.Mul(u[1], v[1])), a.Mul(u[2], v[2]))
}

func cross[T any](a autodiff.Arithmetic[T], u, v vec3[T]) vec3[T] {
	return vec3[T]{
		a.Sub(a.Mul(u[1], v[2]), a.Mul(u[2], v[1])),
		a.Sub(a.Mul(u[2], v[0]), a.Mul(u[0], v[2])),
		a.Sub(a.Mul(u[0], v[1]), a.Mul(u[1], v[0])),
	}
}

// quaternionRotatePoint rotates p by the w-first unit quaternion q = (w, u) as q·p·q⁻¹, expanded to
// p + 2w(u×p) + 2u×(u×p). q is not normalized here.
func quaternionRotatePoint[T any](a autodiff.Arithmetic[T], q []T, p vec3[T]) vec3[T] {
	w := q[0]
	u := vec3[T]{q[1], q[2], q[3]}
	two := a.Const(2)
	uxp := cross(a, u, p)
	return add(a, add(a, p, scale(a, a.Mul(two, w), uxp)), scale(a, two, cross(a, u, uxp)))
}

// angleAxisRotatePoint rotates p by the rotation vector aa (angle = |aa|) using Rodrigues' formula.
func angleAxisRotatePoint[T any](a autodiff.Arithmetic[T], aa []T, p vec3[T]) vec3[T] {
	omega := vec3[T]{aa[0], aa[1], aa[2]}
	theta2 := dot(a, omega, omega)
	if a.Real(theta2) <= angleAxisTaylorThreshold {
		return add(a, p, cross(a, omega, p))
	}

	theta := a.Sqrt(theta2)
	cosTheta, sinTheta := a.Cos(theta), a.Sin(theta)
	k := scale(a, a.Div(a.Const(1), theta), omega)

	// p cosθ + (k×p) sinθ + k (k·p)(1 − cosθ)
	kxp := cross(a, k, p)
	kdp := a.Mul(dot(a, k, p), a.Sub(a.Const(1), cosTheta))
	return add(a, add(a, scale(a, cosTheta, p), scale(a, sinTheta, kxp)), scale(a, kdp, k))
}

// transformQuaternion maps p through a (quaternion, translation) block pair.
func transformQuaternion[T any](a autodiff.Arithmetic[T], rotation, translation []T, p vec3[T]) vec3[T] {
	return add(a, quaternionRotatePoint(a, rotation, p), fromBlock(translation))
}

// transformAngleAxis maps p through a packed [rx, ry, rz, tx, ty, tz] block.
func transformAngleAxis[T any](a autodiff.Arithmetic[T], pose []T, p vec3[T]) vec3[T] {
	return add(a, angleAxisRotatePoint(a, pose[:3], p), fromBlock(pose[3:6]))
}
