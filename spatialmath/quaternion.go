package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// QuaternionSize is the length of a quaternion parameter block.
//
// Quaternion parameter blocks are laid out w-first, [w, x, y, z], which matches the field order of
// quat.Number{Real, Imag, Jmag, Kmag}. Every quaternion block in this module uses that layout.
const QuaternionSize = 4

type quaternion quat.Number

// NewQuaternionOrientation wraps a quaternion as an Orientation. The quaternion is normalized.
func NewQuaternionOrientation(q quat.Number) Orientation {
	nq := quaternion(Normalize(q))
	return &nq
}

// Quaternion returns orientation in quaternion representation.
func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// AxisAngles returns the orientation in axis angle representation.
func (q *quaternion) AxisAngles() *R4AA {
	aa := QuatToR4AA(q.Quaternion())
	return &aa
}

// QuatFromSlice reads a w-first quaternion parameter block.
func QuatFromSlice(block []float64) quat.Number {
	return quat.Number{Real: block[0], Imag: block[1], Jmag: block[2], Kmag: block[3]}
}

// QuatToSlice writes q into a w-first quaternion parameter block.
func QuatToSlice(q quat.Number, block []float64) {
	block[0] = q.Real
	block[1] = q.Imag
	block[2] = q.Jmag
	block[3] = q.Kmag
}

// Norm returns the length of the imaginary (vector) part of q, which is sin(θ/2) for a unit
// quaternion. It is not the quaternion norm; use quat.Abs for that.
func Norm(q quat.Number) float64 {
	return math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

// Normalize scales q to unit length. The zero quaternion becomes the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// QuaternionAlmostEqual is an equality test for all the float components of a quaternion. Quaternions have double coverage, Q == -Q, and
// this function will *not* account for this. Use OrientationAlmostEqual unless you're certain this is what you want.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	return math.Abs(a.Real-b.Real) < tol &&
		math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol &&
		math.Abs(a.Kmag-b.Kmag) < tol
}

// RotatePoint applies the rotation q to p as q·p·q⁻¹. q must be a unit quaternion.
func RotatePoint(q quat.Number, p r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// QuatToR3AA converts a quat to an R3 axis angle in the same way the C++ Eigen library does.
// https://eigen.tuxfamily.org/dox/AngleAxis_8h_source.html
func QuatToR3AA(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = Flip(q)
	}
	denom := Norm(q)
	angle := 2 * math.Atan2(denom, q.Real)

	// first order expansion of angle/denom near the identity
	if denom < 1e-6 {
		return r3.Vector{X: 2 * q.Imag, Y: 2 * q.Jmag, Z: 2 * q.Kmag}
	}
	return r3.Vector{X: angle * q.Imag / denom, Y: angle * q.Jmag / denom, Z: angle * q.Kmag / denom}
}

// R3ToQuat converts a rotation vector (direction = axis, magnitude = angle in radians) to a unit quaternion.
func R3ToQuat(aa r3.Vector) quat.Number {
	theta := aa.Norm()
	if theta < 1e-12 {
		return Normalize(quat.Number{Real: 1, Imag: aa.X / 2, Jmag: aa.Y / 2, Kmag: aa.Z / 2})
	}
	return R3ToR4(aa).ToQuat()
}
