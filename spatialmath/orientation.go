// Package spatialmath defines spatial mathematical operations: rotations in quaternion and axis-angle
// form and rigid poses built on dual quaternions.
package spatialmath

import (
	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an interface used to express the different parameterizations of the orientation
// of a rigid object or a frame of reference in 3D Euclidean space.
type Orientation interface {
	AxisAngles() *R4AA
	Quaternion() quat.Number
}

// NewZeroOrientation returns an orientatation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return &quaternion{1, 0, 0, 0}
}

// OrientationAlmostEqual will return a bool describing whether 2 poses have approximately the same orientation.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return OrientationAlmostEqualEps(o1, o2, 1e-5)
}

// OrientationAlmostEqualEps is OrientationAlmostEqual with a caller supplied tolerance. It accounts for
// the double cover of the quaternion representation.
func OrientationAlmostEqualEps(o1, o2 Orientation, epsilon float64) bool {
	q1, q2 := o1.Quaternion(), o2.Quaternion()
	return QuaternionAlmostEqual(q1, q2, epsilon) || QuaternionAlmostEqual(q1, Flip(q2), epsilon)
}

// OrientationBetween returns the orientation representing the difference between the two given Orientations.
func OrientationBetween(o1, o2 Orientation) Orientation {
	q := quaternion(quat.Mul(o2.Quaternion(), quat.Conj(o1.Quaternion())))
	return &q
}
