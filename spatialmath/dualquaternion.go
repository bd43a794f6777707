package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a 6dof pose in space: a rotation followed by a translation.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// dualQuaternion defines functions to perform rigid transformations in 3D.
// The real part holds the rotation; the dual part holds 0.5 * translation * rotation.
type dualQuaternion struct {
	dualquat.Number
}

// newDualQuaternion returns a pointer to a new dualQuaternion object whose Quaternion is an identity Quaternion.
// Since the real part of a qual quaternion should be a unit quaternion, not all zeroes, this should be used
// instead of &dualQuaternion{}.
func newDualQuaternion() *dualQuaternion {
	return &dualQuaternion{dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{},
	}}
}

func newDualQuaternionFromPose(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return NewPose(p.Point(), p.Orientation()).(*dualQuaternion)
}

// NewZeroPose returns a pose at (0,0,0) with same orientation as whatever frame it is placed in.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPose takes in a position and orientation and returns a Pose.
func NewPose(p r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(p)
	}
	q := &dualQuaternion{dualquat.Number{
		Real: Normalize(o.Quaternion()),
		Dual: quat.Number{},
	}}
	q.SetTranslation(p)
	return q
}

// NewPoseFromPoint takes in a cartesian (x,y,z) and stores it as a vector.
// It will have the same orientation as the frame it is in.
func NewPoseFromPoint(point r3.Vector) Pose {
	q := newDualQuaternion()
	q.SetTranslation(point)
	return q
}

// NewPoseFromOrientation takes in an orientation and returns a Pose with no translation.
func NewPoseFromOrientation(o Orientation) Pose {
	return NewPose(r3.Vector{}, o)
}

// NewPoseFromQuaternionBlocks builds a pose from a w-first quaternion block and a translation block.
func NewPoseFromQuaternionBlocks(rotation, translation []float64) Pose {
	return NewPose(
		r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]},
		NewQuaternionOrientation(QuatFromSlice(rotation)),
	)
}

// NewPoseFromAxisAngleBlock builds a pose from a packed [rx, ry, rz, tx, ty, tz] block.
func NewPoseFromAxisAngleBlock(block []float64) Pose {
	rotation, translation := AxisAngleFromSlice(block)
	return NewPose(translation, NewQuaternionOrientation(R3ToQuat(rotation)))
}

// QuaternionBlocks writes the pose into a w-first quaternion block and a translation block.
func QuaternionBlocks(p Pose, rotation, translation []float64) {
	QuatToSlice(p.Orientation().Quaternion(), rotation)
	pt := p.Point()
	translation[0], translation[1], translation[2] = pt.X, pt.Y, pt.Z
}

// AxisAngleBlock writes the pose into a packed [rx, ry, rz, tx, ty, tz] block.
func AxisAngleBlock(p Pose, block []float64) {
	AxisAngleToSlice(QuatToR3AA(p.Orientation().Quaternion()), p.Point(), block)
}

// Point multiplies the dual quaternion by its own conjugate to give a dq where the real is the identity quat,
// and the dual is the translation.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation quaternion as an Orientation.
func (q *dualQuaternion) Orientation() Orientation {
	o := quaternion(q.Real)
	return &o
}

// SetTranslation correctly sets the translation quaternion against the rotation.
func (q *dualQuaternion) SetTranslation(pt r3.Vector) {
	q.Dual = quat.Mul(quat.Number{Real: 0, Imag: pt.X / 2, Jmag: pt.Y / 2, Kmag: pt.Z / 2}, q.Real)
}

func (q *dualQuaternion) String() string {
	pt := q.Point()
	aa := QuatToR3AA(q.Real)
	return fmt.Sprintf("{X:%.6f Y:%.6f Z:%.6f RX:%.6f RY:%.6f RZ:%.6f}", pt.X, pt.Y, pt.Z, aa.X, aa.Y, aa.Z)
}

// Transformation multiplies the dual quat contained in this dualQuaternion by another dual quat.
func (q *dualQuaternion) Transformation(by dualquat.Number) dualquat.Number {
	// Ensure we are multiplying by a unit dual quaternion
	if vecLen := quat.Abs(by.Real); vecLen != 1 {
		by.Real = quat.Scale(1/vecLen, by.Real)
		by.Dual = quat.Scale(1/vecLen, by.Dual)
	}

	return dualquat.Mul(q.Number, by)
}

// Compose takes in two poses and returns the pose that applies b first and then a.
func Compose(a, b Pose) Pose {
	result := &dualQuaternion{newDualQuaternionFromPose(a).Transformation(newDualQuaternionFromPose(b).Number)}

	// Normalization
	if vecLen := 1 / quat.Abs(result.Real); vecLen != 1 {
		result.Real = quat.Scale(vecLen, result.Real)
		result.Dual = quat.Scale(vecLen, result.Dual)
	}
	return result
}

// PoseInverse will return the inverse of a pose. The quaternion conjugate of a unit dual quaternion is its inverse.
func PoseInverse(p Pose) Pose {
	dq := newDualQuaternionFromPose(p)
	return &dualQuaternion{dualquat.Number{Real: quat.Conj(dq.Real), Dual: quat.Conj(dq.Dual)}}
}

// PoseDelta returns the difference between two poses, such that Compose(a, PoseDelta(a, b)) == b.
func PoseDelta(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies the pose to a point: rotation first, then translation.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotatePoint(p.Orientation().Quaternion(), pt).Add(p.Point())
}

// PoseAlmostEqual will return a bool describing whether 2 poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps will return a bool describing whether 2 poses are approximately the same within epsilon.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return PoseAlmostCoincidentEps(a, b, epsilon) && OrientationAlmostEqualEps(a.Orientation(), b.Orientation(), epsilon)
}

// PoseAlmostCoincidentEps will return a bool describing whether 2 poses approximately are at the same 3D coordinate location.
func PoseAlmostCoincidentEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() < epsilon
}
