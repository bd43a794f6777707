package residual

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/icp/autodiff"
	"go.viam.com/icp/spatialmath"
)

// The normal is used as given: scaling it scales the residual and negating it flips the sign.

func pointToPlaneQuaternion[T any](a autodiff.Arithmetic[T], dst, src, normal r3.Vector) autodiff.Kernel[T] {
	d, s, n := lift(a, dst), lift(a, src), lift(a, normal)
	return func(p [][]T, r []T) {
		r[0] = dot(a, sub(a, transformQuaternion(a, p[0], p[1], s), d), n)
	}
}

func pointToPlaneAngleAxis[T any](a autodiff.Arithmetic[T], dst, src, normal r3.Vector) autodiff.Kernel[T] {
	d, s, n := lift(a, dst), lift(a, src), lift(a, normal)
	return func(p [][]T, r []T) {
		r[0] = dot(a, sub(a, transformAngleAxis(a, p[0], s), d), n)
	}
}

// The destination normal is rotated by the destination rotation and never translated.

func pointToPlaneGlobalQuaternion[T any](a autodiff.Arithmetic[T], dst, src, normal r3.Vector) autodiff.Kernel[T] {
	d, s, n := lift(a, dst), lift(a, src), lift(a, normal)
	return func(p [][]T, r []T) {
		e := sub(a, transformQuaternion(a, p[0], p[1], s), transformQuaternion(a, p[2], p[3], d))
		r[0] = dot(a, e, quaternionRotatePoint(a, p[2], n))
	}
}

func pointToPlaneGlobalAngleAxis[T any](a autodiff.Arithmetic[T], dst, src, normal r3.Vector) autodiff.Kernel[T] {
	d, s, n := lift(a, dst), lift(a, src), lift(a, normal)
	return func(p [][]T, r []T) {
		e := sub(a, transformAngleAxis(a, p[0], s), transformAngleAxis(a, p[1], d))
		r[0] = dot(a, e, angleAxisRotatePoint(a, p[1][:3], n))
	}
}

func pointToPlaneInputs(dst, src, normal r3.Vector) map[string]r3.Vector {
	return map[string]r3.Vector{"destination": dst, "source": src, "normal": normal}
}

// NewPointToPlaneQuaternion returns the signed distance dot(R(q)·src + t − dst, normal) of the moved
// source point from the destination tangent plane. Parameter blocks: rotation [w, x, y, z],
// translation [x, y, z].
func NewPointToPlaneQuaternion(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(pointToPlaneInputs(dst, src, normal)); err != nil {
		return nil, err
	}
	return &costFunction{
		name:             "point to plane (quaternion)",
		numResiduals:     1,
		blockSizes:       []int{spatialmath.QuaternionSize, translationSize},
		quaternionBlocks: []int{0},
		differentiation:  o.differentiation,
		real:             pointToPlaneQuaternion[float64](autodiff.Float64{}, dst, src, normal),
		dual:             pointToPlaneQuaternion[dual.Number](autodiff.Dual{}, dst, src, normal),
	}, nil
}

// NewPointToPlaneAngleAxis is NewPointToPlaneQuaternion over one packed block [rx, ry, rz, tx, ty, tz].
func NewPointToPlaneAngleAxis(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(pointToPlaneInputs(dst, src, normal)); err != nil {
		return nil, err
	}
	return &costFunction{
		name:            "point to plane (angle axis)",
		numResiduals:    1,
		blockSizes:      []int{spatialmath.AxisAngleSize},
		differentiation: o.differentiation,
		real:            pointToPlaneAngleAxis[float64](autodiff.Float64{}, dst, src, normal),
		dual:            pointToPlaneAngleAxis[dual.Number](autodiff.Dual{}, dst, src, normal),
	}, nil
}

// NewPointToPlaneGlobalQuaternion returns dot(R_src·src + t_src − (R_dst·dst + t_dst), R_dst·normal).
// Parameter blocks: source rotation, source translation, destination rotation, destination translation.
func NewPointToPlaneGlobalQuaternion(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(pointToPlaneInputs(dst, src, normal)); err != nil {
		return nil, err
	}
	return &costFunction{
		name:             "global point to plane (quaternion)",
		numResiduals:     1,
		blockSizes:       []int{spatialmath.QuaternionSize, translationSize, spatialmath.QuaternionSize, translationSize},
		quaternionBlocks: []int{0, 2},
		differentiation:  o.differentiation,
		real:             pointToPlaneGlobalQuaternion[float64](autodiff.Float64{}, dst, src, normal),
		dual:             pointToPlaneGlobalQuaternion[dual.Number](autodiff.Dual{}, dst, src, normal),
	}, nil
}

// NewPointToPlaneGlobalAngleAxis is NewPointToPlaneGlobalQuaternion with one packed axis-angle block per
// pose: source pose, destination pose.
func NewPointToPlaneGlobalAngleAxis(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(pointToPlaneInputs(dst, src, normal)); err != nil {
		return nil, err
	}
	return &costFunction{
		name:            "global point to plane (angle axis)",
		numResiduals:    1,
		blockSizes:      []int{spatialmath.AxisAngleSize, spatialmath.AxisAngleSize},
		differentiation: o.differentiation,
		real:            pointToPlaneGlobalAngleAxis[float64](autodiff.Float64{}, dst, src, normal),
		dual:            pointToPlaneGlobalAngleAxis[dual.Number](autodiff.Dual{}, dst, src, normal),
	}, nil
}
