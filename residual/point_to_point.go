package residual

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/icp/autodiff"
	"go.viam.com/icp/spatialmath"
)

const translationSize = 3

// pointToPointQuaternion: R(q)·src + t − dst over blocks [q(4), t(3)].
func pointToPointQuaternion[T any](a autodiff.Arithmetic[T], dst, src r3.Vector) autodiff.Kernel[T] {
	d, s := lift(a, dst), lift(a, src)
	return func(p [][]T, r []T) {
		e := sub(a, transformQuaternion(a, p[0], p[1], s), d)
		copy(r, e[:])
	}
}

// pointToPointAngleAxis: R(ω)·src + t − dst over the packed block [ω(3), t(3)].
func pointToPointAngleAxis[T any](a autodiff.Arithmetic[T], dst, src r3.Vector) autodiff.Kernel[T] {
	d, s := lift(a, dst), lift(a, src)
	return func(p [][]T, r []T) {
		e := sub(a, transformAngleAxis(a, p[0], s), d)
		copy(r, e[:])
	}
}

// pointToPointGlobalQuaternion: (R_src·src + t_src) − (R_dst·dst + t_dst) over
// blocks [q_src(4), t_src(3), q_dst(4), t_dst(3)].
func pointToPointGlobalQuaternion[T any](a autodiff.Arithmetic[T], dst, src r3.Vector) autodiff.Kernel[T] {
	d, s := lift(a, dst), lift(a, src)
	return func(p [][]T, r []T) {
		e := sub(a, transformQuaternion(a, p[0], p[1], s), transformQuaternion(a, p[2], p[3], d))
		copy(r, e[:])
	}
}

// pointToPointGlobalAngleAxis is pointToPointGlobalQuaternion over two packed blocks [pose_src(6), pose_dst(6)].
func pointToPointGlobalAngleAxis[T any](a autodiff.Arithmetic[T], dst, src r3.Vector) autodiff.Kernel[T] {
	d, s := lift(a, dst), lift(a, src)
	return func(p [][]T, r []T) {
		e := sub(a, transformAngleAxis(a, p[0], s), transformAngleAxis(a, p[1], d))
		copy(r, e[:])
	}
}

// NewPointToPointQuaternion returns the residual R(q)·src + t − dst for a source pose against a fixed
// destination. Parameter blocks: rotation [w, x, y, z], translation [x, y, z].
func NewPointToPointQuaternion(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(map[string]r3.Vector{"destination": dst, "source": src}); err != nil {
		return nil, err
	}
	return &costFunction{
		name:             "point to point (quaternion)",
		numResiduals:     3,
		blockSizes:       []int{spatialmath.QuaternionSize, translationSize},
		quaternionBlocks: []int{0},
		differentiation:  o.differentiation,
		real:             pointToPointQuaternion[float64](autodiff.Float64{}, dst, src),
		dual:             pointToPointQuaternion[dual.Number](autodiff.Dual{}, dst, src),
	}, nil
}

// NewPointToPointAngleAxis returns the residual R(ω)·src + t − dst for a source pose against a fixed
// destination. Parameter block: [rx, ry, rz, tx, ty, tz].
func NewPointToPointAngleAxis(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(map[string]r3.Vector{"destination": dst, "source": src}); err != nil {
		return nil, err
	}
	return &costFunction{
		name:            "point to point (angle axis)",
		numResiduals:    3,
		blockSizes:      []int{spatialmath.AxisAngleSize},
		differentiation: o.differentiation,
		real:            pointToPointAngleAxis[float64](autodiff.Float64{}, dst, src),
		dual:            pointToPointAngleAxis[dual.Number](autodiff.Dual{}, dst, src),
	}, nil
}

// NewPointToPointGlobalQuaternion returns the residual (R_src·src + t_src) − (R_dst·dst + t_dst) where
// both clouds carry their own pose in a shared world frame. Parameter blocks: source rotation,
// source translation, destination rotation, destination translation.
func NewPointToPointGlobalQuaternion(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(map[string]r3.Vector{"destination": dst, "source": src}); err != nil {
		return nil, err
	}
	return &costFunction{
		name:             "global point to point (quaternion)",
		numResiduals:     3,
		blockSizes:       []int{spatialmath.QuaternionSize, translationSize, spatialmath.QuaternionSize, translationSize},
		quaternionBlocks: []int{0, 2},
		differentiation:  o.differentiation,
		real:             pointToPointGlobalQuaternion[float64](autodiff.Float64{}, dst, src),
		dual:             pointToPointGlobalQuaternion[dual.Number](autodiff.Dual{}, dst, src),
	}, nil
}

// NewPointToPointGlobalAngleAxis is NewPointToPointGlobalQuaternion with one packed axis-angle block
// per pose: source pose, destination pose.
func NewPointToPointGlobalAngleAxis(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := checkPoints(map[string]r3.Vector{"destination": dst, "source": src}); err != nil {
		return nil, err
	}
	return &costFunction{
		name:            "global point to point (angle axis)",
		numResiduals:    3,
		blockSizes:      []int{spatialmath.AxisAngleSize, spatialmath.AxisAngleSize},
		differentiation: o.differentiation,
		real:            pointToPointGlobalAngleAxis[float64](autodiff.Float64{}, dst, src),
		dual:            pointToPointGlobalAngleAxis[dual.Number](autodiff.Dual{}, dst, src),
	}, nil
}
