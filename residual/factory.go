package residual

import (
	"github.com/golang/geo/r3"
)

// MakePointToPointResidual builds the fixed-destination point-to-point residual for one correspondence
// in the rotation encoding chosen with WithRotation.
func MakePointToPointResidual(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.rotation == AngleAxis {
		return NewPointToPointAngleAxis(dst, src, opts...)
	}
	return NewPointToPointQuaternion(dst, src, opts...)
}

// MakePointToPointResidualGlobal builds the pairwise point-to-point residual, with one pose per cloud.
func MakePointToPointResidualGlobal(dst, src r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.rotation == AngleAxis {
		return NewPointToPointGlobalAngleAxis(dst, src, opts...)
	}
	return NewPointToPointGlobalQuaternion(dst, src, opts...)
}

// MakePointToPlaneResidual builds the fixed-destination point-to-plane residual for one correspondence.
func MakePointToPlaneResidual(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.rotation == AngleAxis {
		return NewPointToPlaneAngleAxis(dst, src, normal, opts...)
	}
	return NewPointToPlaneQuaternion(dst, src, normal, opts...)
}

// MakePointToPlaneResidualGlobal builds the pairwise point-to-plane residual, with one pose per cloud.
func MakePointToPlaneResidualGlobal(dst, src, normal r3.Vector, opts ...Option) (CostFunction, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.rotation == AngleAxis {
		return NewPointToPlaneGlobalAngleAxis(dst, src, normal, opts...)
	}
	return NewPointToPlaneGlobalQuaternion(dst, src, normal, opts...)
}
