package residual

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/icp/spatialmath"
	"go.viam.com/icp/utils"
)

// UnitQuaternionTolerance is the largest allowed deviation of a quaternion parameter block's norm from 1.
const UnitQuaternionTolerance = 1e-6

var (
	// ErrNonFinite is returned when a point, normal, or parameter is NaN or infinite.
	ErrNonFinite = errors.New("value is not finite")
	// ErrZeroNormal is returned when a point-to-plane residual is given a zero length normal.
	ErrZeroNormal = errors.New("normal has zero length")
	// ErrNonUnitQuaternion is returned when a quaternion parameter block is not of unit norm.
	ErrNonUnitQuaternion = errors.New("quaternion parameter block is not unit norm")
	// ErrParameterBlockSize is returned when parameter, residual, or jacobian buffers have the wrong shape.
	ErrParameterBlockSize = errors.New("wrong parameter block layout")
)

func checkFiniteVector(name string, v r3.Vector) error {
	if !utils.IsFinite(v.X, v.Y, v.Z) {
		return errors.Wrapf(ErrNonFinite, "%s %v", name, v)
	}
	return nil
}

func checkNormal(normal r3.Vector) error {
	if err := checkFiniteVector("normal", normal); err != nil {
		return err
	}
	if normal.Norm2() == 0 {
		return ErrZeroNormal
	}
	return nil
}

// checkPoints validates every named vector and reports all failures at once.
func checkPoints(named map[string]r3.Vector) error {
	var err error
	for _, name := range []string{"destination", "source"} {
		if v, ok := named[name]; ok {
			err = multierr.Append(err, checkFiniteVector(name, v))
		}
	}
	if n, ok := named["normal"]; ok {
		err = multierr.Append(err, checkNormal(n))
	}
	return err
}

func checkUnitQuaternion(block []float64) error {
	norm := quat.Abs(spatialmath.QuatFromSlice(block))
	if math.Abs(norm-1) > UnitQuaternionTolerance {
		return errors.Wrapf(ErrNonUnitQuaternion, "norm is %g", norm)
	}
	return nil
}
