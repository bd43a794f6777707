// Package residual implements the ICP residual model: point-to-point and point-to-plane error terms
// over one (fixed destination) or two (global pairwise) rigid poses, each with a unit quaternion or an
// axis-angle rotation encoding. Each residual is an immutable CostFunction that a nonlinear least
// squares driver evaluates together with its Jacobians.
//
// Quaternion parameter blocks are w-first, [w, x, y, z], and must be unit norm on input. Residuals
// never renormalize them; the driver keeps them on the unit sphere by updating them through
// manifold.Quaternion.
package residual

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/dual"

	"go.viam.com/icp/autodiff"
	"go.viam.com/icp/utils"
)

// CostFunction is a residual term over one or more parameter blocks.
type CostFunction interface {
	// NumResiduals is the length of the residual vector.
	NumResiduals() int
	// ParameterBlockSizes lists the length of each parameter block, in evaluation order.
	ParameterBlockSizes() []int
	// Evaluate writes the residuals for the given parameter blocks. When jacobians is non-nil, every
	// non-nil jacobians[i] receives the row-major NumResiduals x ParameterBlockSizes()[i] derivative
	// of the residuals with respect to block i.
	Evaluate(parameters [][]float64, residuals []float64, jacobians [][]float64) error
}

type costFunction struct {
	name             string
	numResiduals     int
	blockSizes       []int
	quaternionBlocks []int
	differentiation  Differentiation

	real autodiff.Kernel[float64]
	dual autodiff.Kernel[dual.Number]
}

func (cf *costFunction) NumResiduals() int {
	return cf.numResiduals
}

func (cf *costFunction) ParameterBlockSizes() []int {
	return append([]int(nil), cf.blockSizes...)
}

func (cf *costFunction) String() string {
	return cf.name
}

func (cf *costFunction) Evaluate(parameters [][]float64, residuals []float64, jacobians [][]float64) error {
	if err := cf.validate(parameters, residuals, jacobians); err != nil {
		return errors.Wrap(err, cf.name)
	}

	if jacobians == nil {
		cf.real(parameters, residuals)
		return nil
	}
	switch cf.differentiation {
	case NumericDiff:
		cf.real(parameters, residuals)
		cf.numericJacobians(parameters, jacobians)
	default:
		autodiff.Jacobian(cf.numResiduals, parameters, residuals, jacobians, cf.dual)
	}
	return nil
}

func (cf *costFunction) validate(parameters [][]float64, residuals []float64, jacobians [][]float64) error {
	if len(parameters) != len(cf.blockSizes) {
		return errors.Wrapf(ErrParameterBlockSize, "got %d parameter blocks, want %d", len(parameters), len(cf.blockSizes))
	}
	if len(residuals) < cf.numResiduals {
		return errors.Wrapf(ErrParameterBlockSize, "residual buffer has length %d, want %d", len(residuals), cf.numResiduals)
	}
	if jacobians != nil && len(jacobians) != len(cf.blockSizes) {
		return errors.Wrapf(ErrParameterBlockSize, "got %d jacobian blocks, want %d", len(jacobians), len(cf.blockSizes))
	}

	var err error
	for i, size := range cf.blockSizes {
		if len(parameters[i]) != size {
			err = multierr.Append(err, errors.Wrapf(ErrParameterBlockSize, "block %d has length %d, want %d", i, len(parameters[i]), size))
			continue
		}
		if !utils.IsFinite(parameters[i]...) {
			err = multierr.Append(err, errors.Wrapf(ErrNonFinite, "block %d", i))
		}
		if jacobians != nil && jacobians[i] != nil && len(jacobians[i]) < cf.numResiduals*size {
			err = multierr.Append(err, errors.Wrapf(ErrParameterBlockSize, "jacobian %d has length %d, want %d",
				i, len(jacobians[i]), cf.numResiduals*size))
		}
	}
	if err != nil {
		return err
	}
	for _, i := range cf.quaternionBlocks {
		err = multierr.Append(err, errors.Wrapf(checkUnitQuaternion(parameters[i]), "block %d", i))
	}
	return err
}

// numericJacobians differentiates the float kernel with central differences, one block at a time.
func (cf *costFunction) numericJacobians(parameters [][]float64, jacobians [][]float64) {
	scratch := make([][]float64, len(parameters))
	copy(scratch, parameters)
	settings := &fd.JacobianSettings{Formula: fd.Central}

	for i, size := range cf.blockSizes {
		if jacobians[i] == nil {
			continue
		}
		f := func(y, x []float64) {
			scratch[i] = x
			cf.real(scratch, y)
		}
		dst := mat.NewDense(cf.numResiduals, size, jacobians[i][:cf.numResiduals*size])
		fd.Jacobian(dst, f, append([]float64(nil), parameters[i]...), settings)
		scratch[i] = parameters[i]
	}
}
