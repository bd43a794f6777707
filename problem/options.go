package problem

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/optimize"
)

// Solver methods understood by SolverOptions.Method.
const (
	MethodBFGS  = "bfgs"
	MethodLBFGS = "lbfgs"
	MethodCG    = "cg"
)

// SolverOptions controls Solve. The inner solver is a gonum quasi-Newton or conjugate gradient method
// working on a tangent step around the current parameters; after it stops the step is folded back
// into the parameter blocks and, unless converged, a new inner solve starts from there.
type SolverOptions struct {
	Method                 string  `json:"method"`
	MaxOuterIterations     int     `json:"max_outer_iterations"`
	MaxIterations          int     `json:"max_iterations"`
	MaxFunctionEvaluations int     `json:"max_function_evaluations"`
	FunctionTolerance      float64 `json:"function_tolerance"`
	GradientTolerance      float64 `json:"gradient_tolerance"`
	ParameterTolerance     float64 `json:"parameter_tolerance"`
	StallIterations        int     `json:"stall_iterations"`
}

// DefaultSolverOptions returns options suited to registering a few poses from thousands of
// correspondences.
func DefaultSolverOptions() SolverOptions {
	return SolverOptions{
		Method:                 MethodBFGS,
		MaxOuterIterations:     10,
		MaxIterations:          200,
		MaxFunctionEvaluations: 2000,
		FunctionTolerance:      1e-12,
		GradientTolerance:      1e-10,
		ParameterTolerance:     1e-10,
		StallIterations:        10,
	}
}

// Validate ensures all parts of the options are valid.
func (o SolverOptions) Validate() error {
	var err error
	switch o.Method {
	case MethodBFGS, MethodLBFGS, MethodCG:
	default:
		err = multierr.Append(err, errors.Errorf("unknown solver method %q", o.Method))
	}
	if o.MaxOuterIterations < 1 {
		err = multierr.Append(err, errors.New("max_outer_iterations must be at least 1"))
	}
	if o.MaxIterations < 1 {
		err = multierr.Append(err, errors.New("max_iterations must be at least 1"))
	}
	if o.MaxFunctionEvaluations < 1 {
		err = multierr.Append(err, errors.New("max_function_evaluations must be at least 1"))
	}
	if o.FunctionTolerance < 0 || o.ParameterTolerance < 0 {
		err = multierr.Append(err, errors.New("tolerances cannot be negative"))
	}
	if o.GradientTolerance <= 0 {
		err = multierr.Append(err, errors.New("gradient_tolerance must be positive"))
	}
	if o.StallIterations < 1 {
		err = multierr.Append(err, errors.New("stall_iterations must be at least 1"))
	}
	return err
}

func (o SolverOptions) method() optimize.Method {
	switch o.Method {
	case MethodLBFGS:
		return &optimize.LBFGS{}
	case MethodCG:
		return &optimize.CG{}
	default:
		return &optimize.BFGS{}
	}
}

func (o SolverOptions) settings(rec optimize.Recorder) *optimize.Settings {
	return &optimize.Settings{
		GradientThreshold: o.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.FunctionTolerance,
			Relative:   o.FunctionTolerance,
			Iterations: o.StallIterations,
		},
		MajorIterations: o.MaxIterations,
		FuncEvaluations: o.MaxFunctionEvaluations,
		Recorder:        rec,
	}
}
