package registration

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/icp/problem"
	"go.viam.com/icp/residual"
)

// Options configures a registration.
type Options struct {
	Rotation        residual.Rotation        `json:"rotation"`
	Differentiation residual.Differentiation `json:"differentiation"`
	// ClosedFormInit replaces the initial pose of a single pair registration with the closed form
	// estimate (Kabsch for point to point, the linearized solve for point to plane).
	ClosedFormInit    bool                  `json:"closed_form_init"`
	Solver            problem.SolverOptions `json:"solver"`
	QualityThresholds QualityThresholds     `json:"quality_thresholds"`
}

// DefaultOptions returns quaternion rotations, automatic differentiation, and the default solver.
func DefaultOptions() Options {
	return Options{
		Rotation:          residual.Quaternion,
		Differentiation:   residual.AutoDiff,
		Solver:            problem.DefaultSolverOptions(),
		QualityThresholds: DefaultQualityThresholds(),
	}
}

// Validate ensures all parts of the options are valid.
func (o Options) Validate() error {
	return multierr.Combine(
		o.Rotation.Validate(),
		o.Differentiation.Validate(),
		errors.Wrap(o.Solver.Validate(), "solver"),
		errors.Wrap(o.QualityThresholds.Validate(), "quality_thresholds"),
	)
}

func (o Options) residualOptions() []residual.Option {
	return []residual.Option{residual.WithRotation(o.Rotation), residual.WithDifferentiation(o.Differentiation)}
}

// OptionsFromAttributes decodes an attribute map, such as one read from a JSON config, on top of
// DefaultOptions. Unknown keys are an error.
func OptionsFromAttributes(attributes map[string]interface{}) (Options, error) {
	conf := DefaultOptions()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &conf,
		ErrorUnused: true,
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return Options{}, err
	}
	if err := conf.Validate(); err != nil {
		return Options{}, err
	}
	return conf, nil
}
