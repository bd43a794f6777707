package residual

import (
	"github.com/pkg/errors"
)

// Rotation selects how a residual's pose parameter blocks encode rotation.
type Rotation string

const (
	// Quaternion uses a w-first unit quaternion block of 4 and a translation block of 3 per pose.
	Quaternion Rotation = "quaternion"
	// AngleAxis uses one packed block of 6 per pose: rotation vector then translation.
	AngleAxis Rotation = "angle_axis"
)

// Validate returns an error for unknown rotation encodings.
func (r Rotation) Validate() error {
	switch r {
	case Quaternion, AngleAxis:
		return nil
	default:
		return errors.Errorf("unknown rotation encoding %q", string(r))
	}
}

// Differentiation selects how a residual's Jacobians are computed.
type Differentiation string

const (
	// AutoDiff propagates dual numbers through the residual for exact derivatives.
	AutoDiff Differentiation = "auto"
	// NumericDiff uses central finite differences.
	NumericDiff Differentiation = "numeric"
)

// Validate returns an error for unknown differentiation strategies.
func (d Differentiation) Validate() error {
	switch d {
	case AutoDiff, NumericDiff:
		return nil
	default:
		return errors.Errorf("unknown differentiation strategy %q", string(d))
	}
}

type options struct {
	rotation        Rotation
	differentiation Differentiation
}

// Option configures residual construction.
type Option func(*options)

// WithRotation selects the rotation encoding used by the Make* factories. The default is Quaternion.
func WithRotation(r Rotation) Option {
	return func(o *options) {
		o.rotation = r
	}
}

// WithDifferentiation selects the Jacobian strategy. The default is AutoDiff.
func WithDifferentiation(d Differentiation) Option {
	return func(o *options) {
		o.differentiation = d
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{rotation: Quaternion, differentiation: AutoDiff}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.rotation.Validate(); err != nil {
		return o, err
	}
	if err := o.differentiation.Validate(); err != nil {
		return o, err
	}
	return o, nil
}
