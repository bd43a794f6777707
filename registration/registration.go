// Package registration aligns point clouds from correspondences by minimizing point to point or point
// to plane residuals, either for one source cloud against a fixed destination or jointly for many
// frames.
package registration

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"go.viam.com/icp/manifold"
	"go.viam.com/icp/problem"
	"go.viam.com/icp/residual"
	"go.viam.com/icp/spatialmath"
)

var (
	// ErrTooFewCorrespondences is returned when there are not enough correspondences to fix a pose.
	ErrTooFewCorrespondences = errors.New("too few correspondences")
	// ErrMissingNormal is returned by point to plane registration for a correspondence without a normal.
	ErrMissingNormal = errors.New("correspondence has no normal")
)

// Correspondence pairs a source point with its destination point. Normal is the destination surface
// normal and is only read by point to plane registration.
type Correspondence struct {
	Source      r3.Vector `json:"source"`
	Destination r3.Vector `json:"destination"`
	Normal      r3.Vector `json:"normal"`
}

// Result is a refined pose and how well it fits.
type Result struct {
	Pose    spatialmath.Pose
	Summary *problem.Summary
	// Per correspondence error statistics at Pose: euclidean distance for point to point, distance
	// along the unit normal for point to plane.
	RMSE        float64
	MeanError   float64
	MedianError float64
	MaxError    float64
	Quality     Quality
}

type costMaker func(c Correspondence, opts ...residual.Option) (residual.CostFunction, error)

func pointToPointCost(c Correspondence, opts ...residual.Option) (residual.CostFunction, error) {
	return residual.MakePointToPointResidual(c.Destination, c.Source, opts...)
}

func pointToPlaneCost(c Correspondence, opts ...residual.Option) (residual.CostFunction, error) {
	return residual.MakePointToPlaneResidual(c.Destination, c.Source, c.Normal, opts...)
}

// PointToPoint refines initial, the pose of the source cloud in the destination frame, by minimizing
// Σ |R·s + t - d|². A nil initial pose is the identity.
func PointToPoint(
	ctx context.Context,
	corrs []Correspondence,
	initial spatialmath.Pose,
	opts Options,
	logger golog.Logger,
) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "registration::PointToPoint")
	defer span.End()

	if len(corrs) < 3 {
		return nil, errors.Wrapf(ErrTooFewCorrespondences, "need 3, have %d", len(corrs))
	}
	if opts.ClosedFormInit {
		pose, err := Kabsch(corrs)
		if err != nil {
			return nil, errors.Wrap(err, "closed form initialization failed")
		}
		initial = pose
	}
	return register(ctx, corrs, initial, opts, pointToPointCost, pointToPointErrors, logger)
}

// PointToPlane refines initial by minimizing Σ ((R·s + t - d)·n)². Every correspondence needs a
// non-zero normal. A nil initial pose is the identity.
func PointToPlane(
	ctx context.Context,
	corrs []Correspondence,
	initial spatialmath.Pose,
	opts Options,
	logger golog.Logger,
) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "registration::PointToPlane")
	defer span.End()

	if len(corrs) < 6 {
		return nil, errors.Wrapf(ErrTooFewCorrespondences, "need 6, have %d", len(corrs))
	}
	for i, c := range corrs {
		if c.Normal.Norm2() == 0 {
			return nil, errors.Wrapf(ErrMissingNormal, "correspondence %d", i)
		}
	}
	if opts.ClosedFormInit {
		pose, err := LinearPointToPlane(corrs)
		if err != nil {
			return nil, errors.Wrap(err, "closed form initialization failed")
		}
		initial = pose
	}
	return register(ctx, corrs, initial, opts, pointToPlaneCost, pointToPlaneErrors, logger)
}

// poseBlocks holds one pose as solver parameter blocks in the configured rotation encoding.
type poseBlocks struct {
	rotation residual.Rotation
	blocks   [][]float64
}

func newPoseBlocks(pose spatialmath.Pose, rotation residual.Rotation) *poseBlocks {
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	pb := &poseBlocks{rotation: rotation}
	if rotation == residual.AngleAxis {
		block := make([]float64, spatialmath.AxisAngleSize)
		spatialmath.AxisAngleBlock(pose, block)
		pb.blocks = [][]float64{block}
	} else {
		rot, trans := make([]float64, spatialmath.QuaternionSize), make([]float64, 3)
		spatialmath.QuaternionBlocks(pose, rot, trans)
		pb.blocks = [][]float64{rot, trans}
	}
	return pb
}

// register adds the blocks to p, with the quaternion manifold where needed.
func (pb *poseBlocks) register(p *problem.Problem) error {
	if pb.rotation == residual.AngleAxis {
		return p.AddParameterBlock(pb.blocks[0], nil)
	}
	if err := p.AddParameterBlock(pb.blocks[0], manifold.NewQuaternion()); err != nil {
		return err
	}
	return p.AddParameterBlock(pb.blocks[1], nil)
}

func (pb *poseBlocks) setConstant(p *problem.Problem) error {
	for _, b := range pb.blocks {
		if err := p.SetParameterBlockConstant(b); err != nil {
			return err
		}
	}
	return nil
}

func (pb *poseBlocks) pose() spatialmath.Pose {
	if pb.rotation == residual.AngleAxis {
		return spatialmath.NewPoseFromAxisAngleBlock(pb.blocks[0])
	}
	return spatialmath.NewPoseFromQuaternionBlocks(pb.blocks[0], pb.blocks[1])
}

func register(
	ctx context.Context,
	corrs []Correspondence,
	initial spatialmath.Pose,
	opts Options,
	makeCost costMaker,
	errorsAt func([]Correspondence, spatialmath.Pose) []float64,
	logger golog.Logger,
) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	pose := newPoseBlocks(initial, opts.Rotation)
	p := problem.NewProblem(logger)
	if err := pose.register(p); err != nil {
		return nil, err
	}
	for i, c := range corrs {
		cost, err := makeCost(c, opts.residualOptions()...)
		if err != nil {
			return nil, errors.Wrapf(err, "correspondence %d", i)
		}
		if err := p.AddResidualBlock(cost, pose.blocks...); err != nil {
			return nil, err
		}
	}

	summary, err := p.Solve(ctx, opts.Solver)
	if err != nil {
		return nil, err
	}

	result := &Result{Pose: pose.pose(), Summary: summary}
	if err := result.fill(errorsAt(corrs, result.Pose), opts.QualityThresholds); err != nil {
		return nil, err
	}
	logger.Debugw("registration finished",
		"correspondences", len(corrs), "rmse", result.RMSE, "quality", result.Quality, "converged", summary.Converged)
	if !result.Quality.Usable() {
		logger.Warnw("registration fit is poor", "rmse", result.RMSE, "max_error", result.MaxError)
	}
	return result, nil
}

func pointToPointErrors(corrs []Correspondence, pose spatialmath.Pose) []float64 {
	return lo.Map(corrs, func(c Correspondence, _ int) float64 {
		return spatialmath.TransformPoint(pose, c.Source).Sub(c.Destination).Norm()
	})
}

func pointToPlaneErrors(corrs []Correspondence, pose spatialmath.Pose) []float64 {
	return lo.Map(corrs, func(c Correspondence, _ int) float64 {
		return math.Abs(spatialmath.TransformPoint(pose, c.Source).Sub(c.Destination).Dot(c.Normal.Normalize()))
	})
}

func (r *Result) fill(errs []float64, thresholds QualityThresholds) error {
	squares := lo.Map(errs, func(e float64, _ int) float64 { return e * e })
	meanSquare, err := stats.Mean(squares)
	if err != nil {
		return err
	}
	r.RMSE = math.Sqrt(meanSquare)
	if r.MeanError, err = stats.Mean(errs); err != nil {
		return err
	}
	if r.MedianError, err = stats.Median(errs); err != nil {
		return err
	}
	if r.MaxError, err = stats.Max(errs); err != nil {
		return err
	}
	r.Quality = thresholds.Assess(r.RMSE)
	return nil
}
