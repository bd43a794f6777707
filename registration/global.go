package registration

import (
	"context"
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"

	"go.viam.com/icp/problem"
	"go.viam.com/icp/residual"
	"go.viam.com/icp/spatialmath"
)

// FrameLink holds correspondences between two frames. Source points are in the Source frame's
// coordinates and destination points and normals in the Destination frame's.
type FrameLink struct {
	Source          int              `json:"source"`
	Destination     int              `json:"destination"`
	Correspondences []Correspondence `json:"correspondences"`
	PointToPlane    bool             `json:"point_to_plane"`
}

// GlobalResult holds jointly refined frame poses.
type GlobalResult struct {
	Poses   []spatialmath.Pose
	Summary *problem.Summary
	// RMSE over every correspondence of every link, in world coordinates.
	RMSE    float64
	Quality Quality
}

// RefineGlobal jointly refines the world poses of several frames so that linked frames agree on
// their correspondences. The first frame anchors the world and is held at its given pose.
func RefineGlobal(
	ctx context.Context,
	poses []spatialmath.Pose,
	links []FrameLink,
	opts Options,
	logger golog.Logger,
) (*GlobalResult, error) {
	ctx, span := trace.StartSpan(ctx, "registration::RefineGlobal")
	defer span.End()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(poses) < 2 {
		return nil, errors.Errorf("need at least 2 frames, have %d", len(poses))
	}
	if err := validateLinks(len(poses), links); err != nil {
		return nil, err
	}

	frames := lo.Map(poses, func(pose spatialmath.Pose, _ int) *poseBlocks {
		return newPoseBlocks(pose, opts.Rotation)
	})
	p := problem.NewProblem(logger)
	for _, f := range frames {
		if err := f.register(p); err != nil {
			return nil, err
		}
	}
	if err := frames[0].setConstant(p); err != nil {
		return nil, err
	}

	for li, link := range links {
		params := append(append([][]float64{}, frames[link.Source].blocks...), frames[link.Destination].blocks...)
		for ci, c := range link.Correspondences {
			var cost residual.CostFunction
			var err error
			if link.PointToPlane {
				cost, err = residual.MakePointToPlaneResidualGlobal(c.Destination, c.Source, c.Normal, opts.residualOptions()...)
			} else {
				cost, err = residual.MakePointToPointResidualGlobal(c.Destination, c.Source, opts.residualOptions()...)
			}
			if err != nil {
				return nil, errors.Wrapf(err, "link %d correspondence %d", li, ci)
			}
			if err := p.AddResidualBlock(cost, params...); err != nil {
				return nil, err
			}
		}
	}

	summary, err := p.Solve(ctx, opts.Solver)
	if err != nil {
		return nil, err
	}

	result := &GlobalResult{
		Poses:   lo.Map(frames, func(f *poseBlocks, _ int) spatialmath.Pose { return f.pose() }),
		Summary: summary,
	}
	var sumSquares float64
	var count int
	for _, link := range links {
		src, dst := result.Poses[link.Source], result.Poses[link.Destination]
		for _, c := range link.Correspondences {
			diff := spatialmath.TransformPoint(src, c.Source).Sub(spatialmath.TransformPoint(dst, c.Destination))
			e := diff.Norm2()
			if link.PointToPlane {
				n := spatialmath.RotatePoint(dst.Orientation().Quaternion(), c.Normal.Normalize())
				e = diff.Dot(n) * diff.Dot(n)
			}
			sumSquares += e
			count++
		}
	}
	result.RMSE = math.Sqrt(sumSquares / float64(count))
	result.Quality = opts.QualityThresholds.Assess(result.RMSE)
	logger.Debugw("global refinement finished",
		"frames", len(poses), "links", len(links), "rmse", result.RMSE, "quality", result.Quality)
	return result, nil
}

func validateLinks(numFrames int, links []FrameLink) error {
	if len(links) == 0 {
		return errors.New("no frame links")
	}
	linked := make([]bool, numFrames)
	for i, link := range links {
		if link.Source < 0 || link.Source >= numFrames || link.Destination < 0 || link.Destination >= numFrames {
			return errors.Errorf("link %d references frame outside [0, %d)", i, numFrames)
		}
		if link.Source == link.Destination {
			return errors.Errorf("link %d links frame %d to itself", i, link.Source)
		}
		if len(link.Correspondences) == 0 {
			return errors.Wrapf(ErrTooFewCorrespondences, "link %d", i)
		}
		linked[link.Source], linked[link.Destination] = true, true
	}
	for i, ok := range linked {
		if !ok {
			return errors.Errorf("frame %d has no links", i)
		}
	}
	return nil
}
