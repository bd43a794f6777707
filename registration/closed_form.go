package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/icp/spatialmath"
)

// ErrDegenerate is returned when the correspondences do not constrain all six degrees of freedom.
var ErrDegenerate = errors.New("correspondences are degenerate")

const degenerateRatio = 1e-9

func centroid(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

func sources(corrs []Correspondence) []r3.Vector {
	return lo.Map(corrs, func(c Correspondence, _ int) r3.Vector { return c.Source })
}

func destinations(corrs []Correspondence) []r3.Vector {
	return lo.Map(corrs, func(c Correspondence, _ int) r3.Vector { return c.Destination })
}

// Kabsch returns the rigid pose minimizing the point to point error of the correspondences, from
// the SVD of their cross covariance.
func Kabsch(corrs []Correspondence) (spatialmath.Pose, error) {
	if len(corrs) < 3 {
		return nil, errors.Wrapf(ErrTooFewCorrespondences, "need 3, have %d", len(corrs))
	}
	src, dst := sources(corrs), destinations(corrs)
	srcCenter, dstCenter := centroid(src), centroid(dst)

	// H = Σ (s - s̄)(d - d̄)ᵀ
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		a, b := src[i].Sub(srcCenter), dst[i].Sub(dstCenter)
		av, bv := [3]float64{a.X, a.Y, a.Z}, [3]float64{b.X, b.Y, b.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+av[r]*bv[c])
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return nil, errors.New("cross covariance factorization failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[1] < degenerateRatio*values[0] {
		return nil, errors.Wrap(ErrDegenerate, "points are coincident or collinear")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V diag(1, 1, d) Uᵀ, with d correcting a reflection
	d := 1.0
	if mat.Det(&v)*mat.Det(&u) < 0 {
		d = -1
	}
	var rot mat.Dense
	rot.Product(&v, mat.NewDiagDense(3, []float64{1, 1, d}), u.T())

	q, err := spatialmath.RotationMatrixToQuat(&rot)
	if err != nil {
		return nil, err
	}
	t := dstCenter.Sub(spatialmath.RotatePoint(q, srcCenter))
	return spatialmath.NewPose(t, spatialmath.NewQuaternionOrientation(q)), nil
}

// LinearPointToPlane solves the point to plane problem linearized about the identity rotation,
// R ≈ I + [ω]x, so that each correspondence gives one linear equation
// (s × n)·ω + n·t = (d - s)·n. It is exact for translations and accurate for small rotations.
func LinearPointToPlane(corrs []Correspondence) (spatialmath.Pose, error) {
	if len(corrs) < 6 {
		return nil, errors.Wrapf(ErrTooFewCorrespondences, "need 6, have %d", len(corrs))
	}
	a := mat.NewDense(len(corrs), 6, nil)
	b := mat.NewVecDense(len(corrs), nil)
	for i, c := range corrs {
		if c.Normal.Norm2() == 0 {
			return nil, errors.Wrapf(ErrMissingNormal, "correspondence %d", i)
		}
		sxn := c.Source.Cross(c.Normal)
		a.SetRow(i, []float64{sxn.X, sxn.Y, sxn.Z, c.Normal.X, c.Normal.Y, c.Normal.Z})
		b.SetVec(i, c.Destination.Sub(c.Source).Dot(c.Normal))
	}

	var ata mat.Dense
	ata.Mul(a.T(), a)
	var svd mat.SVD
	if !svd.Factorize(&ata, mat.SVDNone) {
		return nil, errors.New("normal equations factorization failed")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[5] < degenerateRatio*values[0] {
		return nil, errors.Wrap(ErrDegenerate, "normals do not constrain every direction")
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		return nil, errors.Wrap(err, "cannot solve linearized point to plane system")
	}
	omega := r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	t := r3.Vector{X: x.AtVec(3), Y: x.AtVec(4), Z: x.AtVec(5)}
	return spatialmath.NewPose(t, spatialmath.NewQuaternionOrientation(spatialmath.R3ToQuat(omega))), nil
}
