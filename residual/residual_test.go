package residual

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/icp/spatialmath"
)

func randomPose(rnd *rand.Rand) spatialmath.Pose {
	axis := r3.Vector{X: rnd.NormFloat64(), Y: rnd.NormFloat64(), Z: rnd.NormFloat64()}.Normalize()
	aa := axis.Mul((rnd.Float64()*2 - 1) * 0.95 * math.Pi)
	pt := r3.Vector{X: rnd.Float64()*10 - 5, Y: rnd.Float64()*10 - 5, Z: rnd.Float64()*10 - 5}
	return spatialmath.NewPose(pt, spatialmath.NewQuaternionOrientation(spatialmath.R3ToQuat(aa)))
}

func randomPoint(rnd *rand.Rand) r3.Vector {
	return r3.Vector{X: rnd.Float64()*4 - 2, Y: rnd.Float64()*4 - 2, Z: rnd.Float64()*4 - 2}
}

func quaternionBlocks(p spatialmath.Pose) [][]float64 {
	rot, trans := make([]float64, 4), make([]float64, 3)
	spatialmath.QuaternionBlocks(p, rot, trans)
	return [][]float64{rot, trans}
}

func angleAxisBlock(p spatialmath.Pose) []float64 {
	block := make([]float64, 6)
	spatialmath.AxisAngleBlock(p, block)
	return block
}

func evaluate(t *testing.T, cf CostFunction, parameters ...[]float64) []float64 {
	t.Helper()
	residuals := make([]float64, cf.NumResiduals())
	test.That(t, cf.Evaluate(parameters, residuals, nil), test.ShouldBeNil)
	return residuals
}

func shouldBeZero(t *testing.T, residuals []float64, tol float64) {
	t.Helper()
	for _, r := range residuals {
		test.That(t, r, test.ShouldAlmostEqual, 0, tol)
	}
}

func TestScenarios(t *testing.T) {
	src, dst := r3.Vector{X: 1, Y: 0, Z: 0}, r3.Vector{X: 0, Y: 1, Z: 0}

	t.Run("translation only", func(t *testing.T) {
		cf, err := MakePointToPointResidual(dst, src)
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, cf, []float64{1, 0, 0, 0}, []float64{-1, 1, 0}), 1e-12)
	})

	t.Run("ninety degrees about z", func(t *testing.T) {
		cf, err := MakePointToPointResidual(dst, src)
		test.That(t, err, test.ShouldBeNil)
		h := math.Sqrt2 / 2
		shouldBeZero(t, evaluate(t, cf, []float64{h, 0, 0, h}, []float64{0, 0, 0}), 1e-9)

		cf, err = MakePointToPointResidual(dst, src, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, cf, []float64{0, 0, math.Pi / 2, 0, 0, 0}), 1e-9)
	})

	t.Run("point to plane", func(t *testing.T) {
		cf, err := MakePointToPlaneResidual(r3.Vector{}, r3.Vector{X: 0, Y: 0, Z: 1}, r3.Vector{X: 0, Y: 0, Z: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cf.NumResiduals(), test.ShouldEqual, 1)
		r := evaluate(t, cf, []float64{1, 0, 0, 0}, []float64{0, 0, 1})
		test.That(t, r[0], test.ShouldAlmostEqual, 2.0)
		r = evaluate(t, cf, []float64{1, 0, 0, 0}, []float64{0, 0, 2})
		test.That(t, r[0], test.ShouldAlmostEqual, 3.0)
		// sliding inside the plane costs nothing
		r = evaluate(t, cf, []float64{1, 0, 0, 0}, []float64{5, -3, -1})
		test.That(t, r[0], test.ShouldAlmostEqual, 0)
	})
}

func TestParameterBlockSizes(t *testing.T) {
	dst, src, n := r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 3, Y: 2, Z: 1}, r3.Vector{X: 0, Y: 1, Z: 0}
	for _, tc := range []struct {
		name         string
		make         func() (CostFunction, error)
		numResiduals int
		sizes        []int
	}{
		{"p2p quaternion", func() (CostFunction, error) { return MakePointToPointResidual(dst, src) }, 3, []int{4, 3}},
		{"p2p angle axis", func() (CostFunction, error) {
			return MakePointToPointResidual(dst, src, WithRotation(AngleAxis))
		}, 3, []int{6}},
		{"p2p global quaternion", func() (CostFunction, error) { return MakePointToPointResidualGlobal(dst, src) }, 3, []int{4, 3, 4, 3}},
		{"p2p global angle axis", func() (CostFunction, error) {
			return MakePointToPointResidualGlobal(dst, src, WithRotation(AngleAxis))
		}, 3, []int{6, 6}},
		{"p2l quaternion", func() (CostFunction, error) { return MakePointToPlaneResidual(dst, src, n) }, 1, []int{4, 3}},
		{"p2l angle axis", func() (CostFunction, error) {
			return MakePointToPlaneResidual(dst, src, n, WithRotation(AngleAxis))
		}, 1, []int{6}},
		{"p2l global quaternion", func() (CostFunction, error) { return MakePointToPlaneResidualGlobal(dst, src, n) }, 1, []int{4, 3, 4, 3}},
		{"p2l global angle axis", func() (CostFunction, error) {
			return MakePointToPlaneResidualGlobal(dst, src, n, WithRotation(AngleAxis))
		}, 1, []int{6, 6}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cf, err := tc.make()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, cf.NumResiduals(), test.ShouldEqual, tc.numResiduals)
			test.That(t, cf.ParameterBlockSizes(), test.ShouldResemble, tc.sizes)
		})
	}
}

func TestPerfectCorrespondences(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		pose := randomPose(rnd)
		src := randomPoint(rnd)
		dst := spatialmath.TransformPoint(pose, src)
		normal := randomPoint(rnd)

		p2p, err := MakePointToPointResidual(dst, src)
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, p2p, quaternionBlocks(pose)...), 1e-9)

		p2pAA, err := MakePointToPointResidual(dst, src, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, p2pAA, angleAxisBlock(pose)), 1e-9)

		p2l, err := MakePointToPlaneResidual(dst, src, normal)
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, p2l, quaternionBlocks(pose)...), 1e-9)

		p2lAA, err := MakePointToPlaneResidual(dst, src, normal, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, p2lAA, angleAxisBlock(pose)), 1e-9)

		// both clouds placed in a shared world frame
		world := randomPose(rnd)
		srcWorld := spatialmath.Compose(world, pose)
		global, err := MakePointToPlaneResidualGlobal(dst, src, normal)
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, global, append(quaternionBlocks(srcWorld), quaternionBlocks(world)...)...), 1e-9)

		globalAA, err := MakePointToPointResidualGlobal(dst, src, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		shouldBeZero(t, evaluate(t, globalAA, angleAxisBlock(srcWorld), angleAxisBlock(world)), 1e-9)
	}
}

func TestRotationEncodingsAgree(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		pose, other := randomPose(rnd), randomPose(rnd)
		dst, src, normal := randomPoint(rnd), randomPoint(rnd), randomPoint(rnd)

		q, err := MakePointToPointResidual(dst, src)
		test.That(t, err, test.ShouldBeNil)
		aa, err := MakePointToPointResidual(dst, src, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		rq, raa := evaluate(t, q, quaternionBlocks(pose)...), evaluate(t, aa, angleAxisBlock(pose))
		for j := range rq {
			test.That(t, rq[j], test.ShouldAlmostEqual, raa[j], 1e-6)
		}

		q, err = MakePointToPlaneResidualGlobal(dst, src, normal)
		test.That(t, err, test.ShouldBeNil)
		aa, err = MakePointToPlaneResidualGlobal(dst, src, normal, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		rq = evaluate(t, q, append(quaternionBlocks(pose), quaternionBlocks(other)...)...)
		raa = evaluate(t, aa, angleAxisBlock(pose), angleAxisBlock(other))
		test.That(t, rq[0], test.ShouldAlmostEqual, raa[0], 1e-6)
	}
}

func TestNormalScaling(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	pose := randomPose(rnd)
	dst, src, normal := randomPoint(rnd), randomPoint(rnd), r3.Vector{X: 0.3, Y: -0.4, Z: 0.5}

	base, err := MakePointToPlaneResidual(dst, src, normal)
	test.That(t, err, test.ShouldBeNil)
	scaled, err := MakePointToPlaneResidual(dst, src, normal.Mul(4))
	test.That(t, err, test.ShouldBeNil)
	negated, err := MakePointToPlaneResidual(dst, src, normal.Mul(-1))
	test.That(t, err, test.ShouldBeNil)

	r := evaluate(t, base, quaternionBlocks(pose)...)[0]
	rs := evaluate(t, scaled, quaternionBlocks(pose)...)[0]
	rn := evaluate(t, negated, quaternionBlocks(pose)...)[0]
	test.That(t, math.Abs(r), test.ShouldBeGreaterThan, 1e-6)
	test.That(t, math.Signbit(rs), test.ShouldEqual, math.Signbit(r))
	test.That(t, rs, test.ShouldAlmostEqual, 4*r, 1e-9)
	test.That(t, rn, test.ShouldAlmostEqual, -r, 1e-9)
}

func TestGlobalWithIdentityDestination(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))
	identity := quaternionBlocks(spatialmath.NewZeroPose())
	for i := 0; i < 20; i++ {
		pose := randomPose(rnd)
		dst, src, normal := randomPoint(rnd), randomPoint(rnd), randomPoint(rnd)

		fixed, err := MakePointToPointResidual(dst, src)
		test.That(t, err, test.ShouldBeNil)
		global, err := MakePointToPointResidualGlobal(dst, src)
		test.That(t, err, test.ShouldBeNil)
		want := evaluate(t, fixed, quaternionBlocks(pose)...)
		got := evaluate(t, global, append(quaternionBlocks(pose), identity...)...)
		for j := range want {
			test.That(t, got[j], test.ShouldAlmostEqual, want[j], 1e-12)
		}

		fixedPlane, err := MakePointToPlaneResidual(dst, src, normal, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		globalPlane, err := MakePointToPlaneResidualGlobal(dst, src, normal, WithRotation(AngleAxis))
		test.That(t, err, test.ShouldBeNil)
		wantPlane := evaluate(t, fixedPlane, angleAxisBlock(pose))
		gotPlane := evaluate(t, globalPlane, angleAxisBlock(pose), make([]float64, 6))
		test.That(t, gotPlane[0], test.ShouldAlmostEqual, wantPlane[0], 1e-12)
	}
}

func TestGlobalDestinationTranslationMovesPointNotNormal(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	for i := 0; i < 20; i++ {
		pose := randomPose(rnd)
		dst, src, normal := randomPoint(rnd), randomPoint(rnd), randomPoint(rnd)
		shift := randomPoint(rnd).Mul(3)

		fixed, err := MakePointToPlaneResidual(dst.Add(shift), src, normal)
		test.That(t, err, test.ShouldBeNil)
		global, err := MakePointToPlaneResidualGlobal(dst, src, normal)
		test.That(t, err, test.ShouldBeNil)

		want := evaluate(t, fixed, quaternionBlocks(pose)...)
		got := evaluate(t, global, append(quaternionBlocks(pose), []float64{1, 0, 0, 0}, []float64{shift.X, shift.Y, shift.Z})...)
		test.That(t, got[0], test.ShouldAlmostEqual, want[0], 1e-9)
	}
}

func TestGlobalDestinationRotationRotatesNormal(t *testing.T) {
	// A destination frame turned 90 degrees about z carries a plane with normal x onto normal y.
	h := math.Sqrt2 / 2
	global, err := MakePointToPlaneResidualGlobal(r3.Vector{}, r3.Vector{}, r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, err, test.ShouldBeNil)

	srcRot, srcTrans := []float64{1, 0, 0, 0}, []float64{0.5, 2, 0}
	r := evaluate(t, global, srcRot, srcTrans, []float64{h, 0, 0, h}, []float64{0, 0, 0})
	test.That(t, r[0], test.ShouldAlmostEqual, 2, 1e-12)
}

func TestJacobians(t *testing.T) {
	rnd := rand.New(rand.NewSource(6))
	dst, src, normal := randomPoint(rnd), randomPoint(rnd), randomPoint(rnd)
	pose, other := randomPose(rnd), randomPose(rnd)

	quatParams := quaternionBlocks(pose)
	globalQuatParams := append(quaternionBlocks(pose), quaternionBlocks(other)...)
	for _, tc := range []struct {
		name   string
		make   func(opts ...Option) (CostFunction, error)
		params [][]float64
	}{
		{"p2p", func(opts ...Option) (CostFunction, error) { return MakePointToPointResidual(dst, src, opts...) }, quatParams},
		{"p2p angle axis", func(opts ...Option) (CostFunction, error) {
			return MakePointToPointResidual(dst, src, append(opts, WithRotation(AngleAxis))...)
		}, [][]float64{angleAxisBlock(pose)}},
		{"p2p global", func(opts ...Option) (CostFunction, error) {
			return MakePointToPointResidualGlobal(dst, src, opts...)
		}, globalQuatParams},
		{"p2l", func(opts ...Option) (CostFunction, error) { return MakePointToPlaneResidual(dst, src, normal, opts...) }, quatParams},
		{"p2l global", func(opts ...Option) (CostFunction, error) {
			return MakePointToPlaneResidualGlobal(dst, src, normal, opts...)
		}, globalQuatParams},
		{"p2l global angle axis", func(opts ...Option) (CostFunction, error) {
			return MakePointToPlaneResidualGlobal(dst, src, normal, append(opts, WithRotation(AngleAxis))...)
		}, [][]float64{angleAxisBlock(pose), angleAxisBlock(other)}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			auto, err := tc.make()
			test.That(t, err, test.ShouldBeNil)
			numeric, err := tc.make(WithDifferentiation(NumericDiff))
			test.That(t, err, test.ShouldBeNil)

			jacobians := func(cf CostFunction) ([]float64, [][]float64) {
				residuals := make([]float64, cf.NumResiduals())
				jac := make([][]float64, len(tc.params))
				for i, size := range cf.ParameterBlockSizes() {
					jac[i] = make([]float64, cf.NumResiduals()*size)
				}
				test.That(t, cf.Evaluate(tc.params, residuals, jac), test.ShouldBeNil)
				return residuals, jac
			}
			ra, ja := jacobians(auto)
			rn, jn := jacobians(numeric)
			plain := evaluate(t, auto, tc.params...)
			for i := range ra {
				test.That(t, ra[i], test.ShouldAlmostEqual, rn[i], 1e-12)
				test.That(t, ra[i], test.ShouldAlmostEqual, plain[i], 1e-12)
			}
			for i := range ja {
				for j := range ja[i] {
					test.That(t, ja[i][j], test.ShouldAlmostEqual, jn[i][j], 1e-6)
				}
			}
		})
	}
}

func TestAngleAxisJacobianAtZero(t *testing.T) {
	src := r3.Vector{X: 1, Y: 2, Z: 3}
	cf, err := MakePointToPointResidual(r3.Vector{}, src, WithRotation(AngleAxis))
	test.That(t, err, test.ShouldBeNil)

	residuals := make([]float64, 3)
	jac := [][]float64{make([]float64, 18)}
	test.That(t, cf.Evaluate([][]float64{make([]float64, 6)}, residuals, jac), test.ShouldBeNil)
	test.That(t, residuals, test.ShouldResemble, []float64{1, 2, 3})

	// d(ω×p)/dω = -[p]x, and the translation part is the identity.
	want := []float64{
		0, 3, -2, 1, 0, 0,
		-3, 0, 1, 0, 1, 0,
		2, -1, 0, 0, 0, 1,
	}
	for i := range want {
		test.That(t, jac[0][i], test.ShouldAlmostEqual, want[i])
		test.That(t, math.IsNaN(jac[0][i]), test.ShouldBeFalse)
	}
}

func TestJacobianSkipsNilBlocks(t *testing.T) {
	cf, err := MakePointToPointResidual(r3.Vector{X: 0, Y: 1, Z: 0}, r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, err, test.ShouldBeNil)
	residuals := make([]float64, 3)
	jac := [][]float64{nil, make([]float64, 9)}
	test.That(t, cf.Evaluate([][]float64{{1, 0, 0, 0}, {0, 0, 0}}, residuals, jac), test.ShouldBeNil)
	test.That(t, jac[1], test.ShouldResemble, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	test.That(t, residuals, test.ShouldResemble, []float64{1, -1, 0})
}

func TestConstructionErrors(t *testing.T) {
	nan := r3.Vector{X: math.NaN(), Y: 0, Z: 0}
	inf := r3.Vector{X: 0, Y: math.Inf(1), Z: 0}

	_, err := MakePointToPointResidual(nan, r3.Vector{})
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "destination")

	_, err = MakePointToPointResidualGlobal(r3.Vector{}, inf)
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "source")

	_, err = MakePointToPlaneResidual(r3.Vector{}, r3.Vector{}, r3.Vector{})
	test.That(t, errors.Is(err, ErrZeroNormal), test.ShouldBeTrue)

	_, err = MakePointToPlaneResidualGlobal(nan, r3.Vector{}, r3.Vector{})
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
	test.That(t, errors.Is(err, ErrZeroNormal), test.ShouldBeTrue)

	_, err = MakePointToPointResidual(r3.Vector{}, r3.Vector{}, WithRotation("euler"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "euler")

	_, err = MakePointToPlaneResidual(r3.Vector{}, r3.Vector{}, r3.Vector{X: 0, Y: 0, Z: 1}, WithDifferentiation("symbolic"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEvaluationErrors(t *testing.T) {
	cf, err := MakePointToPointResidual(r3.Vector{X: 0, Y: 1, Z: 0}, r3.Vector{X: 1, Y: 0, Z: 0})
	test.That(t, err, test.ShouldBeNil)
	residuals := make([]float64, 3)

	err = cf.Evaluate([][]float64{{1, 0, 0, 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrParameterBlockSize), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{1, 0, 0}, {0, 0, 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrParameterBlockSize), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{1, 0, 0, 0}, {0, 0, 0}}, make([]float64, 2), nil)
	test.That(t, errors.Is(err, ErrParameterBlockSize), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{1, 0, 0, 0}, {0, 0, 0}}, residuals, [][]float64{nil, make([]float64, 4)})
	test.That(t, errors.Is(err, ErrParameterBlockSize), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{1, 0, 0, 0}, {0, math.NaN(), 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{2, 0, 0, 0}, {0, 0, 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrNonUnitQuaternion), test.ShouldBeTrue)

	err = cf.Evaluate([][]float64{{0, 0, 0, 0}, {0, 0, 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrNonUnitQuaternion), test.ShouldBeTrue)

	// within tolerance
	err = cf.Evaluate([][]float64{{1 + UnitQuaternionTolerance/2, 0, 0, 0}, {0, 0, 0}}, residuals, nil)
	test.That(t, err, test.ShouldBeNil)

	aa, err := MakePointToPointResidual(r3.Vector{}, r3.Vector{}, WithRotation(AngleAxis))
	test.That(t, err, test.ShouldBeNil)
	err = aa.Evaluate([][]float64{{math.Inf(1), 0, 0, 0, 0, 0}}, residuals, nil)
	test.That(t, errors.Is(err, ErrNonFinite), test.ShouldBeTrue)
}

func TestOwnedCopies(t *testing.T) {
	dst, src := r3.Vector{X: 0, Y: 1, Z: 0}, r3.Vector{X: 1, Y: 0, Z: 0}
	cf, err := MakePointToPointResidual(dst, src)
	test.That(t, err, test.ShouldBeNil)
	dst.X, src.Y = 100, 100
	shouldBeZero(t, evaluate(t, cf, []float64{1, 0, 0, 0}, []float64{-1, 1, 0}), 1e-12)
}
