package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// rotationMatrixTolerance bounds |det(R) - 1| and the deviation of RᵀR from identity.
const rotationMatrixTolerance = 1e-6

// QuatToRotationMatrix returns the 3x3 rotation matrix of a unit quaternion.
func QuatToRotationMatrix(q quat.Number) *mat.Dense {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// RotationMatrixToQuat converts a proper 3x3 rotation matrix to a unit quaternion with a non-negative real part.
func RotationMatrixToQuat(m mat.Matrix) (quat.Number, error) {
	if r, c := m.Dims(); r != 3 || c != 3 {
		return quat.Number{}, errors.Errorf("rotation matrix must be 3x3, got %dx%d", r, c)
	}
	if err := CheckRotationMatrix(m); err != nil {
		return quat.Number{}, err
	}
	m4 := mgl64.Ident4()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m4.Set(i, j, m.At(i, j))
		}
	}
	qRot := mgl64.Mat4ToQuat(m4)
	q := Normalize(quat.Number{Real: qRot.W, Imag: qRot.X(), Jmag: qRot.Y(), Kmag: qRot.Z()})
	if q.Real < 0 {
		q = Flip(q)
	}
	return q, nil
}

// CheckRotationMatrix returns an error unless m is orthonormal with determinant +1.
func CheckRotationMatrix(m mat.Matrix) error {
	if det := mat.Det(m); math.Abs(det-1) > rotationMatrixTolerance {
		return errors.Errorf("rotation matrix determinant is %f, want 1", det)
	}
	var rtr mat.Dense
	rtr.Mul(m.T(), m)
	if !mat.EqualApprox(&rtr, identity3(), rotationMatrixTolerance) {
		return errors.New("rotation matrix is not orthonormal")
	}
	return nil
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
