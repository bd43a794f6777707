package autodiff

import (
	"gonum.org/v1/gonum/num/dual"
)

// Kernel computes residuals from parameter blocks over the scalar type T.
type Kernel[T any] func(parameters [][]T, residuals []T)

// Jacobian fills jacobians by running kernel once per scalar parameter with that parameter's dual part
// seeded to one. jacobians[i] is row-major, numResiduals x len(parameters[i]); nil entries are skipped.
// The value part of the kernel output is written to residuals when residuals is not nil.
func Jacobian(numResiduals int, parameters [][]float64, residuals []float64, jacobians [][]float64, kernel Kernel[dual.Number]) {
	lifted := make([][]dual.Number, len(parameters))
	for i, block := range parameters {
		lifted[i] = make([]dual.Number, len(block))
		for j, v := range block {
			lifted[i][j] = dual.Number{Real: v}
		}
	}
	out := make([]dual.Number, numResiduals)

	wroteResiduals := false
	for i, block := range lifted {
		if i >= len(jacobians) || jacobians[i] == nil {
			continue
		}
		size := len(block)
		for j := range block {
			block[j].Emag = 1
			kernel(lifted, out)
			block[j].Emag = 0

			for r := 0; r < numResiduals; r++ {
				jacobians[i][r*size+j] = out[r].Emag
			}
			if !wroteResiduals && residuals != nil {
				for r := 0; r < numResiduals; r++ {
					residuals[r] = out[r].Real
				}
				wroteResiduals = true
			}
		}
	}

	if !wroteResiduals && residuals != nil {
		kernel(lifted, out)
		for r := 0; r < numResiduals; r++ {
			residuals[r] = out[r].Real
		}
	}
}
