// Package autodiff lets a numeric kernel be written once and evaluated either on plain float64
// values or on dual numbers, the latter yielding exact first derivatives (forward-mode automatic
// differentiation).
package autodiff

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Arithmetic is the set of scalar operations a kernel may use. Kernels must only combine values of
// T through these methods so that derivatives propagate.
type Arithmetic[T any] interface {
	// Const lifts a constant; its derivative part is zero.
	Const(v float64) T
	// Real returns the value part, used for branching.
	Real(x T) float64
	Add(x, y T) T
	Sub(x, y T) T
	Mul(x, y T) T
	Div(x, y T) T
	Neg(x T) T
	Sqrt(x T) T
	Sin(x T) T
	Cos(x T) T
}

// Float64 evaluates kernels on plain float64 values.
type Float64 struct{}

var _ Arithmetic[float64] = Float64{}

func (Float64) Const(v float64) float64  { return v }
func (Float64) Real(x float64) float64   { return x }
func (Float64) Add(x, y float64) float64 { return x + y }
func (Float64) Sub(x, y float64) float64 { return x - y }
func (Float64) Mul(x, y float64) float64 { return x * y }
func (Float64) Div(x, y float64) float64 { return x / y }
func (Float64) Neg(x float64) float64    { return -x }
func (Float64) Sqrt(x float64) float64   { return math.Sqrt(x) }
func (Float64) Sin(x float64) float64    { return math.Sin(x) }
func (Float64) Cos(x float64) float64    { return math.Cos(x) }

// Dual evaluates kernels on gonum dual numbers. The Emag part of every value carries the derivative
// with respect to whichever input was seeded with Emag = 1.
type Dual struct{}

var _ Arithmetic[dual.Number] = Dual{}

func (Dual) Const(v float64) dual.Number      { return dual.Number{Real: v} }
func (Dual) Real(x dual.Number) float64       { return x.Real }
func (Dual) Mul(x, y dual.Number) dual.Number { return dual.Mul(x, y) }
func (Dual) Sqrt(x dual.Number) dual.Number   { return dual.Sqrt(x) }
func (Dual) Sin(x dual.Number) dual.Number    { return dual.Sin(x) }
func (Dual) Cos(x dual.Number) dual.Number    { return dual.Cos(x) }

func (Dual) Add(x, y dual.Number) dual.Number { return dual.Add(x, y) }
func (Dual) Sub(x, y dual.Number) dual.Number { return dual.Sub(x, y) }
func (Dual) Neg(x dual.Number) dual.Number    { return dual.Scale(-1, x) }
func (Dual) Div(x, y dual.Number) dual.Number { return dual.Mul(x, dual.Inv(y)) }
