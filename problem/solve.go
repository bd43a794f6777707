package problem

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Summary reports what Solve did.
type Summary struct {
	InitialCost         float64
	FinalCost           float64
	OuterIterations     int
	Iterations          int
	FunctionEvaluations int
	GradientEvaluations int
	Converged           bool
	Termination         string
	Duration            time.Duration
}

func (s *Summary) String() string {
	return fmt.Sprintf("cost %g -> %g after %d iterations (%d outer), converged: %t (%s)",
		s.InitialCost, s.FinalCost, s.Iterations, s.OuterIterations, s.Converged, s.Termination)
}

// recorder stops the inner solver on context cancellation or a failed evaluation.
type recorder struct {
	ctx    context.Context
	logger golog.Logger
	outer  int
	err    error
}

func (r *recorder) Init() error {
	return r.ctx.Err()
}

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if r.err != nil {
		return r.err
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op == optimize.MajorIteration {
		r.logger.Debugw("solver iteration", "outer", r.outer, "iteration", stats.MajorIterations, "cost", loc.F)
	}
	return nil
}

func (r *recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// layout assigns each free block its slice of the tangent vector and returns the tangent dimension.
func (p *Problem) layout() int {
	dim := 0
	for _, b := range p.parameters {
		if b.constant {
			b.offset = -1
			continue
		}
		b.offset = dim
		dim += b.manifold.TangentSize()
		b.anchor = make([]float64, len(b.values))
		b.trial = make([]float64, len(b.values))
	}
	return dim
}

func (p *Problem) current(b *parameterBlock) []float64 {
	if b.constant {
		return b.values
	}
	return b.trial
}

// evaluateTangent evaluates the cost at anchor ⊞ x. When grad is not nil it receives the gradient
// with respect to x.
func (p *Problem) evaluateTangent(ctx context.Context, x, grad []float64) (float64, error) {
	for _, b := range p.parameters {
		if b.constant {
			continue
		}
		b.manifold.Plus(b.anchor, p.step(b, x), b.trial)
	}
	if grad == nil {
		return p.evaluate(ctx, p.current, nil)
	}

	ambient := p.gradientBuffers()
	cost, err := p.evaluate(ctx, p.current, ambient)
	if err != nil {
		return 0, err
	}
	for _, b := range p.parameters {
		if b.constant {
			continue
		}
		size, tangent := len(b.values), b.manifold.TangentSize()
		jac := make([]float64, size*tangent)
		b.manifold.PlusJacobian(b.anchor, p.step(b, x), jac)
		g := ambient[b.index]
		for c := 0; c < tangent; c++ {
			var sum float64
			for r := 0; r < size; r++ {
				sum += jac[r*tangent+c] * g[r]
			}
			grad[b.offset+c] = sum
		}
	}
	return cost, nil
}

func (p *Problem) step(b *parameterBlock, x []float64) []float64 {
	return x[b.offset : b.offset+b.manifold.TangentSize()]
}

// Solve minimizes the problem, writing the optimal values into the parameter blocks. Each outer
// iteration runs the configured gonum method over a tangent step from the current values and then
// moves the blocks by that step, so manifold blocks such as unit quaternions stay on their manifold.
func (p *Problem) Solve(ctx context.Context, opts SolverOptions) (*Summary, error) {
	ctx, span := trace.StartSpan(ctx, "problem::Solve")
	defer span.End()

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	summary := &Summary{}

	initial, err := p.evaluate(ctx, func(b *parameterBlock) []float64 { return b.values }, nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot evaluate initial parameters")
	}
	summary.InitialCost, summary.FinalCost = initial, initial

	dim := p.layout()
	if dim == 0 || len(p.residualBlocks) == 0 {
		summary.Converged = true
		summary.Termination = "nothing to optimize"
		summary.Duration = time.Since(start)
		return summary, nil
	}

	cost := initial
	x := make([]float64, dim)
	for outer := 0; outer < opts.MaxOuterIterations; outer++ {
		summary.OuterIterations++
		for _, b := range p.parameters {
			if !b.constant {
				copy(b.anchor, b.values)
			}
		}

		rec := &recorder{ctx: ctx, logger: p.logger, outer: outer}
		prob := optimize.Problem{
			Func: func(x []float64) float64 {
				f, err := p.evaluateTangent(ctx, x, nil)
				if err != nil {
					rec.fail(err)
					return math.NaN()
				}
				return f
			},
			Grad: func(grad, x []float64) {
				if _, err := p.evaluateTangent(ctx, x, grad); err != nil {
					rec.fail(err)
					for i := range grad {
						grad[i] = math.NaN()
					}
				}
			},
		}

		for i := range x {
			x[i] = 0
		}
		result, err := optimize.Minimize(prob, x, opts.settings(rec), opts.method())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if rec.err != nil {
			return nil, rec.err
		}
		if result == nil {
			return nil, errors.Wrap(err, "solver failed")
		}
		summary.Iterations += result.Stats.MajorIterations
		summary.FunctionEvaluations += result.Stats.FuncEvaluations
		summary.GradientEvaluations += result.Stats.GradEvaluations
		summary.Termination = result.Status.String()

		if math.IsNaN(result.F) || math.IsInf(result.F, 0) || result.F > cost {
			// nothing better than the anchor was found
			if err != nil {
				p.logger.Warnw("solver stopped without improving", "outer", outer, "error", err)
				summary.Termination = err.Error()
			}
			summary.Converged = err == nil
			break
		}

		for _, b := range p.parameters {
			if !b.constant {
				b.manifold.Plus(b.anchor, p.step(b, result.X), b.values)
			}
		}
		stepNorm := floats.Norm(result.X, 2)
		decrease := cost - result.F
		cost = result.F
		p.logger.Debugw("outer iteration", "outer", outer, "cost", cost, "step", stepNorm, "status", result.Status)

		if err != nil {
			p.logger.Warnw("solver stopped early", "outer", outer, "error", err)
			summary.Termination = err.Error()
			break
		}
		if result.Status == optimize.GradientThreshold ||
			stepNorm <= opts.ParameterTolerance ||
			decrease <= opts.FunctionTolerance*math.Max(cost, opts.FunctionTolerance) {
			summary.Converged = true
			break
		}
	}

	summary.FinalCost = cost
	summary.Duration = time.Since(start)
	if summary.Converged {
		p.logger.Debugf("solve converged: %s", summary)
	} else {
		p.logger.Warnf("solve did not converge: %s", summary)
	}
	return summary, nil
}
