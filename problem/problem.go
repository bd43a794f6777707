// Package problem assembles residual blocks over shared parameter blocks into one nonlinear least
// squares problem, 1/2 Σ |r_i|², and minimizes it.
package problem

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/icp/manifold"
	"go.viam.com/icp/utils"
)

var (
	// ErrUnknownParameterBlock is returned when a block was never added to the problem.
	ErrUnknownParameterBlock = errors.New("unknown parameter block")
	// ErrEmptyParameterBlock is returned when a zero length block is added.
	ErrEmptyParameterBlock = errors.New("parameter block is empty")
)

// CostFunction is a residual term; residual.CostFunction satisfies it.
type CostFunction interface {
	NumResiduals() int
	ParameterBlockSizes() []int
	Evaluate(parameters [][]float64, residuals []float64, jacobians [][]float64) error
}

type parameterBlock struct {
	index    int
	values   []float64
	manifold manifold.Manifold
	constant bool

	// set up by Solve
	offset int
	anchor []float64
	trial  []float64
}

type residualBlock struct {
	cost   CostFunction
	blocks []*parameterBlock
}

// Problem owns no parameter memory: blocks are the caller's slices, identified by their first
// element, and Solve writes the result back into them.
type Problem struct {
	logger         golog.Logger
	parameters     []*parameterBlock
	byAddress      map[*float64]*parameterBlock
	residualBlocks []*residualBlock
}

// NewProblem returns an empty problem.
func NewProblem(logger golog.Logger) *Problem {
	return &Problem{
		logger:    logger,
		byAddress: map[*float64]*parameterBlock{},
	}
}

// AddParameterBlock registers values as a parameter block. A nil manifold means Euclidean. Adding a
// block twice only updates its manifold when one is given.
func (p *Problem) AddParameterBlock(values []float64, m manifold.Manifold) error {
	if len(values) == 0 {
		return ErrEmptyParameterBlock
	}
	if b, ok := p.byAddress[&values[0]]; ok {
		if len(b.values) != len(values) {
			return errors.Errorf("parameter block re-added with length %d, was %d", len(values), len(b.values))
		}
		if m != nil {
			return p.SetManifold(values, m)
		}
		return nil
	}
	if m == nil {
		m = manifold.NewEuclidean(len(values))
	}
	if m.AmbientSize() != len(values) {
		return errors.Errorf("manifold of size %d does not fit parameter block of length %d", m.AmbientSize(), len(values))
	}
	b := &parameterBlock{index: len(p.parameters), values: values, manifold: m}
	p.parameters = append(p.parameters, b)
	p.byAddress[&values[0]] = b
	return nil
}

// AddResidualBlock adds a cost over the given parameter blocks, registering any blocks not yet known.
func (p *Problem) AddResidualBlock(cost CostFunction, blocks ...[]float64) error {
	sizes := cost.ParameterBlockSizes()
	if len(sizes) != len(blocks) {
		return errors.Errorf("cost function takes %d parameter blocks, got %d", len(sizes), len(blocks))
	}
	rb := &residualBlock{cost: cost}
	seen := map[*parameterBlock]bool{}
	for i, values := range blocks {
		if len(values) != sizes[i] {
			return errors.Errorf("parameter block %d has length %d, cost function wants %d", i, len(values), sizes[i])
		}
		if err := p.AddParameterBlock(values, nil); err != nil {
			return err
		}
		b := p.byAddress[&values[0]]
		if seen[b] {
			return errors.Errorf("parameter block %d is passed more than once", i)
		}
		seen[b] = true
		rb.blocks = append(rb.blocks, b)
	}
	p.residualBlocks = append(p.residualBlocks, rb)
	return nil
}

func (p *Problem) block(values []float64) (*parameterBlock, error) {
	if len(values) == 0 {
		return nil, ErrEmptyParameterBlock
	}
	b, ok := p.byAddress[&values[0]]
	if !ok {
		return nil, ErrUnknownParameterBlock
	}
	return b, nil
}

// SetManifold changes how the solver moves a block.
func (p *Problem) SetManifold(values []float64, m manifold.Manifold) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	if m.AmbientSize() != len(b.values) {
		return errors.Errorf("manifold of size %d does not fit parameter block of length %d", m.AmbientSize(), len(b.values))
	}
	b.manifold = m
	return nil
}

// SetParameterBlockConstant holds a block at its current value during Solve.
func (p *Problem) SetParameterBlockConstant(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = true
	return nil
}

// SetParameterBlockVariable undoes SetParameterBlockConstant.
func (p *Problem) SetParameterBlockVariable(values []float64) error {
	b, err := p.block(values)
	if err != nil {
		return err
	}
	b.constant = false
	return nil
}

// NumParameterBlocks returns the number of registered parameter blocks.
func (p *Problem) NumParameterBlocks() int {
	return len(p.parameters)
}

// NumResidualBlocks returns the number of residual blocks.
func (p *Problem) NumResidualBlocks() int {
	return len(p.residualBlocks)
}

// NumResiduals returns the total length of the residual vector.
func (p *Problem) NumResiduals() int {
	n := 0
	for _, rb := range p.residualBlocks {
		n += rb.cost.NumResiduals()
	}
	return n
}

// Evaluate returns the total cost at the current parameter values and the gradient of the cost with
// respect to each parameter block in ambient coordinates, in the order blocks were added. Constant
// blocks get a nil gradient.
func (p *Problem) Evaluate(ctx context.Context) (float64, [][]float64, error) {
	gradients := p.gradientBuffers()
	cost, err := p.evaluate(ctx, func(b *parameterBlock) []float64 { return b.values }, gradients)
	if err != nil {
		return 0, nil, err
	}
	for _, b := range p.parameters {
		if b.constant {
			gradients[b.index] = nil
		}
	}
	return cost, gradients, nil
}

func (p *Problem) gradientBuffers() [][]float64 {
	gradients := make([][]float64, len(p.parameters))
	for _, b := range p.parameters {
		gradients[b.index] = make([]float64, len(b.values))
	}
	return gradients
}

// evaluate sums the cost of every residual block in parallel. When gradients is not nil it also
// accumulates Jᵀr for every non-constant block. Each group works into its own buffers, which are
// merged once all groups finish.
func (p *Problem) evaluate(ctx context.Context, values func(*parameterBlock) []float64, gradients [][]float64) (float64, error) {
	var (
		costs     []float64
		errs      []error
		groupGrad [][][]float64
	)
	err := utils.GroupWorkParallel(
		ctx,
		len(p.residualBlocks),
		func(numGroups int) {
			costs = make([]float64, numGroups)
			errs = make([]error, numGroups)
			groupGrad = make([][][]float64, numGroups)
		},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			if gradients != nil {
				groupGrad[groupNum] = p.gradientBuffers()
			}
			return func(memberNum, workNum int) {
				if errs[groupNum] != nil {
					return
				}
				cost, err := p.residualBlocks[workNum].evaluate(values, groupGrad[groupNum])
				if err != nil {
					errs[groupNum] = errors.Wrapf(err, "residual block %d", workNum)
					return
				}
				costs[groupNum] += cost
			}, nil
		},
	)
	if err != nil {
		return 0, err
	}

	var total float64
	for i := range costs {
		if errs[i] != nil {
			return 0, errs[i]
		}
		total += costs[i]
		if gradients != nil {
			for j, g := range groupGrad[i] {
				floats.Add(gradients[j], g)
			}
		}
	}
	return total, nil
}

func (rb *residualBlock) evaluate(values func(*parameterBlock) []float64, gradients [][]float64) (float64, error) {
	numResiduals := rb.cost.NumResiduals()
	params := make([][]float64, len(rb.blocks))
	for i, b := range rb.blocks {
		params[i] = values(b)
	}
	residuals := make([]float64, numResiduals)

	var jacobians [][]float64
	if gradients != nil {
		jacobians = make([][]float64, len(rb.blocks))
		for i, b := range rb.blocks {
			if !b.constant {
				jacobians[i] = make([]float64, numResiduals*len(b.values))
			}
		}
	}
	if err := rb.cost.Evaluate(params, residuals, jacobians); err != nil {
		return 0, err
	}

	for i, jac := range jacobians {
		if jac == nil {
			continue
		}
		g := gradients[rb.blocks[i].index]
		size := len(g)
		for r, res := range residuals {
			for c := 0; c < size; c++ {
				g[c] += jac[r*size+c] * res
			}
		}
	}
	return 0.5 * floats.Dot(residuals, residuals), nil
}
