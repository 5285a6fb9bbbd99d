package nn

import (
	"fmt"

	"github.com/stf-ml/stf/internal/tensor"
)

// Parameter is a trainable tensor with an explicitly managed gradient buffer.
// There is no autodiff tape in this framework: layers compute their own
// backward passes and accumulate into the gradient here.
type Parameter[B tensor.Backend] struct {
	name  string
	value *tensor.Tensor[float32, B]
	grad  *tensor.Tensor[float32, B]
}

// NewParameter creates a trainable parameter around an initialized tensor.
// The gradient buffer is allocated eagerly with the same shape.
func NewParameter[B tensor.Backend](name string, value *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{
		name:  name,
		value: value,
		grad:  tensor.Zeros[float32, B](value.Shape().Clone(), value.Backend()),
	}
}

// Name returns the parameter name (e.g. "fc1.weight").
func (p *Parameter[B]) Name() string {
	return p.name
}

// Value returns the parameter tensor.
func (p *Parameter[B]) Value() *tensor.Tensor[float32, B] {
	return p.value
}

// Grad returns the accumulated gradient tensor.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// AccumGrad adds g into the gradient buffer in place.
func (p *Parameter[B]) AccumGrad(g *tensor.Tensor[float32, B]) {
	if !g.Shape().Equal(p.grad.Shape()) {
		panic(fmt.Sprintf("nn: gradient shape %v does not match parameter %s shape %v",
			g.Shape(), p.name, p.grad.Shape()))
	}
	dst := p.grad.Data()
	src := g.Data()
	for i := range dst {
		dst[i] += src[i]
	}
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter[B]) ZeroGrad() {
	data := p.grad.Data()
	for i := range data {
		data[i] = 0
	}
}
