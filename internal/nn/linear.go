package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/stf-ml/stf/internal/tensor"
)

// Linear is a fully connected layer: y = x @ Wᵀ + b.
//
// Shapes:
//   - x: [batch, in_features]
//   - W: [out_features, in_features]
//   - b: [out_features]
//   - y: [batch, out_features]
//
// Weights use Xavier/Glorot uniform initialization; biases start at zero.
// Forward caches its input, so Backward must follow the matching Forward.
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter[B]
	bias        *Parameter[B]
	backend     B

	lastInput *tensor.Tensor[float32, B]
}

// NewLinear creates a Linear layer with Xavier-initialized weights.
func NewLinear[B tensor.Backend](name string, inFeatures, outFeatures int, rng *rand.Rand, backend B) *Linear[B] {
	limit := float32(math.Sqrt(6.0 / float64(inFeatures+outFeatures)))
	weightData := make([]float32, outFeatures*inFeatures)
	for i := range weightData {
		weightData[i] = (rng.Float32()*2 - 1) * limit
	}

	weight, err := tensor.FromSlice(weightData, tensor.Shape{outFeatures, inFeatures}, backend)
	if err != nil {
		panic(fmt.Sprintf("nn: linear weight init: %v", err))
	}
	bias := tensor.Zeros[float32, B](tensor.Shape{outFeatures}, backend)

	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", bias),
		backend:     backend,
	}
}

// Forward computes y = x @ Wᵀ + b.
func (l *Linear[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if len(shape) != 2 || shape[1] != l.inFeatures {
		panic(fmt.Sprintf("nn: linear expects input [batch, %d], got %v", l.inFeatures, shape))
	}

	l.lastInput = x
	return x.MatMul(l.weight.Value().Transpose()).Add(l.bias.Value())
}

// Backward accumulates parameter gradients and returns the gradient with
// respect to the layer input:
//
//	dW = gradOutᵀ @ x
//	db = Σ_batch gradOut
//	dx = gradOut @ W
func (l *Linear[B]) Backward(gradOut *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if l.lastInput == nil {
		panic("nn: linear Backward called before Forward")
	}

	l.weight.AccumGrad(gradOut.Transpose().MatMul(l.lastInput))
	l.bias.AccumGrad(gradOut.SumDim(0, false))
	return gradOut.MatMul(l.weight.Value())
}

// Parameters returns the layer's trainable parameters.
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}
