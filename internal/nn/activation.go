package nn

import (
	"math"

	"github.com/stf-ml/stf/internal/tensor"
)

// SiLU is the sigmoid-weighted linear unit: silu(x) = x · σ(x).
// Forward caches its input for the backward pass.
type SiLU[B tensor.Backend] struct {
	lastInput *tensor.Tensor[float32, B]
}

// NewSiLU creates a SiLU activation.
func NewSiLU[B tensor.Backend]() *SiLU[B] {
	return &SiLU[B]{}
}

// Forward applies silu element-wise.
func (a *SiLU[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	a.lastInput = x
	out := x.Clone()
	data := out.Data()
	for i, v := range data {
		data[i] = v * sigmoid(v)
	}
	return out
}

// Backward returns gradOut scaled by the silu derivative:
//
//	d/dx silu(x) = σ(x) · (1 + x · (1 - σ(x)))
func (a *SiLU[B]) Backward(gradOut *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if a.lastInput == nil {
		panic("nn: silu Backward called before Forward")
	}

	out := gradOut.Clone()
	data := out.Data()
	in := a.lastInput.Data()
	for i, v := range in {
		s := sigmoid(v)
		data[i] *= s * (1 + v*(1-s))
	}
	return out
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}
