package optim

import (
	"github.com/stf-ml/stf/internal/nn"
	"github.com/stf-ml/stf/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * grad
//
// With momentum:
//
//	velocity = momentum * velocity + grad
//	param = param - lr * velocity
type SGD[B tensor.Backend] struct {
	params     []*nn.Parameter[B]
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter[B]][]float32
}

// SGDConfig holds configuration for the SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD[B]{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter[B]][]float32),
	}
}

// Step applies one update to every parameter. Parameters whose gradient is
// all zeros are still touched; skipping them is not worth the check.
func (s *SGD[B]) Step() {
	for _, param := range s.params {
		value := param.Value().Data()
		grad := param.Grad().Data()

		if s.momentum == 0 {
			for i := range value {
				value[i] -= s.lr * grad[i]
			}
			continue
		}

		velocity, ok := s.velocities[param]
		if !ok {
			velocity = make([]float32, len(value))
			s.velocities[param] = velocity
		}
		for i := range value {
			velocity[i] = s.momentum*velocity[i] + grad[i]
			value[i] -= s.lr * velocity[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	zeroGrads(s.params)
}

// LR returns the current learning rate.
func (s *SGD[B]) LR() float32 {
	return s.lr
}

// SetLR updates the learning rate, for scheduling.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}
