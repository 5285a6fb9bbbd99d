// Package optim implements the gradient-descent optimizers used by the
// training loop.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for step := 0; step < steps; step++ {
//	    loss := trainStep(model, batch) // accumulates parameter gradients
//	    optimizer.Step()
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"github.com/stf-ml/stf/internal/nn"
	"github.com/stf-ml/stf/internal/tensor"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one gradient update to all parameters in place.
	Step()

	// ZeroGrad clears all parameter gradients. Call before each backward
	// pass to prevent accumulation across iterations.
	ZeroGrad()

	// LR returns the current learning rate.
	LR() float32
}

func zeroGrads[B tensor.Backend](params []*nn.Parameter[B]) {
	for _, p := range params {
		p.ZeroGrad()
	}
}
