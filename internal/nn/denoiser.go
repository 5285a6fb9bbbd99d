// Package nn provides the small supervised-denoiser toolkit used by the
// training loop: parameters with explicit gradients, a fully connected layer,
// and an MLP denoiser conditioned on the noise scale. The denoising network
// is an external collaborator of the estimator core — any architecture
// satisfying Denoiser plugs into the trainer.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/stf-ml/stf/internal/tensor"
)

// Denoiser is a trainable network mapping (perturbed batch, noise scales) to
// a denoised prediction of the same shape.
type Denoiser[B tensor.Backend] interface {
	Forward(x, sigma *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
	// Backward propagates the loss gradient with respect to the prediction,
	// accumulating parameter gradients along the way.
	Backward(gradPred *tensor.Tensor[float32, B])
	Parameters() []*Parameter[B]
}

// MLPDenoiser is a noise-conditioned multilayer perceptron:
//
//	[x, ln σ] → Linear(D+1, H) → SiLU → Linear(H, H) → SiLU → Linear(H, D)
//
// The noise scale enters as one extra input feature in log domain, since σ
// spans orders of magnitude across a minibatch.
type MLPDenoiser[B tensor.Backend] struct {
	dim     int
	hidden  int
	fc1     *Linear[B]
	act1    *SiLU[B]
	fc2     *Linear[B]
	act2    *SiLU[B]
	fc3     *Linear[B]
	backend B
}

// NewMLPDenoiser creates an MLP denoiser for D-dimensional samples.
func NewMLPDenoiser[B tensor.Backend](dim, hidden int, rng *rand.Rand, backend B) *MLPDenoiser[B] {
	return &MLPDenoiser[B]{
		dim:     dim,
		hidden:  hidden,
		fc1:     NewLinear[B]("fc1", dim+1, hidden, rng, backend),
		act1:    NewSiLU[B](),
		fc2:     NewLinear[B]("fc2", hidden, hidden, rng, backend),
		act2:    NewSiLU[B](),
		fc3:     NewLinear[B]("fc3", hidden, dim, rng, backend),
		backend: backend,
	}
}

// Forward predicts the denoised batch for perturbed input x [N, D] and noise
// scales sigma [N].
func (m *MLPDenoiser[B]) Forward(x, sigma *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	h := m.fc1.Forward(m.augment(x, sigma))
	h = m.act1.Forward(h)
	h = m.fc2.Forward(h)
	h = m.act2.Forward(h)
	return m.fc3.Forward(h)
}

// Backward runs the chain in reverse. The gradient with respect to the
// network input is discarded — nothing upstream of the denoiser trains.
func (m *MLPDenoiser[B]) Backward(gradPred *tensor.Tensor[float32, B]) {
	g := m.fc3.Backward(gradPred)
	g = m.act2.Backward(g)
	g = m.fc2.Backward(g)
	g = m.act1.Backward(g)
	m.fc1.Backward(g)
}

// Parameters returns all trainable parameters.
func (m *MLPDenoiser[B]) Parameters() []*Parameter[B] {
	params := m.fc1.Parameters()
	params = append(params, m.fc2.Parameters()...)
	params = append(params, m.fc3.Parameters()...)
	return params
}

// augment appends ln(σ) as an extra feature column: [N, D] → [N, D+1].
func (m *MLPDenoiser[B]) augment(x, sigma *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	n, d := shape[0], shape[1]
	if d != m.dim {
		panic(fmt.Sprintf("nn: denoiser expects [batch, %d], got %v", m.dim, shape))
	}
	if !sigma.Shape().Equal(tensor.Shape{n}) {
		panic(fmt.Sprintf("nn: sigma shape %v does not match batch size %d", sigma.Shape(), n))
	}

	xData := x.Data()
	sigmaData := sigma.Data()
	augData := make([]float32, n*(d+1))
	for i := 0; i < n; i++ {
		copy(augData[i*(d+1):], xData[i*d:(i+1)*d])
		augData[i*(d+1)+d] = float32(math.Log(float64(sigmaData[i])))
	}

	aug, err := tensor.FromSlice(augData, tensor.Shape{n, d + 1}, m.backend)
	if err != nil {
		panic(fmt.Sprintf("nn: augment: %v", err))
	}
	return aug
}
