package diffusion

import (
	"math/rand"

	"github.com/stf-ml/stf/internal/tensor"
)

// NoiseModel perturbs clean samples with additive isotropic Gaussian noise:
//
//	perturbed[i] = clean[i] + sigma[i] · ε,  ε ~ N(0, I)
//
// One NoiseModel is created per trainer with its own seeded source, so runs
// are reproducible without touching the global math/rand state.
type NoiseModel[T tensor.DType, B tensor.Backend] struct {
	backend B
	rng     *rand.Rand
}

// NewNoiseModel creates a noise model with a deterministic source.
func NewNoiseModel[T tensor.DType, B tensor.Backend](backend B, seed int64) *NoiseModel[T, B] {
	return &NoiseModel[T, B]{
		backend: backend,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Perturb returns clean + σᵢ·ε with a fresh noise draw per element.
// clean has shape [N, D] and sigma shape [N]; clean is not mutated.
func (m *NoiseModel[T, B]) Perturb(clean, sigma *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	shape := clean.Shape()
	n, d := shape[0], shape[1]

	noise := tensor.RandnSource[T, B](shape.Clone(), m.rng, m.backend)
	noiseData := noise.Data()
	sigmaData := sigma.Data()
	for i := 0; i < n; i++ {
		s := sigmaData[i]
		row := noiseData[i*d : (i+1)*d]
		for j := range row {
			row[j] *= s
		}
	}

	return clean.Add(noise)
}
