package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/stf-ml/stf/internal/tensor"
)

// SigmaSampler draws per-sample noise scales for a training step. The schedule
// is a policy of the surrounding framework, not of the estimator, so it stays
// behind this interface.
type SigmaSampler interface {
	// Sample draws n noise scales, all > 0.
	Sample(rng *rand.Rand, n int) []float64
}

// LogUniformSampler draws σ log-uniformly from [SigmaMin, SigmaMax], covering
// several orders of magnitude of noise level per minibatch the way
// variance-exploding diffusion schedules do.
type LogUniformSampler struct {
	SigmaMin float64
	SigmaMax float64
}

// NewLogUniformSampler validates the range and returns the sampler.
func NewLogUniformSampler(sigmaMin, sigmaMax float64) (*LogUniformSampler, error) {
	if !(sigmaMin > 0) || !(sigmaMax > sigmaMin) {
		return nil, fmt.Errorf("diffusion: invalid sigma range [%v, %v]", sigmaMin, sigmaMax)
	}
	return &LogUniformSampler{SigmaMin: sigmaMin, SigmaMax: sigmaMax}, nil
}

// Sample draws n scales: σ = σ_min · (σ_max/σ_min)^u, u ~ U(0,1).
func (s *LogUniformSampler) Sample(rng *rand.Rand, n int) []float64 {
	logRatio := math.Log(s.SigmaMax / s.SigmaMin)
	out := make([]float64, n)
	for i := range out {
		out[i] = s.SigmaMin * math.Exp(rng.Float64()*logRatio)
	}
	return out
}

// FixedSampler always returns the same scale. Used in tests and for probing
// single noise levels.
type FixedSampler struct {
	Sigma float64
}

// Sample returns n copies of the fixed scale.
func (s *FixedSampler) Sample(_ *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Sigma
	}
	return out
}

// SigmaTensor lifts sampled scales into a [n] tensor on the given backend.
func SigmaTensor[T tensor.DType, B tensor.Backend](scales []float64, b B) *tensor.Tensor[T, B] {
	data := make([]T, len(scales))
	for i, s := range scales {
		data[i] = T(s)
	}
	t, err := tensor.FromSlice(data, tensor.Shape{len(scales)}, b)
	if err != nil {
		panic(fmt.Sprintf("diffusion: sigma tensor: %v", err))
	}
	return t
}
