package train

import (
	"fmt"
	"math/rand"

	"github.com/stf-ml/stf/internal/tensor"
)

// MixtureSampler draws from an isotropic Gaussian mixture. It is the
// synthetic data source for the demo and the trainer tests: multimodal enough
// that nearest-clean-sample targets are noticeably noisier than stable
// targets at mid noise levels.
type MixtureSampler[B tensor.Backend] struct {
	Means   [][]float32 // One mean per component, all the same dimension
	Std     float32     // Shared isotropic component std
	backend B
}

// NewMixtureSampler validates component means and returns the sampler.
func NewMixtureSampler[B tensor.Backend](means [][]float32, std float32, backend B) (*MixtureSampler[B], error) {
	if len(means) == 0 {
		return nil, fmt.Errorf("train: mixture needs at least one component")
	}
	dim := len(means[0])
	for i, m := range means {
		if len(m) != dim {
			return nil, fmt.Errorf("train: component %d has dimension %d, want %d", i, len(m), dim)
		}
	}
	if !(std > 0) {
		return nil, fmt.Errorf("train: component std must be > 0, got %v", std)
	}
	return &MixtureSampler[B]{Means: means, Std: std, backend: backend}, nil
}

// Dim returns the sample dimension.
func (s *MixtureSampler[B]) Dim() int {
	return len(s.Means[0])
}

// SampleBatch draws n samples, picking a component uniformly per sample.
func (s *MixtureSampler[B]) SampleBatch(rng *rand.Rand, n int) *tensor.Tensor[float32, B] {
	dim := s.Dim()
	data := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		mean := s.Means[rng.Intn(len(s.Means))]
		row := data[i*dim : (i+1)*dim]
		for j := range row {
			row[j] = mean[j] + float32(rng.NormFloat64())*s.Std
		}
	}

	t, err := tensor.FromSlice(data, tensor.Shape{n, dim}, s.backend)
	if err != nil {
		panic(fmt.Sprintf("train: mixture batch: %v", err))
	}
	return t
}
