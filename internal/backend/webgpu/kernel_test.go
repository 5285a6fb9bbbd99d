package webgpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stf-ml/stf/internal/backend/cpu"
	"github.com/stf-ml/stf/internal/stf"
	"github.com/stf-ml/stf/internal/tensor"
)

// newTestBackend skips the test when no WebGPU device is available, which is
// the common case on CI machines.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New()
	if err != nil {
		t.Skipf("WebGPU not available: %v", err)
	}
	t.Cleanup(b.Release)
	return b
}

func raw32(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func TestStableTargetMatchesCPU(t *testing.T) {
	gpu := newTestBackend(t)
	b := cpu.New()

	perturbed := raw32(t, []float32{0.1, 0.2, 1.5, -0.5, -1, 2}, tensor.Shape{3, 2})
	sigma := raw32(t, []float32{0.5, 1, 2}, tensor.Shape{3})
	reference := raw32(t, []float32{0, 0, 1, 1, -1, 1, 2, -2}, tensor.Shape{4, 2})

	got, err := gpu.StableTarget(perturbed, sigma, reference)
	require.NoError(t, err)
	require.True(t, got.Shape().Equal(tensor.Shape{3, 2}))

	pt := tensor.New[float32](perturbed, b)
	st := tensor.New[float32](sigma, b)
	rt := tensor.New[float32](reference, b)

	want, err := stf.NewEstimator[float32](b).ComputeStableTarget(pt, st, rt)
	require.NoError(t, err)

	for i, v := range got.AsFloat32() {
		assert.InDelta(t, float64(want.Raw().AsFloat32()[i]), float64(v), 1e-4, "element %d", i)
	}
}

func TestStableTargetSmallSigma(t *testing.T) {
	gpu := newTestBackend(t)

	perturbed := raw32(t, []float32{0.01, 0.01}, tensor.Shape{1, 2})
	sigma := raw32(t, []float32{0.001}, tensor.Shape{1})
	reference := raw32(t, []float32{0, 0, 10, 10}, tensor.Shape{2, 2})

	got, err := gpu.StableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, float64(got.AsFloat32()[0]), 1e-4)
	assert.InDelta(t, 0.0, float64(got.AsFloat32()[1]), 1e-4)
}

func TestStableTargetVanishingSigma(t *testing.T) {
	gpu := newTestBackend(t)

	// The log-weights are far outside f32 range here; the distance-domain
	// shift keeps the kernel finite and picks the nearest reference sample.
	perturbed := raw32(t, []float32{0.01, 0.01}, tensor.Shape{1, 2})
	sigma := raw32(t, []float32{1e-25}, tensor.Shape{1})
	reference := raw32(t, []float32{0, 0, 10, 10}, tensor.Shape{2, 2})

	got, err := gpu.StableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, float64(got.AsFloat32()[0]), 1e-4)
	assert.InDelta(t, 0.0, float64(got.AsFloat32()[1]), 1e-4)
}

func TestStableTargetRejectsFloat64(t *testing.T) {
	gpu := newTestBackend(t)

	p, err := tensor.NewRaw(tensor.Shape{1, 2}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	s, err := tensor.NewRaw(tensor.Shape{1}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	r, err := tensor.NewRaw(tensor.Shape{2, 2}, tensor.Float64, tensor.CPU)
	require.NoError(t, err)

	_, err = gpu.StableTarget(p, s, r)
	assert.Error(t, err)
}
