package stf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stf-ml/stf/internal/backend/cpu"
	"github.com/stf-ml/stf/internal/tensor"
)

func tensorOf[T tensor.DType](t *testing.T, b *cpu.CPUBackend, data []T, shape tensor.Shape) *tensor.Tensor[T, *cpu.CPUBackend] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, b)
	require.NoError(t, err)
	return x
}

func randTensor(t *testing.T, b *cpu.CPUBackend, rng *rand.Rand, shape tensor.Shape) *tensor.Tensor[float64, *cpu.CPUBackend] {
	t.Helper()
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return tensorOf(t, b, data, shape)
}

func TestWeightsSumToOne(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)
	rng := rand.New(rand.NewSource(1))

	perturbed := randTensor(t, b, rng, tensor.Shape{8, 4})
	reference := randTensor(t, b, rng, tensor.Shape{16, 4})
	sigma := tensorOf(t, b, []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 100}, tensor.Shape{8})

	weights := e.computeWeights(perturbed.Raw(), sigma.Raw(), reference.Raw())

	data := weights.AsFloat64()
	for i := 0; i < 8; i++ {
		var sum float64
		for j := 0; j < 16; j++ {
			w := data[i*16+j]
			assert.GreaterOrEqual(t, w, 0.0, "weights must be non-negative")
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "row %d must be normalized", i)
	}
}

func TestTargetInsideReferenceBoundingBox(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)
	rng := rand.New(rand.NewSource(2))

	const n, r, d = 6, 12, 3
	perturbed := randTensor(t, b, rng, tensor.Shape{n, d})
	reference := randTensor(t, b, rng, tensor.Shape{r, d})
	sigma := tensorOf(t, b, []float64{0.05, 0.2, 0.7, 1.5, 4, 30}, tensor.Shape{n})

	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)
	require.True(t, target.Shape().Equal(tensor.Shape{n, d}))

	// Each target row is a convex combination of reference rows, so every
	// coordinate lies within the per-dimension reference bounds.
	ref := reference.Raw().AsFloat64()
	for k := 0; k < d; k++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for j := 0; j < r; j++ {
			lo = math.Min(lo, ref[j*d+k])
			hi = math.Max(hi, ref[j*d+k])
		}
		for i := 0; i < n; i++ {
			v := target.At(i, k)
			assert.GreaterOrEqual(t, v, lo-1e-9, "target[%d,%d] below reference min", i, k)
			assert.LessOrEqual(t, v, hi+1e-9, "target[%d,%d] above reference max", i, k)
		}
	}
}

// naiveTarget computes the weighted average without the max shift. At moderate
// sigma nothing underflows, so it is a valid oracle for the stabilized path.
func naiveTarget(perturbed, reference [][]float64, sigma float64) []float64 {
	r, d := len(reference), len(reference[0])
	weights := make([]float64, r)
	var sum float64
	for j := 0; j < r; j++ {
		var dist float64
		for k := 0; k < d; k++ {
			diff := perturbed[0][k] - reference[j][k]
			dist += diff * diff
		}
		weights[j] = math.Exp(-dist / (2 * sigma * sigma))
		sum += weights[j]
	}
	out := make([]float64, d)
	for j := 0; j < r; j++ {
		for k := 0; k < d; k++ {
			out[k] += weights[j] / sum * reference[j][k]
		}
	}
	return out
}

func TestStabilizationMatchesUnshiftedComputation(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	refRows := [][]float64{{0.5, -1.2}, {2.0, 0.3}, {-0.7, 1.1}, {1.4, 1.4}}
	perRows := [][]float64{{0.9, 0.1}}

	reference := tensorOf(t, b, []float64{0.5, -1.2, 2.0, 0.3, -0.7, 1.1, 1.4, 1.4}, tensor.Shape{4, 2})
	perturbed := tensorOf(t, b, []float64{0.9, 0.1}, tensor.Shape{1, 2})

	for _, s := range []float64{0.5, 1.0, 3.0} {
		sigma := tensorOf(t, b, []float64{s}, tensor.Shape{1})
		target, err := e.ComputeStableTarget(perturbed, sigma, reference)
		require.NoError(t, err)

		want := naiveTarget(perRows, refRows, s)
		assert.InDelta(t, want[0], target.At(0, 0), 1e-12, "sigma=%v", s)
		assert.InDelta(t, want[1], target.At(0, 1), 1e-12, "sigma=%v", s)
	}
}

func TestSmallSigmaCollapsesToNearestNeighbor(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	reference := tensorOf(t, b, []float64{0, 0, 10, 10}, tensor.Shape{2, 2})
	perturbed := tensorOf(t, b, []float64{0.01, 0.01}, tensor.Shape{1, 2})
	sigma := tensorOf(t, b, []float64{0.001}, tensor.Shape{1})

	// An unshifted computation underflows both exponentials here; the
	// stabilized one resolves to the nearest reference sample.
	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, target.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, target.At(0, 1), 1e-9)
}

func TestVanishingSigmaFloat32CollapsesToNearestNeighbor(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float32](b)

	reference := tensorOf(t, b, []float32{0, 0, 10, 10}, tensor.Shape{2, 2})
	perturbed := tensorOf(t, b, []float32{0.01, 0.01}, tensor.Shape{1, 2})
	sigma := tensorOf(t, b, []float32{1e-25}, tensor.Shape{1})

	// At this scale the log-weights exceed the float32 range by dozens of
	// orders of magnitude. Stabilizing in the distance domain keeps every
	// intermediate finite and resolves to the nearest reference sample.
	var target *tensor.Tensor[float32, *cpu.CPUBackend]
	var err error
	require.NotPanics(t, func() {
		target, err = e.ComputeStableTarget(perturbed, sigma, reference)
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, float64(target.At(0, 0)), 1e-6)
	assert.InDelta(t, 0.0, float64(target.At(0, 1)), 1e-6)
}

func TestVanishingSigmaFloat64CollapsesToNearestNeighbor(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	reference := tensorOf(t, b, []float64{0, 0, 10, 10}, tensor.Shape{2, 2})
	perturbed := tensorOf(t, b, []float64{0.01, 0.01}, tensor.Shape{1, 2})
	// Small enough that σ² underflows float64 entirely.
	sigma := tensorOf(t, b, []float64{1e-300}, tensor.Shape{1})

	var target *tensor.Tensor[float64, *cpu.CPUBackend]
	var err error
	require.NotPanics(t, func() {
		target, err = e.ComputeStableTarget(perturbed, sigma, reference)
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, target.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, target.At(0, 1), 1e-9)
}

func TestLargeSigmaCollapsesToReferenceMean(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	reference := tensorOf(t, b, []float64{0, 0, 10, 10}, tensor.Shape{2, 2})
	perturbed := tensorOf(t, b, []float64{0.01, 0.01}, tensor.Shape{1, 2})
	sigma := tensorOf(t, b, []float64{1000}, tensor.Shape{1})

	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, target.At(0, 0), 1e-3)
	assert.InDelta(t, 5.0, target.At(0, 1), 1e-3)
}

func TestSingleReferenceSample(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	reference := tensorOf(t, b, []float64{3, -4, 5}, tensor.Shape{1, 3})
	perturbed := tensorOf(t, b, []float64{100, 100, 100, -7, 0, 2}, tensor.Shape{2, 3})
	sigma := tensorOf(t, b, []float64{0.001, 50}, tensor.Shape{2})

	// With R=1 the weight is exactly 1 whatever sigma or distance.
	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.Equal(t, 3.0, target.At(i, 0))
		assert.Equal(t, -4.0, target.At(i, 1))
		assert.Equal(t, 5.0, target.At(i, 2))
	}
}

func TestBatchSizeIndependence(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(3))

	const n, r, d = 5, 9, 4
	perturbed := randTensor(t, b, rng, tensor.Shape{n, d})
	reference := randTensor(t, b, rng, tensor.Shape{r, d})
	sigmas := []float64{0.1, 0.4, 1, 2.5, 8}

	batched := NewEstimator[float64](b)
	full, err := batched.ComputeStableTarget(perturbed, tensorOf(t, b, sigmas, tensor.Shape{n}), reference)
	require.NoError(t, err)

	// Computing each row alone must give the same target: rows are
	// independent and share no normalization.
	for i := 0; i < n; i++ {
		row := make([]float64, d)
		copy(row, perturbed.Raw().AsFloat64()[i*d:(i+1)*d])

		single, err := NewEstimator[float64](b).ComputeStableTarget(
			tensorOf(t, b, row, tensor.Shape{1, d}),
			tensorOf(t, b, []float64{sigmas[i]}, tensor.Shape{1}),
			reference,
		)
		require.NoError(t, err)

		for k := 0; k < d; k++ {
			assert.InDelta(t, full.At(i, k), single.At(0, k), 1e-12, "row %d dim %d", i, k)
		}
	}
}

func TestInvalidSigmaRejected(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	reference := tensorOf(t, b, []float64{0, 0, 1, 1}, tensor.Shape{2, 2})
	perturbed := tensorOf(t, b, []float64{0.5, 0.5}, tensor.Shape{1, 2})

	for _, bad := range []float64{0, -1, math.Inf(1), math.NaN()} {
		sigma := tensorOf(t, b, []float64{bad}, tensor.Shape{1})
		_, err := e.ComputeStableTarget(perturbed, sigma, reference)
		require.Error(t, err, "sigma=%v", bad)
		assert.ErrorIs(t, err, ErrInvalidParameter, "sigma=%v", bad)
	}
}

func TestShapeMismatchRejected(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)

	perturbed := tensorOf(t, b, []float64{1, 2, 3}, tensor.Shape{1, 3})
	sigma := tensorOf(t, b, []float64{1}, tensor.Shape{1})

	// Dimension mismatch between perturbed and reference.
	ref2D := tensorOf(t, b, []float64{1, 2, 3, 4}, tensor.Shape{2, 2})
	_, err := e.ComputeStableTarget(perturbed, sigma, ref2D)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	// Sigma length differs from batch size.
	ref3D := tensorOf(t, b, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	sigma2 := tensorOf(t, b, []float64{1, 1}, tensor.Shape{2})
	_, err = e.ComputeStableTarget(perturbed, sigma2, ref3D)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	// Wrong ranks.
	flat := tensorOf(t, b, []float64{1, 2, 3}, tensor.Shape{3})
	_, err = e.ComputeStableTarget(flat, sigma, ref3D)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	sigmaMat := tensorOf(t, b, []float64{1, 1}, tensor.Shape{2, 1})
	_, err = e.ComputeStableTarget(perturbed, sigmaMat, ref3D)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestInputsNotMutated(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)
	rng := rand.New(rand.NewSource(4))

	perturbed := randTensor(t, b, rng, tensor.Shape{3, 2})
	reference := randTensor(t, b, rng, tensor.Shape{5, 2})
	sigma := tensorOf(t, b, []float64{0.5, 1, 2}, tensor.Shape{3})

	pCopy := append([]float64(nil), perturbed.Raw().AsFloat64()...)
	rCopy := append([]float64(nil), reference.Raw().AsFloat64()...)
	sCopy := append([]float64(nil), sigma.Raw().AsFloat64()...)

	_, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)

	assert.Equal(t, pCopy, perturbed.Raw().AsFloat64())
	assert.Equal(t, rCopy, reference.Raw().AsFloat64())
	assert.Equal(t, sCopy, sigma.Raw().AsFloat64())
}

func TestScratchReuseAcrossSteps(t *testing.T) {
	b := cpu.New()
	e := NewEstimator[float64](b)
	rng := rand.New(rand.NewSource(5))

	reference := randTensor(t, b, rng, tensor.Shape{7, 3})
	sigma := tensorOf(t, b, []float64{1, 1, 1, 1}, tensor.Shape{4})

	first, err := e.ComputeStableTarget(randTensor(t, b, rng, tensor.Shape{4, 3}), sigma, reference)
	require.NoError(t, err)
	buf := e.weights

	second, err := e.ComputeStableTarget(randTensor(t, b, rng, tensor.Shape{4, 3}), sigma, reference)
	require.NoError(t, err)

	// Same-sized steps reuse the weight buffer and still produce
	// independently normalized results.
	assert.Same(t, buf, e.weights)
	assert.False(t, first.Raw() == second.Raw())

	data := e.weights.AsFloat64()
	for i := 0; i < 4; i++ {
		var sum float64
		for j := 0; j < 7; j++ {
			sum += data[i*7+j]
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}

	// A different batch size triggers reallocation.
	sigma2 := tensorOf(t, b, []float64{1, 1}, tensor.Shape{2})
	_, err = e.ComputeStableTarget(randTensor(t, b, rng, tensor.Shape{2, 3}), sigma2, reference)
	require.NoError(t, err)
	assert.NotSame(t, buf, e.weights)
}

func TestFloat32MatchesFloat64(t *testing.T) {
	b := cpu.New()
	rng := rand.New(rand.NewSource(6))

	const n, r, d = 4, 8, 3
	p64 := make([]float64, n*d)
	r64 := make([]float64, r*d)
	for i := range p64 {
		p64[i] = rng.NormFloat64()
	}
	for i := range r64 {
		r64[i] = rng.NormFloat64()
	}
	p32 := make([]float32, n*d)
	r32 := make([]float32, r*d)
	for i := range p64 {
		p32[i] = float32(p64[i])
	}
	for i := range r64 {
		r32[i] = float32(r64[i])
	}

	t64, err := NewEstimator[float64](b).ComputeStableTarget(
		tensorOf(t, b, p64, tensor.Shape{n, d}),
		tensorOf(t, b, []float64{0.5, 1, 2, 4}, tensor.Shape{n}),
		tensorOf(t, b, r64, tensor.Shape{r, d}),
	)
	require.NoError(t, err)

	t32, err := NewEstimator[float32](b).ComputeStableTarget(
		tensorOf(t, b, p32, tensor.Shape{n, d}),
		tensorOf(t, b, []float32{0.5, 1, 2, 4}, tensor.Shape{n}),
		tensorOf(t, b, r32, tensor.Shape{r, d}),
	)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		for k := 0; k < d; k++ {
			assert.InDelta(t, t64.At(i, k), float64(t32.At(i, k)), 1e-4, "row %d dim %d", i, k)
		}
	}
}

// recordingAccelerator returns a canned target and counts dispatches.
type recordingAccelerator struct {
	calls  int
	target *tensor.RawTensor
}

func (a *recordingAccelerator) StableTarget(perturbed, sigma, reference *tensor.RawTensor) (*tensor.RawTensor, error) {
	a.calls++
	return a.target, nil
}

func TestAcceleratorDispatch(t *testing.T) {
	b := cpu.New()

	canned, err := tensor.NewRaw(tensor.Shape{1, 2}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	canned.AsFloat32()[0] = 42

	accel := &recordingAccelerator{target: canned}
	e := NewAcceleratedEstimator[float32](b, accel)

	perturbed := tensorOf(t, b, []float32{0.5, 0.5}, tensor.Shape{1, 2})
	sigma := tensorOf(t, b, []float32{1}, tensor.Shape{1})
	reference := tensorOf(t, b, []float32{0, 0, 1, 1}, tensor.Shape{2, 2})

	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)
	assert.Equal(t, 1, accel.calls)
	assert.Equal(t, float32(42), target.At(0, 0))

	// Validation still runs before dispatch.
	badSigma := tensorOf(t, b, []float32{-1}, tensor.Shape{1})
	_, err = e.ComputeStableTarget(perturbed, badSigma, reference)
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Equal(t, 1, accel.calls)
}

func TestFloat64BypassesAccelerator(t *testing.T) {
	b := cpu.New()
	accel := &recordingAccelerator{}
	e := NewAcceleratedEstimator[float64](b, accel)

	perturbed := tensorOf(t, b, []float64{0.5, 0.5}, tensor.Shape{1, 2})
	sigma := tensorOf(t, b, []float64{1}, tensor.Shape{1})
	reference := tensorOf(t, b, []float64{0, 0, 1, 1}, tensor.Shape{2, 2})

	target, err := e.ComputeStableTarget(perturbed, sigma, reference)
	require.NoError(t, err)
	assert.Equal(t, 0, accel.calls)

	// Equidistant from both reference rows: target is their midpoint.
	assert.InDelta(t, 0.5, target.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, target.At(0, 1), 1e-12)
}
