package stf

import (
	"fmt"
	"math"

	"github.com/stf-ml/stf/internal/parallel"
	"github.com/stf-ml/stf/internal/tensor"
)

// Accelerator is a device kernel that computes the full stable-target batch in
// one fused dispatch. The CPU path below is the reference implementation; an
// accelerator must produce the same normalized weights up to float32 rounding.
type Accelerator interface {
	// StableTarget consumes perturbed [N, D], sigma [N], reference [R, D]
	// and returns targets [N, D]. Inputs are already validated.
	StableTarget(perturbed, sigma, reference *tensor.RawTensor) (*tensor.RawTensor, error)
}

// Estimator computes stable regression targets for denoising score-matching.
//
// For perturbed sample i with noise scale σᵢ and reference batch r₀..r_{R-1}:
//
//	logw[i,j]   = -‖xᵢ - rⱼ‖² / (2σᵢ²)
//	weight[i,j] = exp(logw[i,j] - maxₖ logw[i,k]) / Σₖ exp(logw[i,k] - maxₖ ...)
//	target[i]   = Σⱼ weight[i,j] · rⱼ
//
// The per-row max subtraction is mandatory: without it the exponentials
// underflow to zero whole rows at small σ. It is algebraically transparent
// (normalized weights match the unshifted computation exactly) and is applied
// as a nearest-distance shift so the log-weights, which grow without bound as
// σ shrinks, are never materialized.
//
// The estimator owns one N×R scratch buffer reused across steps, so it is not
// safe for concurrent use; distributed workers each own an Estimator and share
// the (read-only) reference batch.
type Estimator[T tensor.DType, B tensor.Backend] struct {
	backend  B
	accel    Accelerator
	parallel parallel.Config
	weights  *tensor.RawTensor // N×R scratch, grown on demand
}

// NewEstimator creates a stable target estimator on the given backend.
func NewEstimator[T tensor.DType, B tensor.Backend](backend B) *Estimator[T, B] {
	return &Estimator[T, B]{
		backend:  backend,
		parallel: parallel.DefaultConfig(),
	}
}

// NewAcceleratedEstimator creates an estimator that dispatches float32 batches
// to a device kernel. Other dtypes take the CPU path.
func NewAcceleratedEstimator[T tensor.DType, B tensor.Backend](backend B, accel Accelerator) *Estimator[T, B] {
	e := NewEstimator[T, B](backend)
	e.accel = accel
	return e
}

// ComputeStableTarget returns one target row per perturbed sample: the
// reference batch averaged under self-normalized Gaussian posterior weights.
//
// Inputs are not mutated. The result is a detached plain buffer — it shares no
// memory with the inputs and carries no gradient path, so it is safe to hand
// directly to a loss as a fixed regression target.
//
// Fails with ErrShapeMismatch if perturbed and reference disagree on D or the
// sigma vector is not length N, and with ErrInvalidParameter if any σ ≤ 0 or a
// batch is empty.
func (e *Estimator[T, B]) ComputeStableTarget(
	perturbed, sigma, reference *tensor.Tensor[T, B],
) (*tensor.Tensor[T, B], error) {
	if err := validateInputs(perturbed.Raw(), sigma.Raw(), reference.Raw()); err != nil {
		return nil, err
	}

	if e.accel != nil && perturbed.DType() == tensor.Float32 {
		raw, err := e.accel.StableTarget(perturbed.Raw(), sigma.Raw(), reference.Raw())
		if err != nil {
			return nil, fmt.Errorf("stf: accelerator: %w", err)
		}
		return tensor.New[T, B](raw, e.backend), nil
	}

	weights := e.computeWeights(perturbed.Raw(), sigma.Raw(), reference.Raw())
	target := e.backend.MatMul(weights, reference.Raw())
	return tensor.New[T, B](target, e.backend), nil
}

// validateInputs rejects malformed calls before any computation runs.
func validateInputs(perturbed, sigma, reference *tensor.RawTensor) error {
	pShape, sShape, rShape := perturbed.Shape(), sigma.Shape(), reference.Shape()

	if len(pShape) != 2 || len(rShape) != 2 {
		return fmt.Errorf("%w: perturbed and reference must be 2D, got %v and %v",
			ErrShapeMismatch, pShape, rShape)
	}
	if len(sShape) != 1 {
		return fmt.Errorf("%w: sigma must be 1D, got %v", ErrShapeMismatch, sShape)
	}
	if pShape[0] < 1 || rShape[0] < 1 {
		return fmt.Errorf("%w: empty batch (perturbed %v, reference %v)",
			ErrInvalidParameter, pShape, rShape)
	}
	if pShape[1] != rShape[1] {
		return fmt.Errorf("%w: sample dimension differs: perturbed D=%d, reference D=%d",
			ErrShapeMismatch, pShape[1], rShape[1])
	}
	if sShape[0] != pShape[0] {
		return fmt.Errorf("%w: sigma length %d does not match batch size %d",
			ErrShapeMismatch, sShape[0], pShape[0])
	}
	if perturbed.DType() != reference.DType() || perturbed.DType() != sigma.DType() {
		return fmt.Errorf("%w: dtype mismatch: perturbed %s, sigma %s, reference %s",
			ErrShapeMismatch, perturbed.DType(), sigma.DType(), reference.DType())
	}

	for i, s := range sigmaValues(sigma) {
		if !(s > 0) || math.IsInf(s, 1) {
			return fmt.Errorf("%w: sigma[%d] = %v, must be finite and > 0",
				ErrInvalidParameter, i, s)
		}
	}

	return nil
}

func sigmaValues(sigma *tensor.RawTensor) []float64 {
	if sigma.DType() == tensor.Float32 {
		src := sigma.AsFloat32()
		out := make([]float64, len(src))
		for i, v := range src {
			out[i] = float64(v)
		}
		return out
	}
	return sigma.AsFloat64()
}

// computeWeights fills the N×R self-normalized weight matrix.
//
// The squared distances come from one matrix product plus row norms,
//
//	‖xᵢ - rⱼ‖² = ‖xᵢ‖² - 2·xᵢ·rⱼ + ‖rⱼ‖²
//
// so the N·R·D work runs through the parallel MatMul kernel instead of a
// rolled per-pair loop. Cancellation can leave tiny negative distances, which
// are clamped at zero before weighting.
func (e *Estimator[T, B]) computeWeights(perturbed, sigma, reference *tensor.RawTensor) *tensor.RawTensor {
	n := perturbed.Shape()[0]
	r := reference.Shape()[0]

	cross := e.backend.MatMul(perturbed, e.backend.Transpose(reference))
	pNorms := rowSquaredNorms(perturbed)
	rNorms := rowSquaredNorms(reference)
	sigmas := sigmaValues(sigma)

	weights := e.scratch(n, r, perturbed.DType())

	switch perturbed.DType() {
	case tensor.Float32:
		dst, xr := weights.AsFloat32(), cross.AsFloat32()
		parallel.ForRows(n, func(i int) {
			normalizeRowFloat32(dst[i*r:(i+1)*r], xr[i*r:(i+1)*r], pNorms[i], rNorms, sigmas[i], i)
		}, e.parallel)
	case tensor.Float64:
		dst, xr := weights.AsFloat64(), cross.AsFloat64()
		parallel.ForRows(n, func(i int) {
			normalizeRowFloat64(dst[i*r:(i+1)*r], xr[i*r:(i+1)*r], pNorms[i], rNorms, sigmas[i], i)
		}, e.parallel)
	}

	return weights
}

// scratch returns the reusable N×R weight buffer, reallocating only when the
// requested size or dtype changed since the last step.
func (e *Estimator[T, B]) scratch(n, r int, dtype tensor.DataType) *tensor.RawTensor {
	shape := tensor.Shape{n, r}
	if e.weights != nil && e.weights.DType() == dtype && e.weights.Shape().Equal(shape) {
		return e.weights
	}
	w, err := tensor.NewRaw(shape, dtype, e.backend.Device())
	if err != nil {
		panic(fmt.Sprintf("stf: scratch allocation: %v", err))
	}
	e.weights = w
	return w
}

// rowSquaredNorms returns ‖row‖² for each row of a 2D tensor, accumulated in
// float64 regardless of input dtype.
func rowSquaredNorms(t *tensor.RawTensor) []float64 {
	shape := t.Shape()
	rows, cols := shape[0], shape[1]
	norms := make([]float64, rows)

	switch t.DType() {
	case tensor.Float32:
		data := t.AsFloat32()
		for i := 0; i < rows; i++ {
			var sum float64
			for _, v := range data[i*cols : (i+1)*cols] {
				sum += float64(v) * float64(v)
			}
			norms[i] = sum
		}
	case tensor.Float64:
		data := t.AsFloat64()
		for i := 0; i < rows; i++ {
			var sum float64
			for _, v := range data[i*cols : (i+1)*cols] {
				sum += v * v
			}
			norms[i] = sum
		}
	}

	return norms
}

// normalizeRowFloat32 turns one row of cross products into normalized weights.
// dst and cross may alias distinct buffers of length R.
//
// The row-max shift of the log-weights is applied in the distance domain:
// subtracting the nearest reference distance before dividing by 2σ² is the
// same shift, but it stays finite at every σ > 0 — the log-weights themselves
// can exceed any float range at tiny σ, so they are never materialized. All
// intermediate arithmetic runs in float64; only the finished weight in [0, 1]
// is stored.
func normalizeRowFloat32(dst, cross []float32, pNorm float64, rNorms []float64, sigma float64, row int) {
	inv := 1.0 / (2.0 * sigma * sigma)

	// Nearest reference distance.
	minDist := math.Inf(1)
	for j := range cross {
		dist := pNorm - 2.0*float64(cross[j]) + rNorms[j]
		if dist < 0 {
			dist = 0
		}
		if dist < minDist {
			minDist = dist
		}
	}

	// Shifted exponentials and self-normalization. The nearest entry is
	// pinned to exactly 1 before normalization (not exp(-0·inv), which is
	// NaN when σ² underflows and inv is +Inf), so the sum cannot vanish
	// unless the inputs were non-finite — that is an implementation defect,
	// not a runtime condition to absorb.
	var sum float64
	for j := range dst {
		dist := pNorm - 2.0*float64(cross[j]) + rNorms[j]
		if dist < 0 {
			dist = 0
		}
		w := 1.0
		if dist > minDist {
			w = math.Exp(-(dist - minDist) * inv)
		}
		dst[j] = float32(w)
		sum += w
	}
	if !(sum > 0) || math.IsNaN(sum) {
		panic(fmt.Sprintf("stf: numeric anomaly: weight row %d sums to %v after stabilization", row, sum))
	}

	invSum := float32(1.0 / sum)
	for j := range dst {
		dst[j] *= invSum
	}
}

func normalizeRowFloat64(dst, cross []float64, pNorm float64, rNorms []float64, sigma float64, row int) {
	inv := 1.0 / (2.0 * sigma * sigma)

	minDist := math.Inf(1)
	for j := range cross {
		dist := pNorm - 2.0*cross[j] + rNorms[j]
		if dist < 0 {
			dist = 0
		}
		if dist < minDist {
			minDist = dist
		}
	}

	var sum float64
	for j := range dst {
		dist := pNorm - 2.0*cross[j] + rNorms[j]
		if dist < 0 {
			dist = 0
		}
		w := 1.0
		if dist > minDist {
			w = math.Exp(-(dist - minDist) * inv)
		}
		dst[j] = w
		sum += w
	}
	if !(sum > 0) || math.IsNaN(sum) {
		panic(fmt.Sprintf("stf: numeric anomaly: weight row %d sums to %v after stabilization", row, sum))
	}

	invSum := 1.0 / sum
	for j := range dst {
		dst[j] *= invSum
	}
}
