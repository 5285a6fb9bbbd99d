package diffusion

import (
	"fmt"

	"github.com/stf-ml/stf/internal/stf"
	"github.com/stf-ml/stf/internal/tensor"
)

// Mode selects the regression target for the denoising loss. It is a pure
// configuration switch decided before training starts, never a runtime branch
// inside the estimator.
type Mode int

const (
	// ModeClean regresses toward the clean sample that produced each
	// perturbed input — conventional denoising score-matching.
	ModeClean Mode = iota

	// ModeStableTarget regresses toward the reference-batch weighted target
	// from the stf estimator.
	ModeStableTarget
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeClean:
		return "clean"
	case ModeStableTarget:
		return "stable-target"
	default:
		return "unknown"
	}
}

// DenoisingLoss is the loss head: per-sample σ-weighted squared error between
// the network prediction and a regression target. Both target modes produce
// tensors of identical shape and dtype, so the head itself is agnostic to
// which was used.
type DenoisingLoss[T tensor.DType, B tensor.Backend] struct {
	backend   B
	weightFn  WeightFn
	mode      Mode
	estimator *stf.Estimator[T, B]
}

// NewDenoisingLoss creates a loss head. The estimator may be nil for
// ModeClean; ModeStableTarget requires one.
func NewDenoisingLoss[T tensor.DType, B tensor.Backend](
	backend B,
	weightFn WeightFn,
	mode Mode,
	estimator *stf.Estimator[T, B],
) (*DenoisingLoss[T, B], error) {
	if weightFn == nil {
		return nil, fmt.Errorf("diffusion: weight function must not be nil")
	}
	if mode == ModeStableTarget && estimator == nil {
		return nil, fmt.Errorf("diffusion: %s mode requires an estimator", mode)
	}
	return &DenoisingLoss[T, B]{
		backend:   backend,
		weightFn:  weightFn,
		mode:      mode,
		estimator: estimator,
	}, nil
}

// Mode returns the configured target mode.
func (l *DenoisingLoss[T, B]) Mode() Mode {
	return l.mode
}

// Targets produces the regression target batch for one step.
//
// In ModeClean the clean batch is returned as-is, bit for bit, and the
// estimator is never invoked. In ModeStableTarget the target is the stable
// target field over the reference batch.
func (l *DenoisingLoss[T, B]) Targets(
	clean, perturbed, sigma, reference *tensor.Tensor[T, B],
) (*tensor.Tensor[T, B], error) {
	if l.mode == ModeClean {
		return clean, nil
	}
	return l.estimator.ComputeStableTarget(perturbed, sigma, reference)
}

// PerSample returns loss[i] = weight_fn(σᵢ) · ‖pred[i] - target[i]‖² as a
// [N] tensor.
func (l *DenoisingLoss[T, B]) PerSample(pred, target, sigma *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	if !pred.Shape().Equal(target.Shape()) {
		panic(fmt.Sprintf("diffusion: prediction shape %v does not match target shape %v",
			pred.Shape(), target.Shape()))
	}

	diff := pred.Sub(target)
	sq := diff.Mul(diff).SumDim(1, false) // [N]

	weights := l.SampleWeights(sigma)
	return sq.Mul(weights)
}

// Mean returns the batch-mean loss as a [1] tensor.
func (l *DenoisingLoss[T, B]) Mean(pred, target, sigma *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	return l.PerSample(pred, target, sigma).MeanDim(0, false)
}

// SampleWeights evaluates the weight function per sample, as a [N] tensor.
func (l *DenoisingLoss[T, B]) SampleWeights(sigma *tensor.Tensor[T, B]) *tensor.Tensor[T, B] {
	sigmaData := sigma.Data()
	weights := make([]T, len(sigmaData))
	for i, s := range sigmaData {
		weights[i] = T(l.weightFn(float64(s)))
	}
	w, err := tensor.FromSlice(weights, sigma.Shape().Clone(), l.backend)
	if err != nil {
		panic(fmt.Sprintf("diffusion: sample weights: %v", err))
	}
	return w
}
