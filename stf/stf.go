// Copyright 2025 STF Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package stf is the public API for stable-target denoising score-matching.
//
// The core entry point is the Estimator: given a batch of Gaussian-perturbed
// samples, their noise scales, and an independent reference batch of clean
// samples, it computes a variance-reduced regression target per sample — the
// reference batch averaged under self-normalized posterior weights. The
// DenoisingLoss head consumes either that stable target or the conventional
// clean sample, selected by configuration.
//
// Example:
//
//	backend := cpu.New()
//	est := stf.NewEstimator[float32](backend)
//	target, err := est.ComputeStableTarget(perturbed, sigma, reference)
package stf

import (
	"github.com/stf-ml/stf/internal/diffusion"
	"github.com/stf-ml/stf/internal/stf"
	"github.com/stf-ml/stf/internal/tensor"
)

// Estimator input errors.
var (
	// ErrInvalidParameter reports a non-positive noise scale or an empty batch.
	ErrInvalidParameter = stf.ErrInvalidParameter
	// ErrShapeMismatch reports inconsistent input dimensionality.
	ErrShapeMismatch = stf.ErrShapeMismatch
)

// Estimator computes stable regression targets. See internal/stf for the
// algorithm and its invariants.
type Estimator[T tensor.DType, B tensor.Backend] = stf.Estimator[T, B]

// Accelerator is a device kernel computing the fused stable-target batch.
type Accelerator = stf.Accelerator

// NewEstimator creates a stable target estimator on the given backend.
func NewEstimator[T tensor.DType, B tensor.Backend](backend B) *Estimator[T, B] {
	return stf.NewEstimator[T, B](backend)
}

// NewAcceleratedEstimator creates an estimator that dispatches float32
// batches to a device kernel.
func NewAcceleratedEstimator[T tensor.DType, B tensor.Backend](backend B, accel Accelerator) *Estimator[T, B] {
	return stf.NewAcceleratedEstimator[T, B](backend, accel)
}

// Mode selects the regression target for the denoising loss.
type Mode = diffusion.Mode

// Target modes.
const (
	// ModeClean is conventional denoising score-matching.
	ModeClean Mode = diffusion.ModeClean
	// ModeStableTarget regresses toward the stable target field.
	ModeStableTarget Mode = diffusion.ModeStableTarget
)

// DenoisingLoss is the σ-weighted squared-error loss head.
type DenoisingLoss[T tensor.DType, B tensor.Backend] = diffusion.DenoisingLoss[T, B]

// NewDenoisingLoss creates a loss head. The estimator may be nil for ModeClean.
func NewDenoisingLoss[T tensor.DType, B tensor.Backend](
	backend B, weightFn WeightFn, mode Mode, estimator *Estimator[T, B],
) (*DenoisingLoss[T, B], error) {
	return diffusion.NewDenoisingLoss(backend, weightFn, mode, estimator)
}

// WeightFn scales each sample's loss as a function of its noise level.
type WeightFn = diffusion.WeightFn

// Loss weightings.
var (
	// UniformWeight weights every noise level equally.
	UniformWeight WeightFn = diffusion.UniformWeight
	// SNRWeight weights by the signal-to-noise ratio, 1/σ².
	SNRWeight WeightFn = diffusion.SNRWeight
)

// EDMWeight returns the (σ² + σ_data²)/(σ·σ_data)² weighting.
func EDMWeight(sigmaData float64) WeightFn {
	return diffusion.EDMWeight(sigmaData)
}

// NoiseModel perturbs clean samples with additive isotropic Gaussian noise.
type NoiseModel[T tensor.DType, B tensor.Backend] = diffusion.NoiseModel[T, B]

// NewNoiseModel creates a noise model with a deterministic source.
func NewNoiseModel[T tensor.DType, B tensor.Backend](backend B, seed int64) *NoiseModel[T, B] {
	return diffusion.NewNoiseModel[T, B](backend, seed)
}

// SigmaSampler draws per-sample noise scales for a training step.
type SigmaSampler = diffusion.SigmaSampler

// LogUniformSampler draws σ log-uniformly from [SigmaMin, SigmaMax].
type LogUniformSampler = diffusion.LogUniformSampler

// NewLogUniformSampler validates the range and returns the sampler.
func NewLogUniformSampler(sigmaMin, sigmaMax float64) (*LogUniformSampler, error) {
	return diffusion.NewLogUniformSampler(sigmaMin, sigmaMax)
}
