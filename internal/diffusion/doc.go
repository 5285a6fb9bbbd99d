// Package diffusion provides the training-side pieces that surround the
// stable target estimator: Gaussian perturbation of clean batches, per-sample
// noise-scale sampling, pluggable σ-dependent loss weighting, and the
// denoising loss head that consumes either stable or conventional targets.
package diffusion
