// Package stf implements the stable target field estimator.
//
// Denoising score-matching regresses a network's prediction for a noisy input
// toward the clean sample that produced it. That single-sample target is an
// unbiased but high-variance estimate of the posterior mean over clean data.
// The estimator in this package replaces it with a self-normalized
// importance-weighted average over an independent reference batch: for each
// perturbed sample, every reference sample is weighted by its Gaussian
// likelihood at the sample's noise scale, and the weighted average becomes the
// regression target.
//
// The computation is pure and stateless across steps: each call is a fresh,
// idempotent function of its inputs. Outputs are detached plain buffers — no
// gradient ever flows through the weighting itself.
//
// Cost scales as O(N·R·D) time and O(N·R) scratch space for the weight matrix,
// where N is the perturbed batch, R the reference batch, and D the sample
// dimension. Doubling the reference batch doubles estimator cost.
package stf
