package stf

import "errors"

// Estimator input errors. Both are detected at the estimator boundary before
// any computation runs and are surfaced to the caller as hard failures; a
// malformed call is a caller bug, so nothing is retried or degraded.
var (
	// ErrInvalidParameter reports a non-positive noise scale or an empty batch.
	// Noise scales are never silently clamped: a floor would bias the weights
	// in a way the caller did not opt into.
	ErrInvalidParameter = errors.New("stf: invalid parameter")

	// ErrShapeMismatch reports inconsistent dimensionality between the
	// perturbed batch, the sigma vector, and the reference batch.
	ErrShapeMismatch = errors.New("stf: shape mismatch")
)
