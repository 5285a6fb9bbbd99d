// Copyright 2025 STF Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the GPU accelerator for the stable target estimator.
//
// The accelerator runs the whole distance → stabilized-weight → weighted
// average pipeline as one fused compute kernel. It plugs into the estimator
// as an stf.Accelerator; tensor storage and the rest of training stay on CPU.
//
// Example:
//
//	import (
//	    "github.com/stf-ml/stf/backend/cpu"
//	    "github.com/stf-ml/stf/backend/webgpu"
//	    "github.com/stf-ml/stf/stf"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    gpu, err := webgpu.New()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer gpu.Release()
//
//	    est := stf.NewAcceleratedEstimator[float32](backend, gpu)
//	}
package webgpu

import (
	internalwebgpu "github.com/stf-ml/stf/internal/backend/webgpu"
	"github.com/stf-ml/stf/stf"
)

// Accelerator is the WebGPU implementation of the fused stable-target kernel.
type Accelerator = internalwebgpu.Backend

// Compile-time check that Accelerator satisfies stf.Accelerator.
var _ stf.Accelerator = (*Accelerator)(nil)

// New creates a WebGPU accelerator. Call Release when done to free GPU
// resources. Returns an error if WebGPU initialization fails (e.g. no
// compatible GPU or missing native library).
func New() (*Accelerator, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether a WebGPU device can be initialized on this
// system, for graceful fallback to the CPU path.
//
// Example:
//
//	est := stf.NewEstimator[float32](backend)
//	if webgpu.IsAvailable() {
//	    gpu, _ := webgpu.New()
//	    est = stf.NewAcceleratedEstimator[float32](backend, gpu)
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
