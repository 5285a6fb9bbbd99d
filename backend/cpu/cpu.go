// Copyright 2025 STF Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend, the reference implementation
// for all tensor operations.
//
// Example:
//
//	import (
//	    "github.com/stf-ml/stf/backend/cpu"
//	    "github.com/stf-ml/stf/tensor"
//	)
//
//	func main() {
//	    backend := cpu.New()
//	    x := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
//	}
package cpu

import (
	internalcpu "github.com/stf-ml/stf/internal/backend/cpu"
	"github.com/stf-ml/stf/tensor"
)

// Backend is the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements tensor.Backend.
var _ tensor.Backend = (*Backend)(nil)

// New creates a new CPU backend.
func New() *Backend {
	return internalcpu.New()
}
