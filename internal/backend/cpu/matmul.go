package cpu

import (
	"fmt"

	"github.com/stf-ml/stf/internal/parallel"
	"github.com/stf-ml/stf/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
// Rows of the result are independent and computed in parallel; this is the
// throughput-critical path for the N×R cross-distance and W @ Ref products.
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]

	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch [%d,%d] @ [%d,%d]", m, k, kAlt, n))
	}

	result, err := tensor.NewRaw(tensor.Shape{m, n}, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("matmul: failed to create result tensor: %v", err))
	}

	switch a.DType() {
	case tensor.Float32:
		matmulFloat32(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), m, k, n, cpu.parallel)
	case tensor.Float64:
		matmulFloat64(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), m, k, n, cpu.parallel)
	default:
		panic(fmt.Sprintf("matmul: unsupported dtype %s", a.DType()))
	}

	return result
}

// matmulFloat32 computes C[i,j] = sum_k A[i,k] * B[k,j] with the k-loop
// innermost over contiguous rows of B for cache locality.
func matmulFloat32(c, a, b []float32, m, k, n int, cfg parallel.Config) {
	parallel.ForRows(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kIdx := 0; kIdx < k; kIdx++ {
			av := a[i*k+kIdx]
			if av == 0 {
				continue
			}
			bRow := b[kIdx*n : (kIdx+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}

func matmulFloat64(c, a, b []float64, m, k, n int, cfg parallel.Config) {
	parallel.ForRows(m, func(i int) {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] = 0
		}
		for kIdx := 0; kIdx < k; kIdx++ {
			av := a[i*k+kIdx]
			if av == 0 {
				continue
			}
			bRow := b[kIdx*n : (kIdx+1)*n]
			for j, bv := range bRow {
				row[j] += av * bv
			}
		}
	}, cfg)
}
