package cpu

import (
	"fmt"

	"github.com/stf-ml/stf/internal/tensor"
)

// binaryOp applies an element-wise binary operation with broadcasting.
// Same-shape inputs take a flat vectorized loop; mismatched shapes go through
// the stride-mapped broadcast path.
func (cpu *CPUBackend) binaryOp(
	name string,
	a, b *tensor.RawTensor,
	f32 func(x, y float32) float32,
	f64 func(x, y float64) float64,
) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch: %s vs %s", name, a.DType(), b.DType()))
	}

	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	result, err := tensor.NewRaw(outShape, a.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create result tensor: %v", name, err))
	}

	if !needsBroadcast {
		switch a.DType() {
		case tensor.Float32:
			x, y, dst := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
			for i := range dst {
				dst[i] = f32(x[i], y[i])
			}
		case tensor.Float64:
			x, y, dst := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
			for i := range dst {
				dst[i] = f64(x[i], y[i])
			}
		}
		return result
	}

	// Broadcast path: map each output index back to source offsets.
	aIdx := broadcastIndexer(a.Shape(), outShape)
	bIdx := broadcastIndexer(b.Shape(), outShape)

	switch a.DType() {
	case tensor.Float32:
		x, y, dst := a.AsFloat32(), b.AsFloat32(), result.AsFloat32()
		for i := range dst {
			dst[i] = f32(x[aIdx(i)], y[bIdx(i)])
		}
	case tensor.Float64:
		x, y, dst := a.AsFloat64(), b.AsFloat64(), result.AsFloat64()
		for i := range dst {
			dst[i] = f64(x[aIdx(i)], y[bIdx(i)])
		}
	}

	return result
}

// broadcastIndexer builds a function mapping flat output offsets to flat source
// offsets, treating size-1 source dimensions as stride 0.
func broadcastIndexer(srcShape, outShape tensor.Shape) func(int) int {
	outStrides := outShape.ComputeStrides()
	srcStrides := srcShape.ComputeStrides()

	// Align source dims to the right of the output dims.
	pad := len(outShape) - len(srcShape)
	effStrides := make([]int, len(outShape))
	for i := range outShape {
		srcDim := i - pad
		if srcDim < 0 || srcShape[srcDim] == 1 {
			effStrides[i] = 0
			continue
		}
		effStrides[i] = srcStrides[srcDim]
	}

	return func(flat int) int {
		offset := 0
		for i := range outStrides {
			idx := flat / outStrides[i]
			flat -= idx * outStrides[i]
			offset += idx * effStrides[i]
		}
		return offset
	}
}

// unaryOp applies an element-wise unary operation.
func (cpu *CPUBackend) unaryOp(
	name string,
	x *tensor.RawTensor,
	f32 func(v float32) float32,
	f64 func(v float64) float64,
) *tensor.RawTensor {
	result, err := tensor.NewRaw(x.Shape(), x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	switch x.DType() {
	case tensor.Float32:
		src, dst := x.AsFloat32(), result.AsFloat32()
		for i, v := range src {
			dst[i] = f32(v)
		}
	case tensor.Float64:
		src, dst := x.AsFloat64(), result.AsFloat64()
		for i, v := range src {
			dst[i] = f64(v)
		}
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}
