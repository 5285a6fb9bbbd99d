package cpu

import (
	"fmt"

	"github.com/stf-ml/stf/internal/tensor"
)

// Sum reduces the tensor to its total sum (shape [1]).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result, err := tensor.NewRaw(tensor.Shape{1}, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("sum: %v", err))
	}

	switch x.DType() {
	case tensor.Float32:
		var sum float32
		for _, v := range x.AsFloat32() {
			sum += v
		}
		result.AsFloat32()[0] = sum
	case tensor.Float64:
		var sum float64
		for _, v := range x.AsFloat64() {
			sum += v
		}
		result.AsFloat64()[0] = sum
	default:
		panic(fmt.Sprintf("sum: unsupported dtype %s", x.DType()))
	}

	return result
}

// SumDim sums along a dimension.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sumdim", x, dim, keepDim, reduceSum)
}

// MeanDim averages along a dimension.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	n := x.Shape()[normalizeDim("meandim", x.Shape(), dim)]
	sum := cpu.reduceDim("meandim", x, dim, keepDim, reduceSum)
	return cpu.DivScalar(sum, float64(n))
}

// MaxDim takes the maximum along a dimension.
// This is the row-max primitive behind log-domain weight stabilization.
func (cpu *CPUBackend) MaxDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("maxdim", x, dim, keepDim, reduceMax)
}

type reduceKind int

const (
	reduceSum reduceKind = iota
	reduceMax
)

func normalizeDim(name string, shape tensor.Shape, dim int) int {
	if dim < 0 {
		dim += len(shape)
	}
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("%s: dimension %d out of range for shape %v", name, dim, shape))
	}
	return dim
}

// reduceDim reduces along one dimension, iterating outer × inner blocks so the
// same code serves any rank.
func (cpu *CPUBackend) reduceDim(name string, x *tensor.RawTensor, dim int, keepDim bool, kind reduceKind) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim(name, shape, dim)

	outer, inner := 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	reduceN := shape[dim]

	outShape := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		if i == dim {
			if keepDim {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}

	result, err := tensor.NewRaw(outShape, x.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	switch x.DType() {
	case tensor.Float32:
		reduceDimFloat32(result.AsFloat32(), x.AsFloat32(), outer, reduceN, inner, kind)
	case tensor.Float64:
		reduceDimFloat64(result.AsFloat64(), x.AsFloat64(), outer, reduceN, inner, kind)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}

	return result
}

func reduceDimFloat32(dst, src []float32, outer, reduceN, inner int, kind reduceKind) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			acc := src[o*reduceN*inner+in]
			for r := 1; r < reduceN; r++ {
				v := src[(o*reduceN+r)*inner+in]
				switch kind {
				case reduceSum:
					acc += v
				case reduceMax:
					if v > acc {
						acc = v
					}
				}
			}
			dst[o*inner+in] = acc
		}
	}
}

func reduceDimFloat64(dst, src []float64, outer, reduceN, inner int, kind reduceKind) {
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			acc := src[o*reduceN*inner+in]
			for r := 1; r < reduceN; r++ {
				v := src[(o*reduceN+r)*inner+in]
				switch kind {
				case reduceSum:
					acc += v
				case reduceMax:
					if v > acc {
						acc = v
					}
				}
			}
			dst[o*inner+in] = acc
		}
	}
}
