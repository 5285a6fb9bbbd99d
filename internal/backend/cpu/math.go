package cpu

import (
	"fmt"
	"math"

	"github.com/stf-ml/stf/internal/tensor"
)

// Exp computes element-wise exponential: exp(x).
func (cpu *CPUBackend) Exp(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("exp", x,
		func(v float32) float32 { return float32(math.Exp(float64(v))) },
		math.Exp)
}

// Sqrt computes element-wise square root: sqrt(x).
// Panics on negative inputs.
func (cpu *CPUBackend) Sqrt(x *tensor.RawTensor) *tensor.RawTensor {
	return cpu.unaryOp("sqrt", x,
		func(v float32) float32 {
			if v < 0 {
				panic(fmt.Sprintf("sqrt: negative value %f", v))
			}
			return float32(math.Sqrt(float64(v)))
		},
		func(v float64) float64 {
			if v < 0 {
				panic(fmt.Sprintf("sqrt: negative value %f", v))
			}
			return math.Sqrt(v)
		})
}

// MulScalar multiplies every element by a scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s := toFloat64("mulscalar", scalar)
	return cpu.unaryOp("mulscalar", x,
		func(v float32) float32 { return v * float32(s) },
		func(v float64) float64 { return v * s })
}

// AddScalar adds a scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s := toFloat64("addscalar", scalar)
	return cpu.unaryOp("addscalar", x,
		func(v float32) float32 { return v + float32(s) },
		func(v float64) float64 { return v + s })
}

// DivScalar divides every element by a scalar.
func (cpu *CPUBackend) DivScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	s := toFloat64("divscalar", scalar)
	if s == 0 {
		panic("divscalar: division by zero")
	}
	return cpu.unaryOp("divscalar", x,
		func(v float32) float32 { return v / float32(s) },
		func(v float64) float64 { return v / s })
}

// toFloat64 converts a scalar argument to float64.
func toFloat64(name string, scalar any) float64 {
	switch s := scalar.(type) {
	case float32:
		return float64(s)
	case float64:
		return s
	case int:
		return float64(s)
	default:
		panic(fmt.Sprintf("%s: unsupported scalar type %T", name, scalar))
	}
}
