package tensor

import "math/rand"

// mockBackend satisfies Backend for tests that only exercise tensor
// metadata and storage. Compute methods are covered by the cpu package.
type mockBackend struct{}

func newMockBackend() *mockBackend { return &mockBackend{} }

func newTestRand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

func (m *mockBackend) Add(a, b *RawTensor) *RawTensor { panic("mock: Add") }
func (m *mockBackend) Sub(a, b *RawTensor) *RawTensor { panic("mock: Sub") }
func (m *mockBackend) Mul(a, b *RawTensor) *RawTensor { panic("mock: Mul") }
func (m *mockBackend) Div(a, b *RawTensor) *RawTensor { panic("mock: Div") }

func (m *mockBackend) MatMul(a, b *RawTensor) *RawTensor { panic("mock: MatMul") }

func (m *mockBackend) Reshape(t *RawTensor, newShape Shape) *RawTensor {
	view, err := t.WithShape(newShape)
	if err != nil {
		panic(err)
	}
	return view
}

func (m *mockBackend) Transpose(t *RawTensor) *RawTensor { panic("mock: Transpose") }

func (m *mockBackend) MulScalar(x *RawTensor, scalar any) *RawTensor { panic("mock: MulScalar") }
func (m *mockBackend) AddScalar(x *RawTensor, scalar any) *RawTensor { panic("mock: AddScalar") }
func (m *mockBackend) DivScalar(x *RawTensor, scalar any) *RawTensor { panic("mock: DivScalar") }

func (m *mockBackend) Exp(x *RawTensor) *RawTensor  { panic("mock: Exp") }
func (m *mockBackend) Sqrt(x *RawTensor) *RawTensor { panic("mock: Sqrt") }

func (m *mockBackend) Sum(x *RawTensor) *RawTensor { panic("mock: Sum") }
func (m *mockBackend) SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	panic("mock: SumDim")
}
func (m *mockBackend) MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	panic("mock: MeanDim")
}
func (m *mockBackend) MaxDim(x *RawTensor, dim int, keepDim bool) *RawTensor {
	panic("mock: MaxDim")
}

func (m *mockBackend) Name() string   { return "mock" }
func (m *mockBackend) Device() Device { return CPU }
