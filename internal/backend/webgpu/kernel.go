package webgpu

import (
	"encoding/binary"
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/stf-ml/stf/internal/tensor"
)

// workgroupSize is the number of rows handled per workgroup.
const workgroupSize = 64

// stableTargetShader is the fused stable-target kernel. One invocation owns
// one perturbed sample and makes two passes over the reference batch: the
// first finds the nearest reference distance, the second accumulates the
// shift-stabilized exponentials and the weighted reference sum. The shift is
// applied in the distance domain, matching the CPU path: the log-weights
// overflow f32 at tiny sigma, the distance differences never do, and the
// nearest entry is pinned to exactly 1 so the sum stays positive.
const stableTargetShader = `
@group(0) @binding(0) var<storage, read> perturbed: array<f32>;
@group(0) @binding(1) var<storage, read> sigma: array<f32>;
@group(0) @binding(2) var<storage, read> reference: array<f32>;
@group(0) @binding(3) var<storage, read_write> target: array<f32>;

struct Params {
    n: u32,
    r: u32,
    d: u32,
}
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    if (i >= params.n) {
        return;
    }
    let r = params.r;
    let d = params.d;
    let inv = 1.0 / (2.0 * sigma[i] * sigma[i]);

    // Pass 1: nearest reference distance.
    var min_dist = 3.40282e38;
    for (var j = 0u; j < r; j++) {
        var dist = 0.0;
        for (var k = 0u; k < d; k++) {
            let diff = perturbed[i * d + k] - reference[j * d + k];
            dist += diff * diff;
        }
        if (dist < min_dist) {
            min_dist = dist;
        }
    }

    // Pass 2: shifted exponentials, weighted reference accumulation. The
    // nearest entry is pinned to 1 so sigma underflow in inv cannot poison
    // the sum.
    for (var k = 0u; k < d; k++) {
        target[i * d + k] = 0.0;
    }
    var sum = 0.0;
    for (var j = 0u; j < r; j++) {
        var dist = 0.0;
        for (var k = 0u; k < d; k++) {
            let diff = perturbed[i * d + k] - reference[j * d + k];
            dist += diff * diff;
        }
        var w = 1.0;
        if (dist > min_dist) {
            w = exp(-(dist - min_dist) * inv);
        }
        sum += w;
        for (var k = 0u; k < d; k++) {
            target[i * d + k] += w * reference[j * d + k];
        }
    }
    for (var k = 0u; k < d; k++) {
        target[i * d + k] /= sum;
    }
}
`

// StableTarget computes stable targets on the GPU. Inputs are float32 and
// already validated by the estimator: perturbed [N, D], sigma [N],
// reference [R, D]. The returned tensor lives in host memory — the kernel is
// a compute detour, not a resident-tensor path.
func (b *Backend) StableTarget(perturbed, sigma, reference *tensor.RawTensor) (*tensor.RawTensor, error) {
	if perturbed.DType() != tensor.Float32 {
		return nil, fmt.Errorf("webgpu: only float32 is supported, got %s", perturbed.DType())
	}

	n := perturbed.Shape()[0]
	d := perturbed.Shape()[1]
	r := reference.Shape()[0]

	shader := b.compileShader("stable_target", stableTargetShader)
	pipeline := b.getOrCreatePipeline("stable_target", shader)

	bufferPerturbed := b.createBuffer(perturbed.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferPerturbed.Release()

	bufferSigma := b.createBuffer(sigma.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferSigma.Release()

	bufferReference := b.createBuffer(reference.Data(), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferReference.Release()

	//nolint:gosec // G115: ByteSize() returns a non-negative int
	targetSize := uint64(perturbed.ByteSize())
	bufferTarget := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  targetSize,
	})
	defer bufferTarget.Release()

	params := make([]byte, 16)
	//nolint:gosec // G115: batch sizes are non-negative
	binary.LittleEndian.PutUint32(params[0:4], uint32(n))
	//nolint:gosec // G115
	binary.LittleEndian.PutUint32(params[4:8], uint32(r))
	//nolint:gosec // G115
	binary.LittleEndian.PutUint32(params[8:12], uint32(d))
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferPerturbed, 0, uint64(perturbed.ByteSize())),
		wgpu.BufferBindingEntry(1, bufferSigma, 0, uint64(sigma.ByteSize())),
		wgpu.BufferBindingEntry(2, bufferReference, 0, uint64(reference.ByteSize())),
		wgpu.BufferBindingEntry(3, bufferTarget, 0, targetSize),
		wgpu.BufferBindingEntry(4, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: workgroup count is non-negative
	workgroups := uint32((n + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)

	resultBytes, err := b.readBuffer(bufferTarget, targetSize)
	if err != nil {
		return nil, fmt.Errorf("webgpu: stable target readback: %w", err)
	}

	result, err := tensor.NewRaw(tensor.Shape{n, d}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("webgpu: stable target result: %w", err)
	}
	copy(result.Data(), resultBytes)

	return result, nil
}
