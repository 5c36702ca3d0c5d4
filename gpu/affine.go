package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

type affineKey struct{ in, out int }

type affinePipeline struct {
	layout         *wgpu.BindGroupLayout
	pipelineLayout *wgpu.PipelineLayout
	pipeline       *wgpu.ComputePipeline
}

func (p *affinePipeline) release() {
	if p.pipeline != nil {
		p.pipeline.Release()
	}
	if p.pipelineLayout != nil {
		p.pipelineLayout.Release()
	}
	if p.layout != nil {
		p.layout.Release()
	}
}

// AffineKernel evaluates y = W·x + b for batches of samples on the GPU.
// Weights use the [out][in] layout. Compiled pipelines are cached per
// (in, out) pair; buffers are created per call.
type AffineKernel struct {
	ctx *Context

	mu        sync.Mutex
	pipelines map[affineKey]*affinePipeline
}

// NewAffineKernel opens the shared GPU context.
func NewAffineKernel() (*AffineKernel, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &AffineKernel{ctx: c, pipelines: make(map[affineKey]*affinePipeline)}, nil
}

func affineShader(in, out int, wg uint32) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> biases : array<f32>;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_out = %du;
			let n_in = %du;

			if (idx >= arrayLength(&output)) {
				return;
			}

			// idx = sample_idx * n_out + out_idx
			let sample_idx = idx / n_out;
			let out_idx = idx %% n_out;

			var sum: f32 = biases[out_idx];
			let weight_offset = out_idx * n_in;
			let input_offset = sample_idx * n_in;
			for (var i: u32 = 0u; i < n_in; i++) {
				sum += weights[weight_offset + i] * input[input_offset + i];
			}
			output[idx] = sum;
		}
	`, wg, out, in)
}

func (k *AffineKernel) compile(in, out int) (*affinePipeline, error) {
	key := affineKey{in, out}
	if p, ok := k.pipelines[key]; ok {
		return p, nil
	}
	label := fmt.Sprintf("Affine_%dx%d", out, in)
	dev := k.ctx.Device

	module, err := dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: affineShader(in, out, k.ctx.Limits.Workgroup())},
	})
	if err != nil {
		return nil, fmt.Errorf("shader compile: %v", err)
	}
	defer module.Release()

	layout, err := dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Input
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},         // Output
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Weights
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}}, // Biases
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bgl: %v", err)
	}

	pipelineLayout, err := dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		layout.Release()
		return nil, fmt.Errorf("create pipeline layout: %v", err)
	}

	pipeline, err := dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		pipelineLayout.Release()
		layout.Release()
		return nil, fmt.Errorf("pipeline create: %v", err)
	}

	p := &affinePipeline{layout: layout, pipelineLayout: pipelineLayout, pipeline: pipeline}
	k.pipelines[key] = p
	return p, nil
}

// Affine implements nn.AffineAccelerator.
func (k *AffineKernel) Affine(x []float32, batch, in, out int, weights, bias []float32) ([]float32, error) {
	if len(x) != batch*in || len(weights) != in*out || len(bias) != out {
		return nil, fmt.Errorf("affine: buffer sizes do not match %dx%d batch %d", out, in, batch)
	}
	lim := k.ctx.Limits
	for _, n := range []int{len(x), len(weights), batch * out} {
		if err := lim.CheckBinding(n); err != nil {
			return nil, fmt.Errorf("affine: %w", err)
		}
	}
	groups, err := lim.Dispatch(batch * out)
	if err != nil {
		return nil, fmt.Errorf("affine: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.compile(in, out)
	if err != nil {
		return nil, err
	}
	dev := k.ctx.Device

	usage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	inBuf, err := NewFloatBuffer(x, usage)
	if err != nil {
		return nil, fmt.Errorf("input buf: %v", err)
	}
	defer inBuf.Destroy()
	wBuf, err := NewFloatBuffer(weights, usage)
	if err != nil {
		return nil, fmt.Errorf("weight buf: %v", err)
	}
	defer wBuf.Destroy()
	bBuf, err := NewFloatBuffer(bias, usage)
	if err != nil {
		return nil, fmt.Errorf("bias buf: %v", err)
	}
	defer bBuf.Destroy()
	outBuf, err := dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Affine_Out",
		Size:  uint64(batch * out * 4),
		Usage: usage,
	})
	if err != nil {
		return nil, err
	}
	defer outBuf.Destroy()

	bindGroup, err := dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Affine_Bind",
		Layout: p.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: inBuf, Size: inBuf.GetSize()},
			{Binding: 1, Buffer: outBuf, Size: outBuf.GetSize()},
			{Binding: 2, Buffer: wBuf, Size: wBuf.GetSize()},
			{Binding: 3, Buffer: bBuf, Size: bBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}
	defer bindGroup.Release()

	enc, err := dev.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, err
	}
	k.ctx.Queue.Submit(cmd)

	return ReadBuffer(context.Background(), outBuf, batch*out)
}

// Release frees the cached pipelines.
func (k *AffineKernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, p := range k.pipelines {
		p.release()
		delete(k.pipelines, key)
	}
}
