// Package webgpu implements the lumen backend interfaces on top of
// wgpu-native through github.com/cogentcore/webgpu. Registered resources are
// the raw binding types: a *wgpu.Buffer is a lumen.Buffer as is, same for
// texture views, samplers and shader modules.
package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

// Device adapts a wgpu device and queue to lumen.Device.
type Device struct {
	dev   *wgpu.Device
	queue *wgpu.Queue
}

func NewDevice(dev *wgpu.Device, queue *wgpu.Queue) *Device {
	return &Device{dev: dev, queue: queue}
}

// Raw exposes the underlying wgpu device for resource creation.
func (d *Device) Raw() *wgpu.Device {
	return d.dev
}

func (d *Device) Queue() *wgpu.Queue {
	return d.queue
}

// Capabilities reports full dynamic state support: blend constant, stencil
// reference, viewport and scissor are all dynamic on a wgpu render pass.
func (d *Device) Capabilities() lumen.Capabilities {
	return lumen.AllDynamic
}

// CreateShaderModule compiles WGSL source. Register the result to use it in
// pipeline descriptors.
func (d *Device) CreateShaderModule(label, code string) (*wgpu.ShaderModule, error) {
	return d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
}

func (d *Device) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (lumen.BindGroupLayout, error) {
	return d.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
}

func (d *Device) CreatePipelineLayout(label string, groups []lumen.BindGroupLayout) (lumen.PipelineLayout, error) {
	layouts := make([]*wgpu.BindGroupLayout, len(groups))
	for idx, g := range groups {
		var err error
		if layouts[idx], err = asBindGroupLayout(g); err != nil {
			return nil, err
		}
	}

	return d.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: layouts,
	})
}

func (d *Device) CreateBindGroup(label string, layout lumen.BindGroupLayout, entries []lumen.BindGroupEntry) (lumen.BindGroup, error) {
	bgl, err := asBindGroupLayout(layout)
	if err != nil {
		return nil, err
	}

	converted := make([]wgpu.BindGroupEntry, len(entries))
	for idx, entry := range entries {
		out := wgpu.BindGroupEntry{Binding: entry.Binding}

		switch {
		case entry.Buffer != nil:
			buf, err := asBuffer(entry.Buffer)
			if err != nil {
				return nil, err
			}

			out.Buffer = buf
			out.Offset = entry.Offset
			out.Size = entry.Size
			if out.Size == 0 {
				out.Size = wgpu.WholeSize
			}

		case entry.Sampler != nil:
			s, ok := entry.Sampler.(*wgpu.Sampler)
			if !ok {
				return nil, fmt.Errorf("foreign sampler %T", entry.Sampler)
			}
			out.Sampler = s

		case entry.Texture != nil:
			view, ok := entry.Texture.(*wgpu.TextureView)
			if !ok {
				return nil, fmt.Errorf("foreign texture view %T", entry.Texture)
			}
			out.TextureView = view
		}

		converted[idx] = out
	}

	return d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  bgl,
		Entries: converted,
	})
}

// renderPipeline keeps the dynamic state that was folded in next to the
// pipeline, it is reapplied whenever the pipeline is bound.
type renderPipeline struct {
	p     *wgpu.RenderPipeline
	baked *lumen.DynamicState
}

func (p *renderPipeline) Release() {
	p.p.Release()
}

func (d *Device) CreateRenderPipeline(spec *lumen.RenderPipelineSpec) (lumen.RenderPipeline, error) {
	layout, err := asPipelineLayout(spec.Layout)
	if err != nil {
		return nil, err
	}

	vertex, ok := spec.Vertex.(*wgpu.ShaderModule)
	if !ok {
		return nil, fmt.Errorf("foreign shader module %T", spec.Vertex)
	}

	buffers := make([]wgpu.VertexBufferLayout, len(spec.VertexBuffers))
	for idx, vb := range spec.VertexBuffers {
		buffers[idx] = wgpu.VertexBufferLayout{
			ArrayStride: vb.ArrayStride,
			StepMode:    vb.StepMode,
			Attributes:  vb.Attributes,
		}
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  spec.Label,
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vertex,
			EntryPoint: spec.VertexEntry,
			Buffers:    buffers,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:         topologyOrDefault(spec.Topology),
			StripIndexFormat: spec.StripIndexFormat,
			FrontFace:        frontFaceOrDefault(spec.FrontFace),
			CullMode:         cullModeOrDefault(spec.CullMode),
		},
		Multisample: wgpu.MultisampleState{
			Count:                  max(spec.Samples, 1),
			Mask:                   0xFFFFFFFF,
			AlphaToCoverageEnabled: spec.AlphaToCoverage,
		},
	}

	if spec.Fragment != nil {
		fragment, ok := spec.Fragment.(*wgpu.ShaderModule)
		if !ok {
			return nil, fmt.Errorf("foreign shader module %T", spec.Fragment)
		}

		targets := make([]wgpu.ColorTargetState, len(spec.Targets))
		for idx, ct := range spec.Targets {
			targets[idx] = wgpu.ColorTargetState{
				Format:    ct.Format,
				Blend:     ct.Blend,
				WriteMask: ct.WriteMask,
			}
		}

		desc.Fragment = &wgpu.FragmentState{
			Module:     fragment,
			EntryPoint: spec.FragmentEntry,
			Targets:    targets,
		}
	}

	if ds := spec.DepthStencil; ds != nil {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:              ds.Format,
			DepthWriteEnabled:   ds.DepthWriteEnabled,
			DepthCompare:        compareOrDefault(ds.DepthCompare),
			StencilFront:        stencilFaceOrDefault(ds.StencilFront),
			StencilBack:         stencilFaceOrDefault(ds.StencilBack),
			StencilReadMask:     ds.StencilReadMask,
			StencilWriteMask:    ds.StencilWriteMask,
			DepthBias:           ds.DepthBias,
			DepthBiasSlopeScale: ds.DepthBiasSlopeScale,
			DepthBiasClamp:      ds.DepthBiasClamp,
		}
	}

	p, err := d.dev.CreateRenderPipeline(desc)
	if err != nil {
		return nil, err
	}

	return &renderPipeline{p: p, baked: spec.Baked}, nil
}

func (d *Device) CreateComputePipeline(spec *lumen.ComputePipelineSpec) (lumen.ComputePipeline, error) {
	layout, err := asPipelineLayout(spec.Layout)
	if err != nil {
		return nil, err
	}

	module, ok := spec.Module.(*wgpu.ShaderModule)
	if !ok {
		return nil, fmt.Errorf("foreign shader module %T", spec.Module)
	}

	return d.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  spec.Label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: spec.Entry,
		},
	})
}

func (d *Device) CreateEncoder(label string) (lumen.CommandEncoder, error) {
	enc, err := d.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, err
	}

	return &encoder{enc: enc, label: label}, nil
}

func (d *Device) Submit(buffers ...lumen.CommandBuffer) error {
	converted := make([]*wgpu.CommandBuffer, len(buffers))
	for idx, buf := range buffers {
		cb, ok := buf.(*wgpu.CommandBuffer)
		if !ok {
			return fmt.Errorf("foreign command buffer %T", buf)
		}

		converted[idx] = cb
	}

	d.queue.Submit(converted...)

	return nil
}

func asBuffer(b lumen.Buffer) (*wgpu.Buffer, error) {
	buf, ok := b.(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("foreign buffer %T", b)
	}

	return buf, nil
}

func asBindGroupLayout(l lumen.BindGroupLayout) (*wgpu.BindGroupLayout, error) {
	bgl, ok := l.(*wgpu.BindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("foreign bind group layout %T", l)
	}

	return bgl, nil
}

func asPipelineLayout(l lumen.PipelineLayout) (*wgpu.PipelineLayout, error) {
	pl, ok := l.(*wgpu.PipelineLayout)
	if !ok {
		return nil, fmt.Errorf("foreign pipeline layout %T", l)
	}

	return pl, nil
}

// The wgpu zero values of these enums mean "undefined", pick the usual
// defaults instead so zero valued descriptors draw something sensible.

func topologyOrDefault(t wgpu.PrimitiveTopology) wgpu.PrimitiveTopology {
	if t == 0 {
		return wgpu.PrimitiveTopologyTriangleList
	}
	return t
}

func frontFaceOrDefault(f wgpu.FrontFace) wgpu.FrontFace {
	if f == 0 {
		return wgpu.FrontFaceCCW
	}
	return f
}

func cullModeOrDefault(c wgpu.CullMode) wgpu.CullMode {
	if c == 0 {
		return wgpu.CullModeNone
	}
	return c
}

func compareOrDefault(c wgpu.CompareFunction) wgpu.CompareFunction {
	if c == 0 {
		return wgpu.CompareFunctionAlways
	}
	return c
}

func stencilFaceOrDefault(s wgpu.StencilFaceState) wgpu.StencilFaceState {
	if s.Compare == 0 {
		s.Compare = wgpu.CompareFunctionAlways
	}
	if s.FailOp == 0 {
		s.FailOp = wgpu.StencilOperationKeep
	}
	if s.DepthFailOp == 0 {
		s.DepthFailOp = wgpu.StencilOperationKeep
	}
	if s.PassOp == 0 {
		s.PassOp = wgpu.StencilOperationKeep
	}
	return s
}
