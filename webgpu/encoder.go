package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

// encoder wraps a wgpu command encoder. Operations that can fail on the
// binding keep a sticky error that surfaces at Finish.
type encoder struct {
	enc   *wgpu.CommandEncoder
	label string
	err   error
}

func (e *encoder) fail(err error) {
	if e.err == nil && err != nil {
		e.err = err
	}
}

func (e *encoder) BeginRenderPass(spec *lumen.RenderPassSpec) lumen.RenderPassEncoder {
	colors := make([]wgpu.RenderPassColorAttachment, len(spec.Colors))
	for idx, att := range spec.Colors {
		view, ok := att.View.(*wgpu.TextureView)
		if !ok {
			e.fail(fmt.Errorf("foreign texture view %T", att.View))
			return &renderPassEncoder{}
		}

		out := wgpu.RenderPassColorAttachment{
			View:       view,
			LoadOp:     att.LoadOp,
			StoreOp:    att.StoreOp,
			ClearValue: att.Clear,
		}

		if att.Resolve != nil {
			resolve, ok := att.Resolve.(*wgpu.TextureView)
			if !ok {
				e.fail(fmt.Errorf("foreign texture view %T", att.Resolve))
				return &renderPassEncoder{}
			}
			out.ResolveTarget = resolve
		}

		colors[idx] = out
	}

	desc := &wgpu.RenderPassDescriptor{
		Label:            spec.Label,
		ColorAttachments: colors,
	}

	if ds := spec.DepthStencil; ds != nil {
		view, ok := ds.View.(*wgpu.TextureView)
		if !ok {
			e.fail(fmt.Errorf("foreign texture view %T", ds.View))
			return &renderPassEncoder{}
		}

		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            view,
			DepthLoadOp:     ds.LoadOp,
			DepthStoreOp:    ds.StoreOp,
			DepthClearValue: ds.ClearDepth,
		}
	}

	return &renderPassEncoder{rp: e.enc.BeginRenderPass(desc)}
}

func (e *encoder) BeginComputePass(label string) lumen.ComputePassEncoder {
	return &computePassEncoder{cp: e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})}
}

func (e *encoder) CopyBufferToBuffer(src lumen.Buffer, srcOffset uint64, dst lumen.Buffer, dstOffset, size uint64) {
	source, err := asBuffer(src)
	if err != nil {
		e.fail(err)
		return
	}

	destination, err := asBuffer(dst)
	if err != nil {
		e.fail(err)
		return
	}

	e.fail(e.enc.CopyBufferToBuffer(source, srcOffset, destination, dstOffset, size))
}

func (e *encoder) ClearBuffer(buf lumen.Buffer, offset, size uint64) {
	b, err := asBuffer(buf)
	if err != nil {
		e.fail(err)
		return
	}

	e.fail(e.enc.ClearBuffer(b, offset, size))
}

func (e *encoder) Finish() (lumen.CommandBuffer, error) {
	if e.err != nil {
		return nil, fmt.Errorf("encoder %q: %w", e.label, e.err)
	}

	return e.enc.Finish(nil)
}

type renderPassEncoder struct {
	rp *wgpu.RenderPassEncoder
}

func (e *renderPassEncoder) SetPipeline(p lumen.RenderPipeline) {
	pl, ok := p.(*renderPipeline)
	if !ok || e.rp == nil {
		return
	}

	e.rp.SetPipeline(pl.p)

	// reapply state that was folded into the pipeline variant
	if b := pl.baked; b != nil {
		if b.Set&lumen.DynamicBlendConstant != 0 {
			e.SetBlendConstant(b.BlendConstant)
		}
		if b.Set&lumen.DynamicStencilReference != 0 {
			e.SetStencilReference(b.StencilReference)
		}
		if b.Set&lumen.DynamicViewport != 0 {
			v := b.Viewport
			e.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
		}
		if b.Set&lumen.DynamicScissor != 0 {
			s := b.Scissor
			e.SetScissorRect(s.X, s.Y, s.W, s.H)
		}
	}
}

func (e *renderPassEncoder) SetBindGroup(group uint32, bg lumen.BindGroup, dynamicOffsets []uint32) {
	if wbg, ok := bg.(*wgpu.BindGroup); ok && e.rp != nil {
		e.rp.SetBindGroup(group, wbg, dynamicOffsets)
	}
}

func (e *renderPassEncoder) SetVertexBuffer(slot uint32, buf lumen.Buffer, offset uint64) {
	if b, ok := buf.(*wgpu.Buffer); ok && e.rp != nil {
		e.rp.SetVertexBuffer(slot, b, offset, wgpu.WholeSize)
	}
}

func (e *renderPassEncoder) SetIndexBuffer(buf lumen.Buffer, format wgpu.IndexFormat, offset uint64) {
	b, ok := buf.(*wgpu.Buffer)
	if !ok || e.rp == nil {
		return
	}

	if format == 0 {
		format = wgpu.IndexFormatUint32
	}

	e.rp.SetIndexBuffer(b, format, offset, wgpu.WholeSize)
}

func (e *renderPassEncoder) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	if e.rp != nil {
		e.rp.SetViewport(x, y, width, height, minDepth, maxDepth)
	}
}

func (e *renderPassEncoder) SetScissorRect(x, y, width, height uint32) {
	if e.rp != nil {
		e.rp.SetScissorRect(x, y, width, height)
	}
}

func (e *renderPassEncoder) SetBlendConstant(color wgpu.Color) {
	if e.rp != nil {
		e.rp.SetBlendConstant(&color)
	}
}

func (e *renderPassEncoder) SetStencilReference(ref uint32) {
	if e.rp != nil {
		e.rp.SetStencilReference(ref)
	}
}

func (e *renderPassEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if e.rp != nil {
		e.rp.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (e *renderPassEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if e.rp != nil {
		e.rp.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	}
}

func (e *renderPassEncoder) End() {
	if e.rp != nil {
		e.rp.End()
		e.rp.Release()
	}
}

type computePassEncoder struct {
	cp *wgpu.ComputePassEncoder
}

func (e *computePassEncoder) SetPipeline(p lumen.ComputePipeline) {
	if pl, ok := p.(*wgpu.ComputePipeline); ok {
		e.cp.SetPipeline(pl)
	}
}

func (e *computePassEncoder) SetBindGroup(group uint32, bg lumen.BindGroup, dynamicOffsets []uint32) {
	if wbg, ok := bg.(*wgpu.BindGroup); ok {
		e.cp.SetBindGroup(group, wbg, dynamicOffsets)
	}
}

func (e *computePassEncoder) DispatchWorkgroups(x, y, z uint32) {
	e.cp.DispatchWorkgroups(x, y, z)
}

func (e *computePassEncoder) End() {
	e.cp.End()
	e.cp.Release()
}
