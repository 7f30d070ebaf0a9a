package nullgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

type commandBuffer struct {
	object
	ops []string
}

type encoder struct {
	dev      *Device
	label    string
	ops      []string
	finished bool
}

func (e *encoder) op(format string, args ...any) {
	e.ops = append(e.ops, fmt.Sprintf(format, args...))
}

func (e *encoder) BeginRenderPass(spec *lumen.RenderPassSpec) lumen.RenderPassEncoder {
	e.op("begin-render-pass %s colors=%d depth=%v", spec.Label, len(spec.Colors), spec.DepthStencil != nil)
	return &renderPass{enc: e}
}

func (e *encoder) BeginComputePass(label string) lumen.ComputePassEncoder {
	e.op("begin-compute-pass %s", label)
	return &computePass{enc: e}
}

func (e *encoder) CopyBufferToBuffer(src lumen.Buffer, srcOffset uint64, dst lumen.Buffer, dstOffset, size uint64) {
	e.op("copy-buffer-to-buffer %s+%d -> %s+%d %d", labelOf(src), srcOffset, labelOf(dst), dstOffset, size)
}

func (e *encoder) ClearBuffer(buf lumen.Buffer, offset, size uint64) {
	e.op("clear-buffer %s+%d %d", labelOf(buf), offset, size)
}

func (e *encoder) Finish() (lumen.CommandBuffer, error) {
	if e.finished {
		return nil, fmt.Errorf("encoder %q: finished twice", e.label)
	}
	e.finished = true

	return &commandBuffer{object: object{label: e.label}, ops: e.ops}, nil
}

type renderPass struct {
	enc *encoder
}

func (p *renderPass) SetPipeline(pl lumen.RenderPipeline) {
	p.enc.op("set-render-pipeline %s", labelOf(pl))
}

func (p *renderPass) SetBindGroup(group uint32, bg lumen.BindGroup, dynamicOffsets []uint32) {
	p.enc.op("set-bind-group %d %s", group, labelOf(bg))
}

func (p *renderPass) SetVertexBuffer(slot uint32, buf lumen.Buffer, offset uint64) {
	p.enc.op("set-vertex-buffer %d %s+%d", slot, labelOf(buf), offset)
}

func (p *renderPass) SetIndexBuffer(buf lumen.Buffer, format wgpu.IndexFormat, offset uint64) {
	p.enc.op("set-index-buffer %s+%d", labelOf(buf), offset)
}

func (p *renderPass) SetViewport(x, y, width, height, minDepth, maxDepth float32) {
	p.enc.op("set-viewport %v %v %v %v %v %v", x, y, width, height, minDepth, maxDepth)
}

func (p *renderPass) SetScissorRect(x, y, width, height uint32) {
	p.enc.op("set-scissor %d %d %d %d", x, y, width, height)
}

func (p *renderPass) SetBlendConstant(color wgpu.Color) {
	p.enc.op("set-blend-constant %v %v %v %v", color.R, color.G, color.B, color.A)
}

func (p *renderPass) SetStencilReference(ref uint32) {
	p.enc.op("set-stencil-reference %d", ref)
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.enc.op("draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *renderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.enc.op("draw-indexed %d %d %d %d %d", indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
}

func (p *renderPass) End() {
	p.enc.op("end-render-pass")
}

type computePass struct {
	enc *encoder
}

func (p *computePass) SetPipeline(pl lumen.ComputePipeline) {
	p.enc.op("set-compute-pipeline %s", labelOf(pl))
}

func (p *computePass) SetBindGroup(group uint32, bg lumen.BindGroup, dynamicOffsets []uint32) {
	p.enc.op("set-bind-group %d %s", group, labelOf(bg))
}

func (p *computePass) DispatchWorkgroups(x, y, z uint32) {
	p.enc.op("dispatch %d %d %d", x, y, z)
}

func (p *computePass) End() {
	p.enc.op("end-compute-pass")
}
