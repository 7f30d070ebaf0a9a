package record

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

type passState uint8

const (
	stateRecording passState = iota
	stateClosed
)

// pass is the shared recording state machine. A pass starts out Recording,
// End moves it to Closed, and commands only append while Recording. Errors
// stick: the first one is kept and surfaces when the frame is submitted.
type pass struct {
	label    string
	state    passState
	err      error
	commands []Command
}

func (p *pass) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *pass) push(cmd Command) {
	if p.state != stateRecording {
		p.fail(fmt.Errorf("append %v to pass %q: %w", cmd.Type(), p.label, lumen.ErrPassClosed))
		return
	}

	p.commands = append(p.commands, cmd)
}

func (p *pass) end() {
	if p.state != stateRecording {
		p.fail(fmt.Errorf("end pass %q: %w", p.label, lumen.ErrPassClosed))
		return
	}

	p.state = stateClosed
}

// Err reports the sticky recording error, nil while everything recorded so
// far was well formed.
func (p *pass) Err() error {
	return p.err
}

func (p *pass) Label() string {
	return p.label
}

// Commands exposes the recorded command list.
func (p *pass) Commands() []Command {
	return p.commands
}

func (p *pass) bindGroup(group uint32, bindings []lumen.Binding) {
	// conflicting declarations are a recording bug, catch them here
	// instead of at submit
	if _, err := lumen.CanonicalDeclarations(lumen.Declarations(bindings)); err != nil {
		p.fail(fmt.Errorf("pass %q bind group %d: %w", p.label, group, err))
		return
	}

	p.push(BindGroup{Group: group, Bindings: bindings})
}

// ColorTarget names a registered texture as a color attachment. The zero
// load op clears to Clear, the zero store op stores.
type ColorTarget struct {
	Texture lumen.TextureHandle
	Resolve lumen.TextureHandle
	Load    wgpu.LoadOp
	Store   wgpu.StoreOp
	Clear   wgpu.Color
}

type DepthTarget struct {
	Texture lumen.TextureHandle
	Load    wgpu.LoadOp
	Store   wgpu.StoreOp
	Clear   float32
}

type RenderTargets struct {
	Label  string
	Colors []ColorTarget
	Depth  *DepthTarget
}

// RenderPass records draw commands. Created through Frame.RenderPass.
type RenderPass struct {
	pass
	targets RenderTargets
}

// SetPipeline selects the descriptor subsequent draws resolve against. The
// pipeline is not compiled here: compilation happens at submit, against the
// attachment formats of this pass and the dynamic state in effect.
func (p *RenderPass) SetPipeline(desc *lumen.RenderPipelineDescriptor) {
	p.push(SetRenderPipeline{Desc: desc})
}

// BindGroup binds a set of resources at the given group index. The group
// layout is inferred from the bindings.
func (p *RenderPass) BindGroup(group uint32, bindings ...lumen.Binding) {
	p.bindGroup(group, bindings)
}

func (p *RenderPass) SetVertexBuffer(slot uint32, buf lumen.BufferHandle, offset uint64) {
	p.push(SetVertexBuffer{Slot: slot, Buffer: buf, Offset: offset})
}

func (p *RenderPass) SetIndexBuffer(buf lumen.BufferHandle, format wgpu.IndexFormat, offset uint64) {
	p.push(SetIndexBuffer{Buffer: buf, Format: format, Offset: offset})
}

// SetDynamicState overlays dynamic state onto the pass. On devices without
// the corresponding capability the state is folded into the pipelines of
// the following draws instead.
func (p *RenderPass) SetDynamicState(state lumen.DynamicState) {
	p.push(SetDynamicState{State: state})
}

func (p *RenderPass) SetViewport(v lumen.Viewport) {
	p.SetDynamicState(lumen.DynamicState{Set: lumen.DynamicViewport, Viewport: v})
}

func (p *RenderPass) SetScissor(r lumen.Rect[uint32]) {
	p.SetDynamicState(lumen.DynamicState{Set: lumen.DynamicScissor, Scissor: r})
}

func (p *RenderPass) SetBlendConstant(color wgpu.Color) {
	p.SetDynamicState(lumen.DynamicState{Set: lumen.DynamicBlendConstant, BlendConstant: color})
}

func (p *RenderPass) SetStencilReference(ref uint32) {
	p.SetDynamicState(lumen.DynamicState{Set: lumen.DynamicStencilReference, StencilReference: ref})
}

func (p *RenderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.push(Draw{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		FirstVertex:   firstVertex,
		FirstInstance: firstInstance,
	})
}

func (p *RenderPass) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	p.push(DrawIndexed{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		BaseVertex:    baseVertex,
		FirstInstance: firstInstance,
	})
}

// End freezes the pass. Recording into an ended pass is an error, ending
// twice as well.
func (p *RenderPass) End() {
	p.end()
}

// ComputePass records dispatches. Created through Frame.ComputePass.
type ComputePass struct {
	pass
}

func (p *ComputePass) SetPipeline(desc *lumen.ComputePipelineDescriptor) {
	p.push(SetComputePipeline{Desc: desc})
}

func (p *ComputePass) BindGroup(group uint32, bindings ...lumen.Binding) {
	p.bindGroup(group, bindings)
}

func (p *ComputePass) Dispatch(x, y, z uint32) {
	p.push(Dispatch{X: x, Y: y, Z: z})
}

func (p *ComputePass) End() {
	p.end()
}
