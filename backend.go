package lumen

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// The backend interfaces below are the seam between the frontend (recording,
// caching, validation) and an actual GPU. The webgpu package implements them
// on top of wgpu-native, the nullgpu package implements them in memory so
// everything above the seam can run in plain unit tests.

// Releaser is the common teardown surface of backend objects.
type Releaser interface {
	Release()
}

type (
	Buffer          interface{ Releaser }
	TextureView     interface{ Releaser }
	Sampler         interface{ Releaser }
	ShaderModule    interface{ Releaser }
	BindGroupLayout interface{ Releaser }
	PipelineLayout  interface{ Releaser }
	BindGroup       interface{ Releaser }
	RenderPipeline  interface{ Releaser }
	ComputePipeline interface{ Releaser }
	CommandBuffer   interface{ Releaser }
)

// Device is the factory and submission surface a Context drives.
//
// Creation of buffers, textures and samplers is deliberately absent: those
// come from the underlying API directly and enter the frontend through
// Registry registration.
type Device interface {
	Capabilities() Capabilities

	CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (BindGroupLayout, error)
	CreatePipelineLayout(label string, groups []BindGroupLayout) (PipelineLayout, error)
	CreateBindGroup(label string, layout BindGroupLayout, entries []BindGroupEntry) (BindGroup, error)

	CreateRenderPipeline(spec *RenderPipelineSpec) (RenderPipeline, error)
	CreateComputePipeline(spec *ComputePipelineSpec) (ComputePipeline, error)

	CreateEncoder(label string) (CommandEncoder, error)
	Submit(buffers ...CommandBuffer) error
}

// BindGroupEntry is one resolved binding. Exactly one of Buffer, Sampler or
// Texture is non nil, matching the declaration the layout was built from.
type BindGroupEntry struct {
	Binding uint32

	Buffer Buffer
	Offset uint64
	Size   uint64 // zero means bind to the end of the buffer

	Sampler Sampler
	Texture TextureView
}

// RenderPipelineSpec is a fully resolved render pipeline description: shader
// handles resolved to modules, target formats folded in from the pass, the
// merged layout object attached. Backends translate it one to one.
type RenderPipelineSpec struct {
	Label  string
	Layout PipelineLayout

	Vertex        ShaderModule
	VertexEntry   string
	VertexBuffers []VertexBufferLayout

	Fragment      ShaderModule // nil when the pipeline has no fragment stage
	FragmentEntry string
	Targets       []ColorTarget // formats already resolved

	DepthStencil *DepthStencilState // format already resolved, nil without depth attachment

	Topology         wgpu.PrimitiveTopology
	StripIndexFormat wgpu.IndexFormat
	FrontFace        wgpu.FrontFace
	CullMode         wgpu.CullMode
	Samples          uint32
	AlphaToCoverage  bool

	// Baked is non nil when dynamic state had to be folded into the
	// pipeline because the device lacks the corresponding capability.
	Baked *DynamicState
}

type ComputePipelineSpec struct {
	Label  string
	Layout PipelineLayout
	Module ShaderModule
	Entry  string
}

// ColorAttachment is a resolved color target of a render pass.
type ColorAttachment struct {
	View    TextureView
	Resolve TextureView
	LoadOp  wgpu.LoadOp
	StoreOp wgpu.StoreOp
	Clear   wgpu.Color
}

type DepthStencilAttachment struct {
	View       TextureView
	LoadOp     wgpu.LoadOp
	StoreOp    wgpu.StoreOp
	ClearDepth float32
}

type RenderPassSpec struct {
	Label        string
	Colors       []ColorAttachment
	DepthStencil *DepthStencilAttachment
}

// CommandEncoder mirrors the encoding surface of a wgpu command encoder,
// reduced to what frame replay emits.
type CommandEncoder interface {
	BeginRenderPass(spec *RenderPassSpec) RenderPassEncoder
	BeginComputePass(label string) ComputePassEncoder

	CopyBufferToBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64)
	ClearBuffer(buf Buffer, offset, size uint64)

	Finish() (CommandBuffer, error)
}

type RenderPassEncoder interface {
	SetPipeline(p RenderPipeline)
	SetBindGroup(group uint32, bg BindGroup, dynamicOffsets []uint32)
	SetVertexBuffer(slot uint32, buf Buffer, offset uint64)
	SetIndexBuffer(buf Buffer, format wgpu.IndexFormat, offset uint64)

	SetViewport(x, y, width, height, minDepth, maxDepth float32)
	SetScissorRect(x, y, width, height uint32)
	SetBlendConstant(color wgpu.Color)
	SetStencilReference(ref uint32)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32)

	End()
}

type ComputePassEncoder interface {
	SetPipeline(p ComputePipeline)
	SetBindGroup(group uint32, bg BindGroup, dynamicOffsets []uint32)
	DispatchWorkgroups(x, y, z uint32)

	End()
}
