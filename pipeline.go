package lumen

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// VertexStage names a shader entry point plus the vertex buffers it pulls
// from. The module only has to be registered, not otherwise retained.
type VertexStage struct {
	Module     ShaderHandle
	EntryPoint string
	Buffers    []VertexBufferLayout
}

type VertexBufferLayout struct {
	ArrayStride uint64
	StepMode    wgpu.VertexStepMode
	Attributes  []wgpu.VertexAttribute
}

type FragmentStage struct {
	Module     ShaderHandle
	EntryPoint string

	// Targets configures blending per color attachment. When empty, one
	// default target per pass attachment is assumed.
	Targets []ColorTarget
}

// ColorTarget is blend state for one color attachment. A zero Format means
// "whatever the pass attachment has", which is almost always what you want.
// A zero WriteMask means write all channels.
type ColorTarget struct {
	Format    wgpu.TextureFormat
	Blend     *wgpu.BlendState
	WriteMask wgpu.ColorWriteMask
}

// DepthStencilState with a zero Format inherits the format of the pass
// depth attachment.
type DepthStencilState struct {
	Format            wgpu.TextureFormat
	DepthWriteEnabled bool
	DepthCompare      wgpu.CompareFunction

	StencilFront     wgpu.StencilFaceState
	StencilBack      wgpu.StencilFaceState
	StencilReadMask  uint32
	StencilWriteMask uint32

	DepthBias           int32
	DepthBiasSlopeScale float32
	DepthBiasClamp      float32
}

// RenderPipelineDescriptor is the fixed part of render pipeline state. It
// carries no layout and no attachment formats: the layout is inferred from
// the bind groups in use (or pinned via Layout), formats fold in from the
// pass the pipeline is resolved against.
type RenderPipelineDescriptor struct {
	Label string

	// Layout optionally pins a pipeline layout from Merge. Zero means the
	// layout is inferred from the bind groups set at draw time.
	Layout PipelineLayoutKey

	Vertex   VertexStage
	Fragment *FragmentStage

	Topology         wgpu.PrimitiveTopology
	StripIndexFormat wgpu.IndexFormat
	FrontFace        wgpu.FrontFace
	CullMode         wgpu.CullMode

	DepthStencil    *DepthStencilState
	AlphaToCoverage bool
}

type ComputePipelineDescriptor struct {
	Label string

	// Layout optionally pins a pipeline layout from Merge, see
	// RenderPipelineDescriptor.Layout.
	Layout PipelineLayoutKey

	Module     ShaderHandle
	EntryPoint string
}

// TargetProfile is the attachment shape of a render pass: everything of a
// pass that determines pipeline compatibility.
type TargetProfile struct {
	Colors  []wgpu.TextureFormat
	Depth   wgpu.TextureFormat // TextureFormatUndefined without depth attachment
	Samples uint32
}

func (t TargetProfile) samples() uint32 {
	return max(t.Samples, 1)
}

// PipelineKey identifies one compiled pipeline variant.
type PipelineKey uint64

func (k PipelineKey) String() string {
	return fmt.Sprintf("pipeline(%016x)", uint64(k))
}

// CompiledRenderPipeline is a cache entry: the backend pipeline plus the
// metadata replay needs to validate draws against it.
type CompiledRenderPipeline struct {
	Key    PipelineKey
	Label  string
	Layout *CompiledPipelineLayout

	Pipeline RenderPipeline

	// VertexBuffers is the number of vertex buffer slots a draw must have
	// populated.
	VertexBuffers int

	// Baked is the dynamic state folded into this variant, nil when the
	// device applies everything dynamically.
	Baked *DynamicState
}

type CompiledComputePipeline struct {
	Key    PipelineKey
	Label  string
	Layout *CompiledPipelineLayout

	Pipeline ComputePipeline
}

type PipelineCacheStats struct {
	Hits     uint64
	Misses   uint64
	Compiles uint64
}

// PipelineCache resolves descriptors to compiled pipelines. Entries live in
// an LRU keyed by the structural hash of (descriptor, layout, target
// profile, baked dynamic state). Concurrent resolves of the same key share
// a single compilation.
type PipelineCache struct {
	dev     Device
	layouts *LayoutInferencer
	reg     *Registry
	caps    Capabilities
	log     *slog.Logger

	render  *lru.Cache[PipelineKey, *CompiledRenderPipeline]
	compute *lru.Cache[PipelineKey, *CompiledComputePipeline]
	flight  singleflight.Group

	hits     atomic.Uint64
	misses   atomic.Uint64
	compiles atomic.Uint64
}

// DefaultPipelineCacheSize bounds each of the render and compute caches.
const DefaultPipelineCacheSize = 512

func NewPipelineCache(dev Device, layouts *LayoutInferencer, reg *Registry, size int, log *slog.Logger) *PipelineCache {
	if size <= 0 {
		size = DefaultPipelineCacheSize
	}

	render, err := lru.NewWithEvict(size, func(key PipelineKey, p *CompiledRenderPipeline) {
		log.Debug("evict render pipeline", slog.String("key", key.String()), slog.String("label", p.Label))
		p.Pipeline.Release()
	})
	if err != nil {
		panic(err)
	}

	compute, err := lru.NewWithEvict(size, func(key PipelineKey, p *CompiledComputePipeline) {
		log.Debug("evict compute pipeline", slog.String("key", key.String()), slog.String("label", p.Label))
		p.Pipeline.Release()
	})
	if err != nil {
		panic(err)
	}

	return &PipelineCache{
		dev:     dev,
		layouts: layouts,
		reg:     reg,
		caps:    dev.Capabilities(),
		log:     log,
		render:  render,
		compute: compute,
	}
}

func (pc *PipelineCache) Stats() PipelineCacheStats {
	return PipelineCacheStats{
		Hits:     pc.hits.Load(),
		Misses:   pc.misses.Load(),
		Compiles: pc.compiles.Load(),
	}
}

// ResolveRender returns the compiled pipeline for the descriptor under the
// given layout, target profile and dynamic state. Dynamic state the device
// supports never influences the cache key.
func (pc *PipelineCache) ResolveRender(desc *RenderPipelineDescriptor, layout PipelineLayoutKey, target TargetProfile, dyn DynamicState) (*CompiledRenderPipeline, error) {
	baked := dyn.baked(pc.caps)
	key := renderPipelineKey(desc, layout, target, baked)

	if p, ok := pc.render.Get(key); ok {
		pc.hits.Add(1)
		return p, nil
	}

	pc.misses.Add(1)

	v, err, _ := pc.flight.Do(fmt.Sprintf("r%016x", uint64(key)), func() (any, error) {
		if p, ok := pc.render.Get(key); ok {
			return p, nil
		}

		p, err := pc.compileRender(desc, layout, target, baked, key)
		if err != nil {
			return nil, err
		}

		pc.render.Add(key, p)

		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*CompiledRenderPipeline), nil
}

// ResolveCompute is ResolveRender for compute pipelines. Compute has no
// target profile and no dynamic state.
func (pc *PipelineCache) ResolveCompute(desc *ComputePipelineDescriptor, layout PipelineLayoutKey) (*CompiledComputePipeline, error) {
	key := computePipelineKey(desc, layout)

	if p, ok := pc.compute.Get(key); ok {
		pc.hits.Add(1)
		return p, nil
	}

	pc.misses.Add(1)

	v, err, _ := pc.flight.Do(fmt.Sprintf("c%016x", uint64(key)), func() (any, error) {
		if p, ok := pc.compute.Get(key); ok {
			return p, nil
		}

		p, err := pc.compileCompute(desc, layout, key)
		if err != nil {
			return nil, err
		}

		pc.compute.Add(key, p)

		return p, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*CompiledComputePipeline), nil
}

// resolveTargets folds pass attachment formats into the color targets and
// depth stencil state of the descriptor.
func resolveTargets(desc *RenderPipelineDescriptor, target TargetProfile) ([]ColorTarget, *DepthStencilState, error) {
	var targets []ColorTarget

	if desc.Fragment != nil {
		declared := desc.Fragment.Targets

		if len(declared) != 0 && len(declared) != len(target.Colors) {
			return nil, nil, fmt.Errorf("pipeline %q declares %d color targets, pass has %d attachments",
				desc.Label, len(declared), len(target.Colors))
		}

		targets = make([]ColorTarget, len(target.Colors))
		for idx, format := range target.Colors {
			var ct ColorTarget
			if len(declared) != 0 {
				ct = declared[idx]
			}

			if ct.Format == wgpu.TextureFormatUndefined {
				ct.Format = format
			} else if ct.Format != format {
				return nil, nil, fmt.Errorf("pipeline %q target %d declares format %v, pass attachment has %v",
					desc.Label, idx, ct.Format, format)
			}

			if ct.WriteMask == 0 {
				ct.WriteMask = wgpu.ColorWriteMaskAll
			}

			targets[idx] = ct
		}
	}

	var depth *DepthStencilState
	if target.Depth != wgpu.TextureFormatUndefined {
		ds := DepthStencilState{DepthCompare: wgpu.CompareFunctionAlways}
		if desc.DepthStencil != nil {
			ds = *desc.DepthStencil
		}

		if ds.Format == wgpu.TextureFormatUndefined {
			ds.Format = target.Depth
		} else if ds.Format != target.Depth {
			return nil, nil, fmt.Errorf("pipeline %q declares depth format %v, pass attachment has %v",
				desc.Label, ds.Format, target.Depth)
		}

		depth = &ds
	}

	return targets, depth, nil
}

func (pc *PipelineCache) compileRender(desc *RenderPipelineDescriptor, layout PipelineLayoutKey, target TargetProfile, baked *DynamicState, key PipelineKey) (*CompiledRenderPipeline, error) {
	merged, ok := pc.layouts.LookupMerged(layout)
	if !ok {
		return nil, fmt.Errorf("pipeline %q: unknown %v", desc.Label, layout)
	}

	vertex, err := pc.reg.Shader(desc.Vertex.Module)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q vertex stage: %w", desc.Label, err)
	}

	spec := &RenderPipelineSpec{
		Label:  desc.Label,
		Layout: merged.Layout,

		Vertex:        vertex,
		VertexEntry:   desc.Vertex.EntryPoint,
		VertexBuffers: desc.Vertex.Buffers,

		Topology:         desc.Topology,
		StripIndexFormat: desc.StripIndexFormat,
		FrontFace:        desc.FrontFace,
		CullMode:         desc.CullMode,
		Samples:          target.samples(),
		AlphaToCoverage:  desc.AlphaToCoverage,

		Baked: baked,
	}

	if desc.Fragment != nil {
		fragment, err := pc.reg.Shader(desc.Fragment.Module)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q fragment stage: %w", desc.Label, err)
		}

		spec.Fragment = fragment
		spec.FragmentEntry = desc.Fragment.EntryPoint
	}

	spec.Targets, spec.DepthStencil, err = resolveTargets(desc, target)
	if err != nil {
		return nil, err
	}

	pc.compiles.Add(1)
	pc.log.Debug("compile render pipeline",
		slog.String("label", desc.Label),
		slog.String("key", key.String()),
		slog.Bool("baked", baked != nil))

	pipeline, err := pc.dev.CreateRenderPipeline(spec)
	if err != nil {
		return nil, &CompileError{Label: desc.Label, Err: err}
	}

	return &CompiledRenderPipeline{
		Key:           key,
		Label:         desc.Label,
		Layout:        merged,
		Pipeline:      pipeline,
		VertexBuffers: len(desc.Vertex.Buffers),
		Baked:         baked,
	}, nil
}

func (pc *PipelineCache) compileCompute(desc *ComputePipelineDescriptor, layout PipelineLayoutKey, key PipelineKey) (*CompiledComputePipeline, error) {
	merged, ok := pc.layouts.LookupMerged(layout)
	if !ok {
		return nil, fmt.Errorf("pipeline %q: unknown %v", desc.Label, layout)
	}

	module, err := pc.reg.Shader(desc.Module)
	if err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", desc.Label, err)
	}

	pc.compiles.Add(1)
	pc.log.Debug("compile compute pipeline",
		slog.String("label", desc.Label),
		slog.String("key", key.String()))

	pipeline, err := pc.dev.CreateComputePipeline(&ComputePipelineSpec{
		Label:  desc.Label,
		Layout: merged.Layout,
		Module: module,
		Entry:  desc.EntryPoint,
	})
	if err != nil {
		return nil, &CompileError{Label: desc.Label, Err: err}
	}

	return &CompiledComputePipeline{
		Key:      key,
		Label:    desc.Label,
		Layout:   merged,
		Pipeline: pipeline,
	}, nil
}

// Release drops all cached pipelines, releasing each through the eviction
// callback.
func (pc *PipelineCache) Release() {
	pc.render.Purge()
	pc.compute.Purge()
}

func renderPipelineKey(desc *RenderPipelineDescriptor, layout PipelineLayoutKey, target TargetProfile, baked *DynamicState) PipelineKey {
	h := newHasher()

	h.u64(uint64(layout))

	h.u64(uint64(Handle(desc.Vertex.Module).index)<<32 | uint64(Handle(desc.Vertex.Module).generation))
	h.str(desc.Vertex.EntryPoint)
	for _, vb := range desc.Vertex.Buffers {
		h.u64(vb.ArrayStride)
		h.u32(uint32(vb.StepMode))
		for _, attr := range vb.Attributes {
			h.u32(uint32(attr.Format))
			h.u64(attr.Offset)
			h.u32(attr.ShaderLocation)
		}
		h.u32(uint32(len(vb.Attributes)))
	}
	h.u32(uint32(len(desc.Vertex.Buffers)))

	h.bool(desc.Fragment != nil)
	if desc.Fragment != nil {
		h.u64(uint64(Handle(desc.Fragment.Module).index)<<32 | uint64(Handle(desc.Fragment.Module).generation))
		h.str(desc.Fragment.EntryPoint)

		for _, ct := range desc.Fragment.Targets {
			h.u32(uint32(ct.Format))
			h.u32(uint32(ct.WriteMask))
			h.bool(ct.Blend != nil)
			if ct.Blend != nil {
				h.u32(uint32(ct.Blend.Color.SrcFactor))
				h.u32(uint32(ct.Blend.Color.DstFactor))
				h.u32(uint32(ct.Blend.Color.Operation))
				h.u32(uint32(ct.Blend.Alpha.SrcFactor))
				h.u32(uint32(ct.Blend.Alpha.DstFactor))
				h.u32(uint32(ct.Blend.Alpha.Operation))
			}
		}
		h.u32(uint32(len(desc.Fragment.Targets)))
	}

	h.u32(uint32(desc.Topology))
	h.u32(uint32(desc.StripIndexFormat))
	h.u32(uint32(desc.FrontFace))
	h.u32(uint32(desc.CullMode))
	h.bool(desc.AlphaToCoverage)

	h.bool(desc.DepthStencil != nil)
	if ds := desc.DepthStencil; ds != nil {
		h.u32(uint32(ds.Format))
		h.bool(ds.DepthWriteEnabled)
		h.u32(uint32(ds.DepthCompare))
		h.u32(uint32(ds.StencilFront.Compare))
		h.u32(uint32(ds.StencilFront.FailOp))
		h.u32(uint32(ds.StencilFront.DepthFailOp))
		h.u32(uint32(ds.StencilFront.PassOp))
		h.u32(uint32(ds.StencilBack.Compare))
		h.u32(uint32(ds.StencilBack.FailOp))
		h.u32(uint32(ds.StencilBack.DepthFailOp))
		h.u32(uint32(ds.StencilBack.PassOp))
		h.u32(ds.StencilReadMask)
		h.u32(ds.StencilWriteMask)
		h.u32(uint32(ds.DepthBias))
		h.f32(ds.DepthBiasSlopeScale)
		h.f32(ds.DepthBiasClamp)
	}

	for _, format := range target.Colors {
		h.u32(uint32(format))
	}
	h.u32(uint32(len(target.Colors)))
	h.u32(uint32(target.Depth))
	h.u32(target.samples())

	h.bool(baked != nil)
	if baked != nil {
		baked.hash(&h)
	}

	return PipelineKey(h.sum)
}

func computePipelineKey(desc *ComputePipelineDescriptor, layout PipelineLayoutKey) PipelineKey {
	h := newHasher()

	h.byte('c')
	h.u64(uint64(layout))
	h.u64(uint64(Handle(desc.Module).index)<<32 | uint64(Handle(desc.Module).generation))
	h.str(desc.EntryPoint)

	return PipelineKey(h.sum)
}
