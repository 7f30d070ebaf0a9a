package lumen

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// BufferInfo describes a registered buffer. Size and usage are kept around
// for replay-time validation and diagnostics.
type BufferInfo struct {
	Label string
	Size  uint64
	Usage wgpu.BufferUsage
}

// TextureInfo describes the view a texture was registered with.
type TextureInfo struct {
	Label       string
	Format      wgpu.TextureFormat
	Width       uint32
	Height      uint32
	SampleCount uint32
	Usage       wgpu.TextureUsage
}

// Samples normalizes the sample count, treating zero as one.
func (t TextureInfo) Samples() uint32 {
	return max(t.SampleCount, 1)
}

type bufferEntry struct {
	buffer Buffer
	info   BufferInfo
}

type textureEntry struct {
	view TextureView
	info TextureInfo
}

// Registry owns the handle indirection between recorded commands and live
// backend objects. Commands carry handles, never the objects themselves, so
// a recording stays valid (and safely failable) across resource churn.
type Registry struct {
	buffers  arena[bufferEntry]
	textures arena[textureEntry]
	samplers arena[Sampler]
	shaders  arena[ShaderModule]
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) RegisterBuffer(buf Buffer, info BufferInfo) BufferHandle {
	return BufferHandle(r.buffers.insert(bufferEntry{buffer: buf, info: info}))
}

func (r *Registry) RegisterTexture(view TextureView, info TextureInfo) TextureHandle {
	return TextureHandle(r.textures.insert(textureEntry{view: view, info: info}))
}

func (r *Registry) RegisterSampler(s Sampler) SamplerHandle {
	return SamplerHandle(r.samplers.insert(s))
}

func (r *Registry) RegisterShader(m ShaderModule) ShaderHandle {
	return ShaderHandle(r.shaders.insert(m))
}

// Buffer resolves a handle to the live buffer. Fails with ErrDanglingHandle
// once the buffer was destroyed, even if the slot was reused since.
func (r *Registry) Buffer(h BufferHandle) (Buffer, BufferInfo, error) {
	entry, ok := r.buffers.get(Handle(h))
	if !ok {
		return nil, BufferInfo{}, fmt.Errorf("resolve %v: %w", h, ErrDanglingHandle)
	}

	return entry.buffer, entry.info, nil
}

func (r *Registry) Texture(h TextureHandle) (TextureView, TextureInfo, error) {
	entry, ok := r.textures.get(Handle(h))
	if !ok {
		return nil, TextureInfo{}, fmt.Errorf("resolve %v: %w", h, ErrDanglingHandle)
	}

	return entry.view, entry.info, nil
}

func (r *Registry) Sampler(h SamplerHandle) (Sampler, error) {
	s, ok := r.samplers.get(Handle(h))
	if !ok {
		return nil, fmt.Errorf("resolve %v: %w", h, ErrDanglingHandle)
	}

	return s, nil
}

func (r *Registry) Shader(h ShaderHandle) (ShaderModule, error) {
	m, ok := r.shaders.get(Handle(h))
	if !ok {
		return nil, fmt.Errorf("resolve %v: %w", h, ErrDanglingHandle)
	}

	return m, nil
}

// Destroy* invalidates the handle and returns the backend object so the
// caller can release it. Destroying an already-dangling handle fails with
// ErrDanglingHandle.

func (r *Registry) DestroyBuffer(h BufferHandle) (Buffer, error) {
	entry, ok := r.buffers.remove(Handle(h))
	if !ok {
		return nil, fmt.Errorf("destroy %v: %w", h, ErrDanglingHandle)
	}

	return entry.buffer, nil
}

func (r *Registry) DestroyTexture(h TextureHandle) (TextureView, error) {
	entry, ok := r.textures.remove(Handle(h))
	if !ok {
		return nil, fmt.Errorf("destroy %v: %w", h, ErrDanglingHandle)
	}

	return entry.view, nil
}

func (r *Registry) DestroySampler(h SamplerHandle) (Sampler, error) {
	s, ok := r.samplers.remove(Handle(h))
	if !ok {
		return nil, fmt.Errorf("destroy %v: %w", h, ErrDanglingHandle)
	}

	return s, nil
}

func (r *Registry) DestroyShader(h ShaderHandle) (ShaderModule, error) {
	m, ok := r.shaders.remove(Handle(h))
	if !ok {
		return nil, fmt.Errorf("destroy %v: %w", h, ErrDanglingHandle)
	}

	return m, nil
}

// Close releases every registered resource and invalidates all outstanding
// handles.
func (r *Registry) Close() {
	r.buffers.drain(func(e bufferEntry) { e.buffer.Release() })
	r.textures.drain(func(e textureEntry) { e.view.Release() })
	r.samplers.drain(func(s Sampler) { s.Release() })
	r.shaders.drain(func(m ShaderModule) { m.Release() })
}

// Len reports the number of live entries across all resource kinds.
func (r *Registry) Len() int {
	return r.buffers.len() + r.textures.len() + r.samplers.len() + r.shaders.len()
}
