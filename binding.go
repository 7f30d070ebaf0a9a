package lumen

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// Binding is a declaration plus the handle of the resource filling it. This
// is what passes record: the resource behind the handle only has to exist
// when the frame is submitted.
type Binding struct {
	Decl BindingDeclaration

	Buffer BufferHandle
	Offset uint64
	Size   uint64 // zero means the rest of the buffer

	Texture TextureHandle
	Sampler SamplerHandle
}

// UniformBinding binds a whole buffer as a uniform.
func UniformBinding(slot uint32, visibility wgpu.ShaderStage, buf BufferHandle) Binding {
	return Binding{
		Decl: BindingDeclaration{
			Slot:       slot,
			Visibility: visibility,
			Kind:       BindingUniformBuffer,
		},
		Buffer: buf,
	}
}

// StorageBinding binds a whole buffer as (possibly read only) storage.
func StorageBinding(slot uint32, visibility wgpu.ShaderStage, buf BufferHandle, readOnly bool) Binding {
	kind := BindingStorageBuffer
	if readOnly {
		kind = BindingReadOnlyStorageBuffer
	}

	return Binding{
		Decl: BindingDeclaration{
			Slot:       slot,
			Visibility: visibility,
			Kind:       kind,
		},
		Buffer: buf,
	}
}

// TextureBinding binds a texture view for sampling.
func TextureBinding(slot uint32, visibility wgpu.ShaderStage, tex TextureHandle, sampleType wgpu.TextureSampleType) Binding {
	return Binding{
		Decl: BindingDeclaration{
			Slot:          slot,
			Visibility:    visibility,
			Kind:          BindingTexture,
			SampleType:    sampleType,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
		Texture: tex,
	}
}

// StorageTextureBinding binds a texture view for shader writes.
func StorageTextureBinding(slot uint32, visibility wgpu.ShaderStage, tex TextureHandle, format wgpu.TextureFormat) Binding {
	return Binding{
		Decl: BindingDeclaration{
			Slot:          slot,
			Visibility:    visibility,
			Kind:          BindingStorageTexture,
			Format:        format,
			Access:        wgpu.StorageTextureAccessWriteOnly,
			ViewDimension: wgpu.TextureViewDimension2D,
		},
		Texture: tex,
	}
}

// SamplerBinding binds a filtering sampler.
func SamplerBinding(slot uint32, visibility wgpu.ShaderStage, s SamplerHandle) Binding {
	return Binding{
		Decl: BindingDeclaration{
			Slot:       slot,
			Visibility: visibility,
			Kind:       BindingSampler,
		},
		Sampler: s,
	}
}

// validate checks that the resource matches the declaration kind.
func (b Binding) validate() error {
	switch {
	case b.Decl.Kind.isBuffer():
		if !b.Buffer.Valid() {
			return fmt.Errorf("binding slot %d: %s needs a buffer handle", b.Decl.Slot, b.Decl.Kind)
		}

	case b.Decl.Kind.isSampler():
		if !b.Sampler.Valid() {
			return fmt.Errorf("binding slot %d: %s needs a sampler handle", b.Decl.Slot, b.Decl.Kind)
		}

	case b.Decl.Kind.isTexture():
		if !b.Texture.Valid() {
			return fmt.Errorf("binding slot %d: %s needs a texture handle", b.Decl.Slot, b.Decl.Kind)
		}
	}

	return nil
}

// Declarations extracts the layout shape from a binding set.
func Declarations(bindings []Binding) []BindingDeclaration {
	decls := make([]BindingDeclaration, len(bindings))
	for idx, b := range bindings {
		decls[idx] = b.Decl
	}

	return decls
}
