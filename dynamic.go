package lumen

import (
	"slices"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// DynamicFeature is a bit set of pipeline state a device can change on a
// bound pipeline without recompiling it.
type DynamicFeature uint32

const (
	DynamicBlendConstant DynamicFeature = 1 << iota
	DynamicStencilReference
	DynamicViewport
	DynamicScissor
)

const allDynamicFeatures = DynamicBlendConstant | DynamicStencilReference | DynamicViewport | DynamicScissor

var dynamicFeatureNames = map[DynamicFeature]string{
	DynamicBlendConstant:    "blend-constant",
	DynamicStencilReference: "stencil-reference",
	DynamicViewport:         "viewport",
	DynamicScissor:          "scissor",
}

func (f DynamicFeature) String() string {
	var names []string

	for bit, name := range dynamicFeatureNames {
		if f&bit != 0 {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return "none"
	}

	// map iteration order
	slices.Sort(names)

	return strings.Join(names, "|")
}

// Capabilities describes what a device supports. Dynamic state the device
// lacks gets folded into the compiled pipeline identity instead, trading
// cache granularity for correctness.
type Capabilities struct {
	Dynamic DynamicFeature
}

func (c Capabilities) Has(f DynamicFeature) bool {
	return c.Dynamic&f == f
}

// Stock capability profiles.
var (
	AllDynamic = Capabilities{Dynamic: allDynamicFeatures}
	NoDynamic  = Capabilities{}
)

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// DynamicState is the mutable part of pipeline state. Set records which
// fields actually carry a value, fields outside Set keep whatever the pass
// currently has.
type DynamicState struct {
	Set DynamicFeature

	BlendConstant    wgpu.Color
	StencilReference uint32
	Viewport         Viewport
	Scissor          Rect[uint32]
}

// Merge overlays the set fields of other onto s and returns the result.
func (s DynamicState) Merge(other DynamicState) DynamicState {
	out := s
	out.Set |= other.Set

	if other.Set&DynamicBlendConstant != 0 {
		out.BlendConstant = other.BlendConstant
	}
	if other.Set&DynamicStencilReference != 0 {
		out.StencilReference = other.StencilReference
	}
	if other.Set&DynamicViewport != 0 {
		out.Viewport = other.Viewport
	}
	if other.Set&DynamicScissor != 0 {
		out.Scissor = other.Scissor
	}

	return out
}

// baked returns the subset of s that the given capabilities cannot apply
// dynamically, or nil when everything set is supported. The subset becomes
// part of the pipeline identity.
func (s DynamicState) baked(caps Capabilities) *DynamicState {
	unsupported := s.Set &^ caps.Dynamic
	if unsupported == 0 {
		return nil
	}

	out := &DynamicState{Set: unsupported}

	if unsupported&DynamicBlendConstant != 0 {
		out.BlendConstant = s.BlendConstant
	}
	if unsupported&DynamicStencilReference != 0 {
		out.StencilReference = s.StencilReference
	}
	if unsupported&DynamicViewport != 0 {
		out.Viewport = s.Viewport
	}
	if unsupported&DynamicScissor != 0 {
		out.Scissor = s.Scissor
	}

	return out
}

func (s *DynamicState) hash(h *hasher) {
	h.u32(uint32(s.Set))

	if s.Set&DynamicBlendConstant != 0 {
		h.f64(s.BlendConstant.R)
		h.f64(s.BlendConstant.G)
		h.f64(s.BlendConstant.B)
		h.f64(s.BlendConstant.A)
	}
	if s.Set&DynamicStencilReference != 0 {
		h.u32(s.StencilReference)
	}
	if s.Set&DynamicViewport != 0 {
		h.f32(s.Viewport.X)
		h.f32(s.Viewport.Y)
		h.f32(s.Viewport.Width)
		h.f32(s.Viewport.Height)
		h.f32(s.Viewport.MinDepth)
		h.f32(s.Viewport.MaxDepth)
	}
	if s.Set&DynamicScissor != 0 {
		h.u32(s.Scissor.X)
		h.u32(s.Scissor.Y)
		h.u32(s.Scissor.W)
		h.u32(s.Scissor.H)
	}
}
