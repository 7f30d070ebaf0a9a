// Package nullgpu implements the lumen backend interfaces in memory. No
// native library, no GPU: commands end up in an inspectable operation log
// and pipeline compilation is a counter. The package exists so everything
// above the backend seam is testable in plain unit tests, and doubles as a
// headless stand in.
package nullgpu

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

// Stats counts object creations and submissions on a Device.
type Stats struct {
	BindGroupLayouts int
	PipelineLayouts  int
	BindGroups       int
	RenderPipelines  int
	ComputePipelines int
	Submissions      int
}

// Device is the in-memory backend. The zero value is not usable, create
// devices with New.
type Device struct {
	caps lumen.Capabilities

	mu    sync.Mutex
	ops   []string
	stats Stats

	// FailCompile, when set, is consulted before every pipeline build. A
	// non nil return fails the build with that error.
	FailCompile func(label string) error

	// FailSubmit, when set, fails every Submit with that error.
	FailSubmit error
}

func New(caps lumen.Capabilities) *Device {
	return &Device{caps: caps}
}

func (d *Device) Capabilities() lumen.Capabilities {
	return d.caps
}

// Ops returns a snapshot of everything submitted so far, one operation per
// entry, in submission order.
func (d *Device) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return slices.Clone(d.ops)
}

// Reset clears the operation log. Stats keep counting.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ops = nil
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

// object is the common backing of every fake resource.
type object struct {
	label string
}

func (o *object) Release() {}

func (o *object) Label() string {
	return o.label
}

type (
	Buffer          struct{ object }
	TextureView     struct{ object }
	Sampler         struct{ object }
	ShaderModule    struct{ object }
	BindGroupLayout struct {
		object
		Entries []wgpu.BindGroupLayoutEntry
	}
	PipelineLayout struct {
		object
		Groups []lumen.BindGroupLayout
	}
	BindGroup struct {
		object
		Layout  lumen.BindGroupLayout
		Entries []lumen.BindGroupEntry
	}
	RenderPipeline struct {
		object
		Spec *lumen.RenderPipelineSpec
	}
	ComputePipeline struct {
		object
		Spec *lumen.ComputePipelineSpec
	}
)

// NewBuffer creates a fake buffer for registration with a Registry.
func (d *Device) NewBuffer(label string) *Buffer {
	return &Buffer{object{label: label}}
}

func (d *Device) NewTexture(label string) *TextureView {
	return &TextureView{object{label: label}}
}

func (d *Device) NewSampler(label string) *Sampler {
	return &Sampler{object{label: label}}
}

func (d *Device) NewShader(label string) *ShaderModule {
	return &ShaderModule{object{label: label}}
}

func (d *Device) CreateBindGroupLayout(label string, entries []wgpu.BindGroupLayoutEntry) (lumen.BindGroupLayout, error) {
	d.mu.Lock()
	d.stats.BindGroupLayouts++
	d.mu.Unlock()

	return &BindGroupLayout{object: object{label: label}, Entries: slices.Clone(entries)}, nil
}

func (d *Device) CreatePipelineLayout(label string, groups []lumen.BindGroupLayout) (lumen.PipelineLayout, error) {
	d.mu.Lock()
	d.stats.PipelineLayouts++
	d.mu.Unlock()

	return &PipelineLayout{object: object{label: label}, Groups: slices.Clone(groups)}, nil
}

func (d *Device) CreateBindGroup(label string, layout lumen.BindGroupLayout, entries []lumen.BindGroupEntry) (lumen.BindGroup, error) {
	d.mu.Lock()
	d.stats.BindGroups++
	d.mu.Unlock()

	return &BindGroup{object: object{label: label}, Layout: layout, Entries: slices.Clone(entries)}, nil
}

func (d *Device) CreateRenderPipeline(spec *lumen.RenderPipelineSpec) (lumen.RenderPipeline, error) {
	if d.FailCompile != nil {
		if err := d.FailCompile(spec.Label); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	d.stats.RenderPipelines++
	d.mu.Unlock()

	return &RenderPipeline{object: object{label: spec.Label}, Spec: spec}, nil
}

func (d *Device) CreateComputePipeline(spec *lumen.ComputePipelineSpec) (lumen.ComputePipeline, error) {
	if d.FailCompile != nil {
		if err := d.FailCompile(spec.Label); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	d.stats.ComputePipelines++
	d.mu.Unlock()

	return &ComputePipeline{object: object{label: spec.Label}, Spec: spec}, nil
}

func (d *Device) CreateEncoder(label string) (lumen.CommandEncoder, error) {
	return &encoder{dev: d, label: label}, nil
}

// Submit appends the recorded operations of the finished buffers to the
// device log. Nothing of an encoder is visible before its buffer is
// submitted.
func (d *Device) Submit(buffers ...lumen.CommandBuffer) error {
	if d.FailSubmit != nil {
		return d.FailSubmit
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, buf := range buffers {
		cb, ok := buf.(*commandBuffer)
		if !ok {
			return fmt.Errorf("submit: foreign command buffer %T", buf)
		}

		d.ops = append(d.ops, cb.ops...)
	}

	d.stats.Submissions++
	d.ops = append(d.ops, "submit")

	return nil
}

func labelOf(v any) string {
	type labeled interface{ Label() string }

	if l, ok := v.(labeled); ok && l != nil {
		return l.Label()
	}

	return fmt.Sprintf("%v", v)
}
