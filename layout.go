package lumen

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"golang.org/x/sync/singleflight"
)

// BindingKind classifies what kind of resource a shader binding expects.
type BindingKind uint8

const (
	BindingUniformBuffer BindingKind = iota
	BindingStorageBuffer
	BindingReadOnlyStorageBuffer
	BindingSampler
	BindingComparisonSampler
	BindingTexture
	BindingStorageTexture
)

var bindingKindNames = [...]string{
	BindingUniformBuffer:         "uniform-buffer",
	BindingStorageBuffer:         "storage-buffer",
	BindingReadOnlyStorageBuffer: "read-only-storage-buffer",
	BindingSampler:               "sampler",
	BindingComparisonSampler:     "comparison-sampler",
	BindingTexture:               "texture",
	BindingStorageTexture:        "storage-texture",
}

func (k BindingKind) String() string {
	if int(k) < len(bindingKindNames) {
		return bindingKindNames[k]
	}

	return fmt.Sprintf("binding-kind(%d)", uint8(k))
}

func (k BindingKind) isBuffer() bool {
	return k == BindingUniformBuffer || k == BindingStorageBuffer || k == BindingReadOnlyStorageBuffer
}

func (k BindingKind) isSampler() bool {
	return k == BindingSampler || k == BindingComparisonSampler
}

func (k BindingKind) isTexture() bool {
	return k == BindingTexture || k == BindingStorageTexture
}

// BindingDeclaration is the shape of one binding slot: everything a bind
// group layout entry needs, minus the resource itself.
type BindingDeclaration struct {
	Slot       uint32
	Visibility wgpu.ShaderStage
	Kind       BindingKind

	// Buffer bindings only.
	HasDynamicOffset bool
	MinBindingSize   uint64

	// Texture bindings only.
	SampleType    wgpu.TextureSampleType
	ViewDimension wgpu.TextureViewDimension
	Multisampled  bool

	// Storage texture bindings only.
	Format wgpu.TextureFormat
	Access wgpu.StorageTextureAccess
}

func (d BindingDeclaration) String() string {
	return fmt.Sprintf("%s in slot %d", d.Kind, d.Slot)
}

func (d BindingDeclaration) hash(h *hasher) {
	h.u32(d.Slot)
	h.u32(uint32(d.Visibility))
	h.byte(byte(d.Kind))
	h.bool(d.HasDynamicOffset)
	h.u64(d.MinBindingSize)
	h.u32(uint32(d.SampleType))
	h.u32(uint32(d.ViewDimension))
	h.bool(d.Multisampled)
	h.u32(uint32(d.Format))
	h.u32(uint32(d.Access))
}

func (d BindingDeclaration) layoutEntry() wgpu.BindGroupLayoutEntry {
	entry := wgpu.BindGroupLayoutEntry{
		Binding:    d.Slot,
		Visibility: d.Visibility,
	}

	switch d.Kind {
	case BindingUniformBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeUniform
		entry.Buffer.HasDynamicOffset = d.HasDynamicOffset
		entry.Buffer.MinBindingSize = d.MinBindingSize

	case BindingStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeStorage
		entry.Buffer.HasDynamicOffset = d.HasDynamicOffset
		entry.Buffer.MinBindingSize = d.MinBindingSize

	case BindingReadOnlyStorageBuffer:
		entry.Buffer.Type = wgpu.BufferBindingTypeReadOnlyStorage
		entry.Buffer.HasDynamicOffset = d.HasDynamicOffset
		entry.Buffer.MinBindingSize = d.MinBindingSize

	case BindingSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeFiltering

	case BindingComparisonSampler:
		entry.Sampler.Type = wgpu.SamplerBindingTypeComparison

	case BindingTexture:
		entry.Texture.SampleType = d.SampleType
		entry.Texture.ViewDimension = d.ViewDimension
		entry.Texture.Multisampled = d.Multisampled

	case BindingStorageTexture:
		entry.StorageTexture.Access = d.Access
		entry.StorageTexture.Format = d.Format
		entry.StorageTexture.ViewDimension = d.ViewDimension
	}

	return entry
}

// LayoutKey identifies a canonical bind group layout shape. Two declaration
// sets with the same shape always map to the same key, independent of the
// order they were declared in.
type LayoutKey uint64

func (k LayoutKey) String() string {
	return fmt.Sprintf("layout(%016x)", uint64(k))
}

// PipelineLayoutKey identifies an ordered sequence of LayoutKeys.
type PipelineLayoutKey uint64

func (k PipelineLayoutKey) String() string {
	return fmt.Sprintf("pipeline-layout(%016x)", uint64(k))
}

// CompiledLayout pairs a layout key with the backend object and the
// canonical declarations it was built from.
type CompiledLayout struct {
	Key          LayoutKey
	Declarations []BindingDeclaration
	Layout       BindGroupLayout
}

type CompiledPipelineLayout struct {
	Key    PipelineLayoutKey
	Groups []*CompiledLayout
	Layout PipelineLayout
}

// LayoutInferencer deduplicates bind group layouts and pipeline layouts by
// structural identity. Layout objects are created once per shape and shared
// by every pipeline and bind group that uses the shape. Creation is single
// flighted per key, concurrent misses on unrelated keys build in parallel.
type LayoutInferencer struct {
	dev Device
	log *slog.Logger

	mu      sync.RWMutex
	layouts map[LayoutKey]*CompiledLayout
	merged  map[PipelineLayoutKey]*CompiledPipelineLayout
	flight  singleflight.Group
}

func NewLayoutInferencer(dev Device, log *slog.Logger) *LayoutInferencer {
	return &LayoutInferencer{
		dev:     dev,
		log:     log,
		layouts: map[LayoutKey]*CompiledLayout{},
		merged:  map[PipelineLayoutKey]*CompiledPipelineLayout{},
	}
}

// canonicalize sorts the declarations by slot and collapses identical
// duplicates. Two declarations for the same slot with different shapes are
// a LayoutConflictError.
func canonicalize(decls []BindingDeclaration) ([]BindingDeclaration, error) {
	sorted := slices.Clone(decls)
	slices.SortStableFunc(sorted, func(a, b BindingDeclaration) int {
		return int(a.Slot) - int(b.Slot)
	})

	out := sorted[:0]
	for _, d := range sorted {
		if n := len(out); n > 0 && out[n-1].Slot == d.Slot {
			if out[n-1] != d {
				return nil, &LayoutConflictError{Slot: d.Slot, A: out[n-1], B: d}
			}
			continue
		}

		out = append(out, d)
	}

	return out, nil
}

// CanonicalDeclarations is the validation half of Infer: it canonicalizes
// without creating anything, so recorders can reject conflicting binding
// sets at record time.
func CanonicalDeclarations(decls []BindingDeclaration) ([]BindingDeclaration, error) {
	return canonicalize(decls)
}

func layoutKeyOf(decls []BindingDeclaration) LayoutKey {
	h := newHasher()
	for _, d := range decls {
		d.hash(&h)
	}

	return LayoutKey(h.sum)
}

// Infer canonicalizes the declarations and returns the layout key, creating
// the backend layout on first sight of the shape.
func (li *LayoutInferencer) Infer(decls []BindingDeclaration) (LayoutKey, error) {
	canonical, err := canonicalize(decls)
	if err != nil {
		return 0, err
	}

	key := layoutKeyOf(canonical)

	li.mu.RLock()
	_, ok := li.layouts[key]
	li.mu.RUnlock()

	if ok {
		return key, nil
	}

	// the map lock only guards lookup and insert, the backend call happens
	// inside a per-key flight
	_, err, _ = li.flight.Do(key.String(), func() (any, error) {
		li.mu.RLock()
		_, ok := li.layouts[key]
		li.mu.RUnlock()

		if ok {
			return nil, nil
		}

		entries := make([]wgpu.BindGroupLayoutEntry, len(canonical))
		for idx, d := range canonical {
			entries[idx] = d.layoutEntry()
		}

		layout, err := li.dev.CreateBindGroupLayout(key.String(), entries)
		if err != nil {
			return nil, fmt.Errorf("create bind group layout: %w", err)
		}

		li.log.Debug("inferred bind group layout", slog.String("key", key.String()), slog.Int("bindings", len(canonical)))

		li.mu.Lock()
		li.layouts[key] = &CompiledLayout{
			Key:          key,
			Declarations: slices.Clone(canonical),
			Layout:       layout,
		}
		li.mu.Unlock()

		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	return key, nil
}

// Lookup returns the compiled layout for a key previously returned by Infer.
func (li *LayoutInferencer) Lookup(key LayoutKey) (*CompiledLayout, bool) {
	li.mu.RLock()
	defer li.mu.RUnlock()

	cl, ok := li.layouts[key]
	return cl, ok
}

// Merge combines per-group layout keys into a deduplicated pipeline layout.
// Group order is significant. All keys must come from Infer.
func (li *LayoutInferencer) Merge(groups ...LayoutKey) (PipelineLayoutKey, error) {
	h := newHasher()
	for _, g := range groups {
		h.u64(uint64(g))
	}
	key := PipelineLayoutKey(h.sum)

	li.mu.RLock()
	_, ok := li.merged[key]
	li.mu.RUnlock()

	if ok {
		return key, nil
	}

	_, err, _ := li.flight.Do(key.String(), func() (any, error) {
		li.mu.RLock()
		if _, ok := li.merged[key]; ok {
			li.mu.RUnlock()
			return nil, nil
		}

		compiled := make([]*CompiledLayout, len(groups))
		layouts := make([]BindGroupLayout, len(groups))

		for idx, g := range groups {
			cl, ok := li.layouts[g]
			if !ok {
				li.mu.RUnlock()
				return nil, fmt.Errorf("merge group %d: unknown %v", idx, g)
			}

			compiled[idx] = cl
			layouts[idx] = cl.Layout
		}
		li.mu.RUnlock()

		layout, err := li.dev.CreatePipelineLayout(key.String(), layouts)
		if err != nil {
			return nil, fmt.Errorf("create pipeline layout: %w", err)
		}

		li.log.Debug("merged pipeline layout", slog.String("key", key.String()), slog.Int("groups", len(groups)))

		li.mu.Lock()
		li.merged[key] = &CompiledPipelineLayout{
			Key:    key,
			Groups: compiled,
			Layout: layout,
		}
		li.mu.Unlock()

		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	return key, nil
}

// LookupMerged returns the compiled pipeline layout for a key previously
// returned by Merge.
func (li *LayoutInferencer) LookupMerged(key PipelineLayoutKey) (*CompiledPipelineLayout, bool) {
	li.mu.RLock()
	defer li.mu.RUnlock()

	cpl, ok := li.merged[key]
	return cpl, ok
}

// Release drops all cached layout objects.
func (li *LayoutInferencer) Release() {
	li.mu.Lock()
	defer li.mu.Unlock()

	for _, cpl := range li.merged {
		cpl.Layout.Release()
	}
	for _, cl := range li.layouts {
		cl.Layout.Release()
	}

	li.merged = map[PipelineLayoutKey]*CompiledPipelineLayout{}
	li.layouts = map[LayoutKey]*CompiledLayout{}
}
