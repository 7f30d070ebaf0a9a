// Package lumen is an ergonomics layer over an explicit GPU API. It keeps
// the explicit pipeline and binding model but takes over the bookkeeping
// that model demands: pipeline variants are compiled on demand and cached
// by structural identity, bind group layouts are inferred from the bindings
// in use, and command recording is decoupled from resource lifetime through
// generational handles.
package lumen

import (
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Options tunes a Context. The zero value is usable.
type Options struct {
	// Logger receives debug logging of cache activity. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// PipelineCacheSize bounds the render and compute pipeline caches,
	// DefaultPipelineCacheSize when zero.
	PipelineCacheSize int

	// BindGroupCacheSize bounds the realized bind group cache,
	// DefaultBindGroupCacheSize when zero.
	BindGroupCacheSize int
}

// DefaultBindGroupCacheSize bounds the bind group cache.
const DefaultBindGroupCacheSize = 1024

// Context owns the caches and the registry on top of a Device. A Context is
// safe for concurrent use.
type Context struct {
	Device    Device
	Registry  *Registry
	Layouts   *LayoutInferencer
	Pipelines *PipelineCache

	log        *slog.Logger
	caps       Capabilities
	bindGroups *lru.Cache[uint64, BindGroup]

	submissions atomic.Uint64
	lost        atomic.Bool
}

func NewContext(dev Device, opts Options) *Context {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	bindGroupSize := opts.BindGroupCacheSize
	if bindGroupSize <= 0 {
		bindGroupSize = DefaultBindGroupCacheSize
	}

	bindGroups, err := lru.NewWithEvict(bindGroupSize, func(key uint64, bg BindGroup) {
		bg.Release()
	})
	if err != nil {
		panic(err)
	}

	reg := NewRegistry()
	layouts := NewLayoutInferencer(dev, log)

	return &Context{
		Device:     dev,
		Registry:   reg,
		Layouts:    layouts,
		Pipelines:  NewPipelineCache(dev, layouts, reg, opts.PipelineCacheSize, log),
		log:        log,
		caps:       dev.Capabilities(),
		bindGroups: bindGroups,
	}
}

func (c *Context) Capabilities() Capabilities {
	return c.caps
}

func (c *Context) Logger() *slog.Logger {
	return c.log
}

// NextSubmission hands out monotonically increasing submission ids.
func (c *Context) NextSubmission() uint64 {
	return c.submissions.Add(1)
}

// MarkLost puts the context into the lost state. Every later submission
// fails with ErrDeviceLost.
func (c *Context) MarkLost() {
	if c.lost.CompareAndSwap(false, true) {
		c.log.Error("device lost")
	}
}

func (c *Context) Lost() bool {
	return c.lost.Load()
}

// RealizeBindGroup resolves a binding set against the registry and returns
// a backend bind group for the given layout, reusing a cached one when the
// same resources were bound before.
func (c *Context) RealizeBindGroup(layout *CompiledLayout, bindings []Binding) (BindGroup, error) {
	sorted := slices.Clone(bindings)
	slices.SortStableFunc(sorted, func(a, b Binding) int {
		return int(a.Decl.Slot) - int(b.Decl.Slot)
	})

	h := newHasher()
	h.u64(uint64(layout.Key))

	entries := make([]BindGroupEntry, 0, len(sorted))

	for _, b := range sorted {
		if err := b.validate(); err != nil {
			return nil, err
		}

		entry := BindGroupEntry{Binding: b.Decl.Slot}

		switch {
		case b.Decl.Kind.isBuffer():
			buf, _, err := c.Registry.Buffer(b.Buffer)
			if err != nil {
				return nil, err
			}

			entry.Buffer = buf
			entry.Offset = b.Offset
			entry.Size = b.Size

			h.byte('b')
			h.u32(Handle(b.Buffer).index)
			h.u32(Handle(b.Buffer).generation)
			h.u64(b.Offset)
			h.u64(b.Size)

		case b.Decl.Kind.isSampler():
			s, err := c.Registry.Sampler(b.Sampler)
			if err != nil {
				return nil, err
			}

			entry.Sampler = s

			h.byte('s')
			h.u32(Handle(b.Sampler).index)
			h.u32(Handle(b.Sampler).generation)

		case b.Decl.Kind.isTexture():
			view, _, err := c.Registry.Texture(b.Texture)
			if err != nil {
				return nil, err
			}

			entry.Texture = view

			h.byte('t')
			h.u32(Handle(b.Texture).index)
			h.u32(Handle(b.Texture).generation)
		}

		h.u32(b.Decl.Slot)

		entries = append(entries, entry)
	}

	key := h.sum

	if bg, ok := c.bindGroups.Get(key); ok {
		return bg, nil
	}

	bg, err := c.Device.CreateBindGroup(fmt.Sprintf("bind-group(%016x)", key), layout.Layout, entries)
	if err != nil {
		return nil, fmt.Errorf("create bind group for %v: %w", layout.Key, err)
	}

	c.bindGroups.Add(key, bg)

	return bg, nil
}

// Release drops every cached object the context owns. Registered resources
// stay with their owners.
func (c *Context) Release() {
	c.Pipelines.Release()
	c.bindGroups.Purge()
	c.Layouts.Release()
}
