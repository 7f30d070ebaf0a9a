package record

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

// boundGroup is a bind group realized during resolution, together with the
// inferred layout key it was realized under.
type boundGroup struct {
	key lumen.LayoutKey
	bg  lumen.BindGroup
}

// reservedPipeline claims the op slot of a recorded SetPipeline. The
// pipeline itself only resolves at the first draw that follows, once the
// bound groups and the dynamic state in effect are known, and is patched
// back into the slot so the replayed sequence keeps the recorded order. A
// slot that never resolves, or whose pipeline is already set, replays as a
// no-op.
type reservedPipeline[T any] struct {
	pipeline T
	resolved bool
}

// resolveAttachments turns the recorded targets into a backend pass spec
// plus the target profile pipelines resolve against.
func resolveAttachments(ctx *lumen.Context, p *RenderPass) (*lumen.RenderPassSpec, lumen.TargetProfile, error) {
	spec := &lumen.RenderPassSpec{Label: p.label}

	var target lumen.TargetProfile
	var samples uint32

	for idx, ct := range p.targets.Colors {
		view, info, err := ctx.Registry.Texture(ct.Texture)
		if err != nil {
			return nil, target, fmt.Errorf("color attachment %d: %w", idx, err)
		}

		att := lumen.ColorAttachment{
			View:    view,
			LoadOp:  ct.Load,
			StoreOp: ct.Store,
			Clear:   ct.Clear,
		}

		if att.LoadOp == wgpu.LoadOpUndefined {
			att.LoadOp = wgpu.LoadOpClear
		}
		if att.StoreOp == wgpu.StoreOpUndefined {
			att.StoreOp = wgpu.StoreOpStore
		}

		if ct.Resolve.Valid() {
			resolve, _, err := ctx.Registry.Texture(ct.Resolve)
			if err != nil {
				return nil, target, fmt.Errorf("resolve attachment %d: %w", idx, err)
			}
			att.Resolve = resolve
		}

		if samples == 0 {
			samples = info.Samples()
		} else if samples != info.Samples() {
			return nil, target, fmt.Errorf("attachment %d has %d samples, pass has %d", idx, info.Samples(), samples)
		}

		spec.Colors = append(spec.Colors, att)
		target.Colors = append(target.Colors, info.Format)
	}

	if dt := p.targets.Depth; dt != nil {
		view, info, err := ctx.Registry.Texture(dt.Texture)
		if err != nil {
			return nil, target, fmt.Errorf("depth attachment: %w", err)
		}

		att := &lumen.DepthStencilAttachment{
			View:       view,
			LoadOp:     dt.Load,
			StoreOp:    dt.Store,
			ClearDepth: dt.Clear,
		}

		if att.LoadOp == wgpu.LoadOpUndefined {
			att.LoadOp = wgpu.LoadOpClear
		}
		if att.StoreOp == wgpu.StoreOpUndefined {
			att.StoreOp = wgpu.StoreOpStore
		}
		if att.LoadOp == wgpu.LoadOpClear && att.ClearDepth == 0 {
			att.ClearDepth = 1
		}

		if samples == 0 {
			samples = info.Samples()
		} else if samples != info.Samples() {
			return nil, target, fmt.Errorf("depth attachment has %d samples, pass has %d", info.Samples(), samples)
		}

		spec.DepthStencil = att
		target.Depth = info.Format
	}

	if len(spec.Colors) == 0 && spec.DepthStencil == nil {
		return nil, target, errors.New("render pass has no attachments")
	}

	target.Samples = samples

	return spec, target, nil
}

// inferredLayout merges the layouts of the currently bound groups. Groups
// must be contiguous from zero.
func inferredLayout(ctx *lumen.Context, label string, groups map[uint32]*boundGroup) (lumen.PipelineLayoutKey, error) {
	maxGroup := -1
	for g := range groups {
		if int(g) > maxGroup {
			maxGroup = int(g)
		}
	}

	keys := make([]lumen.LayoutKey, maxGroup+1)
	for idx := 0; idx <= maxGroup; idx++ {
		bound, ok := groups[uint32(idx)]
		if !ok {
			return 0, &lumen.MissingBindingError{Pass: label, Group: idx, VertexSlot: -1}
		}

		keys[idx] = bound.key
	}

	return ctx.Layouts.Merge(keys...)
}

// pinnedLayout validates the bound groups against a layout the descriptor
// pinned explicitly.
func pinnedLayout(ctx *lumen.Context, label string, key lumen.PipelineLayoutKey, groups map[uint32]*boundGroup) error {
	merged, ok := ctx.Layouts.LookupMerged(key)
	if !ok {
		return fmt.Errorf("unknown %v, merge the group layouts first", key)
	}

	for idx, g := range merged.Groups {
		bound, ok := groups[uint32(idx)]
		if !ok {
			return &lumen.MissingBindingError{Pass: label, Group: idx, VertexSlot: -1}
		}

		if bound.key != g.Key {
			return &lumen.LayoutMismatchError{Pass: label, Group: uint32(idx), Want: g.Key, Got: bound.key}
		}
	}

	return nil
}

func realizeGroup(ctx *lumen.Context, label string, cmd BindGroup) (*boundGroup, error) {
	key, err := ctx.Layouts.Infer(lumen.Declarations(cmd.Bindings))
	if err != nil {
		return nil, fmt.Errorf("pass %q bind group %d: %w", label, cmd.Group, err)
	}

	layout, _ := ctx.Layouts.Lookup(key)

	bg, err := ctx.RealizeBindGroup(layout, cmd.Bindings)
	if err != nil {
		return nil, fmt.Errorf("pass %q bind group %d: %w", label, cmd.Group, err)
	}

	return &boundGroup{key: key, bg: bg}, nil
}

func applyDynamic(enc lumen.RenderPassEncoder, st lumen.DynamicState, mask lumen.DynamicFeature) {
	if mask&lumen.DynamicBlendConstant != 0 {
		enc.SetBlendConstant(st.BlendConstant)
	}
	if mask&lumen.DynamicStencilReference != 0 {
		enc.SetStencilReference(st.StencilReference)
	}
	if mask&lumen.DynamicViewport != 0 {
		v := st.Viewport
		enc.SetViewport(v.X, v.Y, v.Width, v.Height, v.MinDepth, v.MaxDepth)
	}
	if mask&lumen.DynamicScissor != 0 {
		s := st.Scissor
		enc.SetScissorRect(s.X, s.Y, s.W, s.H)
	}
}

// resolveRenderPass walks the recorded commands and turns them into backend
// operations. Everything that can fail, fails here, before a single
// operation reaches the encoder: pipelines are compiled against the pass
// attachments and the dynamic state in effect, bind groups are realized and
// checked against the pipeline layout, handles are resolved. The returned
// step only replays.
func resolveRenderPass(ctx *lumen.Context, p *RenderPass) (encodeStep, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.state != stateClosed {
		return nil, fmt.Errorf("pass %q: submitted while still recording", p.label)
	}

	spec, target, err := resolveAttachments(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("pass %q: %w", p.label, err)
	}

	caps := ctx.Capabilities()

	var (
		curDesc *lumen.RenderPipelineDescriptor
		current *lumen.CompiledRenderPipeline
		lastSet *lumen.CompiledRenderPipeline
		pending *reservedPipeline[lumen.RenderPipeline]
		dyn     lumen.DynamicState

		groups   = map[uint32]*boundGroup{}
		vertex   = map[uint32]bool{}
		hasIndex bool

		ops []func(lumen.RenderPassEncoder)
	)

	ensurePipeline := func() error {
		if curDesc == nil {
			return fmt.Errorf("pass %q: draw without a pipeline", p.label)
		}
		if current != nil {
			return nil
		}

		layoutKey := curDesc.Layout
		if layoutKey != 0 {
			if err := pinnedLayout(ctx, p.label, layoutKey, groups); err != nil {
				return err
			}
		} else {
			var err error
			if layoutKey, err = inferredLayout(ctx, p.label, groups); err != nil {
				return err
			}
		}

		pl, err := ctx.Pipelines.ResolveRender(curDesc, layoutKey, target, dyn)
		if err != nil {
			return err
		}

		current = pl

		if pl != lastSet {
			lastSet = pl
			pipeline := pl.Pipeline

			if pending != nil {
				pending.pipeline = pipeline
				pending.resolved = true
			} else {
				// a variant resolved after the recorded slot was filled,
				// set it at the draw site
				ops = append(ops, func(enc lumen.RenderPassEncoder) {
					enc.SetPipeline(pipeline)
				})
			}
		}

		pending = nil

		return nil
	}

	checkDraw := func() error {
		for slot := range curDesc.Vertex.Buffers {
			if !vertex[uint32(slot)] {
				return &lumen.MissingBindingError{Pass: p.label, Group: -1, VertexSlot: slot}
			}
		}

		return nil
	}

	for _, cmd := range p.commands {
		switch c := cmd.(type) {
		case SetRenderPipeline:
			curDesc = c.Desc
			current = nil

			slot := &reservedPipeline[lumen.RenderPipeline]{}
			pending = slot
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				if slot.resolved {
					enc.SetPipeline(slot.pipeline)
				}
			})

		case BindGroup:
			bound, err := realizeGroup(ctx, p.label, c)
			if err != nil {
				return nil, err
			}

			groups[c.Group] = bound
			// the layout inferred at the next draw may change
			current = nil

			group, bg := c.Group, bound.bg
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				enc.SetBindGroup(group, bg, nil)
			})

		case SetVertexBuffer:
			buf, _, err := ctx.Registry.Buffer(c.Buffer)
			if err != nil {
				return nil, fmt.Errorf("pass %q vertex buffer %d: %w", p.label, c.Slot, err)
			}

			vertex[c.Slot] = true

			slot, offset := c.Slot, c.Offset
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				enc.SetVertexBuffer(slot, buf, offset)
			})

		case SetIndexBuffer:
			buf, _, err := ctx.Registry.Buffer(c.Buffer)
			if err != nil {
				return nil, fmt.Errorf("pass %q index buffer: %w", p.label, err)
			}

			hasIndex = true

			format, offset := c.Format, c.Offset
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				enc.SetIndexBuffer(buf, format, offset)
			})

		case SetDynamicState:
			dyn = dyn.Merge(c.State)

			// apply what the device supports right away, state the
			// device cannot set dynamically folds into the pipeline of
			// the following draws
			if supported := c.State.Set & caps.Dynamic; supported != 0 {
				st := c.State
				ops = append(ops, func(enc lumen.RenderPassEncoder) {
					applyDynamic(enc, st, supported)
				})
			}

			if c.State.Set&^caps.Dynamic != 0 {
				current = nil
			}

		case Draw:
			if err := ensurePipeline(); err != nil {
				return nil, err
			}
			if err := checkDraw(); err != nil {
				return nil, err
			}

			draw := c
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				enc.Draw(draw.VertexCount, draw.InstanceCount, draw.FirstVertex, draw.FirstInstance)
			})

		case DrawIndexed:
			if err := ensurePipeline(); err != nil {
				return nil, err
			}
			if err := checkDraw(); err != nil {
				return nil, err
			}
			if !hasIndex {
				return nil, fmt.Errorf("pass %q: indexed draw without an index buffer", p.label)
			}

			draw := c
			ops = append(ops, func(enc lumen.RenderPassEncoder) {
				enc.DrawIndexed(draw.IndexCount, draw.InstanceCount, draw.FirstIndex, draw.BaseVertex, draw.FirstInstance)
			})

		default:
			return nil, fmt.Errorf("pass %q: unexpected %v in render pass", p.label, cmd.Type())
		}
	}

	return func(enc lumen.CommandEncoder) {
		rp := enc.BeginRenderPass(spec)
		for _, op := range ops {
			op(rp)
		}
		rp.End()
	}, nil
}

func resolveComputePass(ctx *lumen.Context, p *ComputePass) (encodeStep, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.state != stateClosed {
		return nil, fmt.Errorf("pass %q: submitted while still recording", p.label)
	}

	var (
		curDesc *lumen.ComputePipelineDescriptor
		current *lumen.CompiledComputePipeline
		lastSet *lumen.CompiledComputePipeline
		pending *reservedPipeline[lumen.ComputePipeline]

		groups = map[uint32]*boundGroup{}

		ops []func(lumen.ComputePassEncoder)
	)

	ensurePipeline := func() error {
		if curDesc == nil {
			return fmt.Errorf("pass %q: dispatch without a pipeline", p.label)
		}
		if current != nil {
			return nil
		}

		layoutKey := curDesc.Layout
		if layoutKey != 0 {
			if err := pinnedLayout(ctx, p.label, layoutKey, groups); err != nil {
				return err
			}
		} else {
			var err error
			if layoutKey, err = inferredLayout(ctx, p.label, groups); err != nil {
				return err
			}
		}

		pl, err := ctx.Pipelines.ResolveCompute(curDesc, layoutKey)
		if err != nil {
			return err
		}

		current = pl

		if pl != lastSet {
			lastSet = pl
			pipeline := pl.Pipeline

			if pending != nil {
				pending.pipeline = pipeline
				pending.resolved = true
			} else {
				ops = append(ops, func(enc lumen.ComputePassEncoder) {
					enc.SetPipeline(pipeline)
				})
			}
		}

		pending = nil

		return nil
	}

	for _, cmd := range p.commands {
		switch c := cmd.(type) {
		case SetComputePipeline:
			curDesc = c.Desc
			current = nil

			slot := &reservedPipeline[lumen.ComputePipeline]{}
			pending = slot
			ops = append(ops, func(enc lumen.ComputePassEncoder) {
				if slot.resolved {
					enc.SetPipeline(slot.pipeline)
				}
			})

		case BindGroup:
			bound, err := realizeGroup(ctx, p.label, c)
			if err != nil {
				return nil, err
			}

			groups[c.Group] = bound
			current = nil

			group, bg := c.Group, bound.bg
			ops = append(ops, func(enc lumen.ComputePassEncoder) {
				enc.SetBindGroup(group, bg, nil)
			})

		case Dispatch:
			if err := ensurePipeline(); err != nil {
				return nil, err
			}

			dispatch := c
			ops = append(ops, func(enc lumen.ComputePassEncoder) {
				enc.DispatchWorkgroups(dispatch.X, dispatch.Y, dispatch.Z)
			})

		default:
			return nil, fmt.Errorf("pass %q: unexpected %v in compute pass", p.label, cmd.Type())
		}
	}

	return func(enc lumen.CommandEncoder) {
		cp := enc.BeginComputePass(p.label)
		for _, op := range ops {
			op(cp)
		}
		cp.End()
	}, nil
}
