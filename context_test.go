package lumen_test

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
	"github.com/stretchr/testify/assert"
)

func TestRealizeBindGroupReusesCached(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	buf := ctx.Registry.RegisterBuffer(dev.NewBuffer("uniforms"), lumen.BufferInfo{Size: 64})
	bindings := []lumen.Binding{lumen.UniformBinding(0, wgpu.ShaderStageVertex, buf)}

	key, err := ctx.Layouts.Infer(lumen.Declarations(bindings))
	assert.NoError(t, err)

	layout, ok := ctx.Layouts.Lookup(key)
	assert.True(t, ok)

	a, err := ctx.RealizeBindGroup(layout, bindings)
	assert.NoError(t, err)

	b, err := ctx.RealizeBindGroup(layout, bindings)
	assert.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, dev.Stats().BindGroups)
}

func TestRealizeBindGroupNewResourceNewGroup(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	bufA := ctx.Registry.RegisterBuffer(dev.NewBuffer("a"), lumen.BufferInfo{Size: 64})
	bufB := ctx.Registry.RegisterBuffer(dev.NewBuffer("b"), lumen.BufferInfo{Size: 64})

	bindingsA := []lumen.Binding{lumen.UniformBinding(0, wgpu.ShaderStageVertex, bufA)}
	bindingsB := []lumen.Binding{lumen.UniformBinding(0, wgpu.ShaderStageVertex, bufB)}

	key, err := ctx.Layouts.Infer(lumen.Declarations(bindingsA))
	assert.NoError(t, err)
	layout, _ := ctx.Layouts.Lookup(key)

	a, err := ctx.RealizeBindGroup(layout, bindingsA)
	assert.NoError(t, err)

	b, err := ctx.RealizeBindGroup(layout, bindingsB)
	assert.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, dev.Stats().BindGroups)
}

func TestRealizeBindGroupDangling(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	buf := ctx.Registry.RegisterBuffer(dev.NewBuffer("gone"), lumen.BufferInfo{Size: 64})
	bindings := []lumen.Binding{lumen.UniformBinding(0, wgpu.ShaderStageVertex, buf)}

	key, err := ctx.Layouts.Infer(lumen.Declarations(bindings))
	assert.NoError(t, err)
	layout, _ := ctx.Layouts.Lookup(key)

	_, err = ctx.Registry.DestroyBuffer(buf)
	assert.NoError(t, err)

	_, err = ctx.RealizeBindGroup(layout, bindings)
	assert.ErrorIs(t, err, lumen.ErrDanglingHandle)
}

func TestRealizeBindGroupWrongResourceKind(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	// a uniform declaration with no buffer behind it
	binding := lumen.Binding{Decl: lumen.BindingDeclaration{
		Slot:       0,
		Visibility: wgpu.ShaderStageVertex,
		Kind:       lumen.BindingUniformBuffer,
	}}

	key, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{binding.Decl})
	assert.NoError(t, err)
	layout, _ := ctx.Layouts.Lookup(key)

	_, err = ctx.RealizeBindGroup(layout, []lumen.Binding{binding})
	assert.Error(t, err)
	assert.Equal(t, 0, dev.Stats().BindGroups)
}

func TestContextMarkLost(t *testing.T) {
	ctx, _ := newTestContext(lumen.AllDynamic)

	assert.False(t, ctx.Lost())
	ctx.MarkLost()
	assert.True(t, ctx.Lost())
}
