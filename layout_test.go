package lumen_test

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
	"github.com/oliverbestmann/lumen/nullgpu"
	"github.com/stretchr/testify/assert"
)

func newTestContext(caps lumen.Capabilities) (*lumen.Context, *nullgpu.Device) {
	dev := nullgpu.New(caps)

	ctx := lumen.NewContext(dev, lumen.Options{
		Logger: slog.New(slog.DiscardHandler),
	})

	return ctx, dev
}

func uniformDecl(slot uint32) lumen.BindingDeclaration {
	return lumen.BindingDeclaration{
		Slot:       slot,
		Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
		Kind:       lumen.BindingUniformBuffer,
	}
}

func textureDecl(slot uint32) lumen.BindingDeclaration {
	return lumen.BindingDeclaration{
		Slot:          slot,
		Visibility:    wgpu.ShaderStageFragment,
		Kind:          lumen.BindingTexture,
		SampleType:    wgpu.TextureSampleTypeFloat,
		ViewDimension: wgpu.TextureViewDimension2D,
	}
}

func TestInferOrderIndependent(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	a, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0), textureDecl(1)})
	assert.NoError(t, err)

	b, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{textureDecl(1), uniformDecl(0)})
	assert.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, dev.Stats().BindGroupLayouts)
}

func TestInferDeduplicatesIdenticalSlots(t *testing.T) {
	ctx, _ := newTestContext(lumen.AllDynamic)

	key, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0), uniformDecl(0), textureDecl(1)})
	assert.NoError(t, err)

	layout, ok := ctx.Layouts.Lookup(key)
	assert.True(t, ok)
	assert.Len(t, layout.Declarations, 2)
}

func TestInferConflictingSlot(t *testing.T) {
	ctx, _ := newTestContext(lumen.AllDynamic)

	conflicting := textureDecl(0)

	_, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0), conflicting})
	assert.Error(t, err)

	var conflict *lumen.LayoutConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint32(0), conflict.Slot)
}

func TestInferDistinctShapesDistinctKeys(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	a, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0)})
	assert.NoError(t, err)

	b, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(1)})
	assert.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, dev.Stats().BindGroupLayouts)
}

func TestInferConcurrentCreatesOnce(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0), textureDecl(1)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dev.Stats().BindGroupLayouts)
}

func TestMergeConcurrentCreatesOnce(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	g0, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0)})
	assert.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := ctx.Layouts.Merge(g0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, dev.Stats().PipelineLayouts)
}

func TestMergeDeduplicates(t *testing.T) {
	ctx, dev := newTestContext(lumen.AllDynamic)

	g0, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0)})
	assert.NoError(t, err)

	g1, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{textureDecl(0)})
	assert.NoError(t, err)

	a, err := ctx.Layouts.Merge(g0, g1)
	assert.NoError(t, err)

	b, err := ctx.Layouts.Merge(g0, g1)
	assert.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, dev.Stats().PipelineLayouts)

	// group order matters
	c, err := ctx.Layouts.Merge(g1, g0)
	assert.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMergeUnknownKey(t *testing.T) {
	ctx, _ := newTestContext(lumen.AllDynamic)

	_, err := ctx.Layouts.Merge(lumen.LayoutKey(12345))
	assert.Error(t, err)
}

func TestMergeEmpty(t *testing.T) {
	ctx, _ := newTestContext(lumen.AllDynamic)

	key, err := ctx.Layouts.Merge()
	assert.NoError(t, err)
	assert.NotZero(t, key)

	merged, ok := ctx.Layouts.LookupMerged(key)
	assert.True(t, ok)
	assert.Empty(t, merged.Groups)
}
