package lumen_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
	"github.com/oliverbestmann/lumen/nullgpu"
	"github.com/stretchr/testify/assert"
)

type pipelineFixture struct {
	ctx    *lumen.Context
	dev    *nullgpu.Device
	layout lumen.PipelineLayoutKey
	shader lumen.ShaderHandle
}

func setupPipelines(t *testing.T, caps lumen.Capabilities) pipelineFixture {
	t.Helper()

	ctx, dev := newTestContext(caps)

	g0, err := ctx.Layouts.Infer([]lumen.BindingDeclaration{uniformDecl(0)})
	assert.NoError(t, err)

	layout, err := ctx.Layouts.Merge(g0)
	assert.NoError(t, err)

	shader := ctx.Registry.RegisterShader(dev.NewShader("test-shader"))

	return pipelineFixture{ctx: ctx, dev: dev, layout: layout, shader: shader}
}

func (f pipelineFixture) renderDesc(label string) *lumen.RenderPipelineDescriptor {
	return &lumen.RenderPipelineDescriptor{
		Label:  label,
		Layout: f.layout,
		Vertex: lumen.VertexStage{
			Module:     f.shader,
			EntryPoint: "vs_main",
			Buffers: []lumen.VertexBufferLayout{{
				ArrayStride: 16,
				StepMode:    wgpu.VertexStepModeVertex,
				Attributes: []wgpu.VertexAttribute{{
					Format:         wgpu.VertexFormatFloat32x4,
					Offset:         0,
					ShaderLocation: 0,
				}},
			}},
		},
		Fragment: &lumen.FragmentStage{
			Module:     f.shader,
			EntryPoint: "fs_main",
		},
	}
}

var testTarget = lumen.TargetProfile{
	Colors:  []wgpu.TextureFormat{wgpu.TextureFormatBGRA8Unorm},
	Samples: 1,
}

func TestResolveRenderCaches(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	a, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.NoError(t, err)

	b, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, f.dev.Stats().RenderPipelines)

	stats := f.ctx.Pipelines.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Compiles)
}

func TestResolveRenderTargetProfileKeyed(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	a, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.NoError(t, err)

	other := lumen.TargetProfile{
		Colors:  []wgpu.TextureFormat{wgpu.TextureFormatRGBA16Float},
		Samples: 1,
	}

	b, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, other, lumen.DynamicState{})
	assert.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, f.dev.Stats().RenderPipelines)
}

func TestDynamicStateNotKeyedWhenSupported(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	a, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{
		Set:           lumen.DynamicBlendConstant,
		BlendConstant: wgpu.Color{R: 1},
	})
	assert.NoError(t, err)
	assert.Nil(t, a.Baked)

	b, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{
		Set:           lumen.DynamicBlendConstant,
		BlendConstant: wgpu.Color{B: 1},
	})
	assert.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, f.dev.Stats().RenderPipelines)
}

func TestDynamicStateBakedWhenUnsupported(t *testing.T) {
	f := setupPipelines(t, lumen.NoDynamic)

	a, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{
		Set:           lumen.DynamicBlendConstant,
		BlendConstant: wgpu.Color{R: 1},
	})
	assert.NoError(t, err)
	assert.NotNil(t, a.Baked)
	assert.Equal(t, wgpu.Color{R: 1}, a.Baked.BlendConstant)

	b, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{
		Set:           lumen.DynamicBlendConstant,
		BlendConstant: wgpu.Color{B: 1},
	})
	assert.NoError(t, err)

	// one variant per blend constant on a device without dynamic support
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, f.dev.Stats().RenderPipelines)

	// the same constant hits the cached variant again
	c, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{
		Set:           lumen.DynamicBlendConstant,
		BlendConstant: wgpu.Color{R: 1},
	})
	assert.NoError(t, err)
	assert.Same(t, a, c)
}

func TestResolveConcurrentSingleCompile(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	// slow the build down so the resolves actually overlap
	f.dev.FailCompile = func(string) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.dev.Stats().RenderPipelines)
}

func TestCompileFailureNotCached(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	boom := errors.New("shader does not link")
	f.dev.FailCompile = func(string) error { return boom }

	_, err := f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.Error(t, err)

	var compileErr *lumen.CompileError
	assert.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "p", compileErr.Label)
	assert.ErrorIs(t, err, boom)

	// the failure is not sticky
	f.dev.FailCompile = nil

	_, err = f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.NoError(t, err)
}

func TestResolveDanglingShader(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	_, err := f.ctx.Registry.DestroyShader(f.shader)
	assert.NoError(t, err)

	_, err = f.ctx.Pipelines.ResolveRender(f.renderDesc("p"), f.layout, testTarget, lumen.DynamicState{})
	assert.ErrorIs(t, err, lumen.ErrDanglingHandle)
}

func TestResolveCompute(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	desc := &lumen.ComputePipelineDescriptor{
		Label:      "step",
		Layout:     f.layout,
		Module:     f.shader,
		EntryPoint: "main",
	}

	a, err := f.ctx.Pipelines.ResolveCompute(desc, f.layout)
	assert.NoError(t, err)

	b, err := f.ctx.Pipelines.ResolveCompute(desc, f.layout)
	assert.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, f.dev.Stats().ComputePipelines)
}

func TestTargetCountMismatch(t *testing.T) {
	f := setupPipelines(t, lumen.AllDynamic)

	desc := f.renderDesc("p")
	desc.Fragment.Targets = []lumen.ColorTarget{{}, {}}

	_, err := f.ctx.Pipelines.ResolveRender(desc, f.layout, testTarget, lumen.DynamicState{})
	assert.Error(t, err)
}
