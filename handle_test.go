package lumen

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
)

type fakeResource struct{ name string }

func (fakeResource) Release() {}

func TestArenaInsertGet(t *testing.T) {
	var a arena[string]

	h1 := a.insert("one")
	h2 := a.insert("two")

	assert.True(t, h1.Valid())
	assert.NotEqual(t, h1, h2)

	v, ok := a.get(h1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	v, ok = a.get(h2)
	assert.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestArenaRemoveInvalidates(t *testing.T) {
	var a arena[string]

	h := a.insert("gone")

	v, ok := a.remove(h)
	assert.True(t, ok)
	assert.Equal(t, "gone", v)

	_, ok = a.get(h)
	assert.False(t, ok)

	_, ok = a.remove(h)
	assert.False(t, ok)
}

func TestArenaReusedSlotGetsNewGeneration(t *testing.T) {
	var a arena[string]

	old := a.insert("old")
	a.remove(old)

	fresh := a.insert("fresh")

	// same slot, different generation
	assert.Equal(t, old.index, fresh.index)
	assert.NotEqual(t, old.generation, fresh.generation)

	_, ok := a.get(old)
	assert.False(t, ok)

	v, ok := a.get(fresh)
	assert.True(t, ok)
	assert.Equal(t, "fresh", v)
}

func TestZeroHandleInvalid(t *testing.T) {
	var a arena[string]
	a.insert("something")

	var zero Handle
	assert.False(t, zero.Valid())

	_, ok := a.get(zero)
	assert.False(t, ok)
}

func TestRegistryResolveAndDestroy(t *testing.T) {
	reg := NewRegistry()

	h := reg.RegisterBuffer(fakeResource{name: "vertices"}, BufferInfo{Size: 256, Usage: wgpu.BufferUsageVertex})

	buf, info, err := reg.Buffer(h)
	assert.NoError(t, err)
	assert.Equal(t, fakeResource{name: "vertices"}, buf)
	assert.Equal(t, uint64(256), info.Size)

	released, err := reg.DestroyBuffer(h)
	assert.NoError(t, err)
	assert.Equal(t, fakeResource{name: "vertices"}, released)

	_, _, err = reg.Buffer(h)
	assert.ErrorIs(t, err, ErrDanglingHandle)

	_, err = reg.DestroyBuffer(h)
	assert.ErrorIs(t, err, ErrDanglingHandle)
}

func TestRegistryStaleHandleAfterSlotReuse(t *testing.T) {
	reg := NewRegistry()

	stale := reg.RegisterBuffer(fakeResource{name: "a"}, BufferInfo{})
	_, err := reg.DestroyBuffer(stale)
	assert.NoError(t, err)

	// the slot is reused, the old handle must not alias the new buffer
	fresh := reg.RegisterBuffer(fakeResource{name: "b"}, BufferInfo{})

	_, _, err = reg.Buffer(stale)
	assert.ErrorIs(t, err, ErrDanglingHandle)

	buf, _, err := reg.Buffer(fresh)
	assert.NoError(t, err)
	assert.Equal(t, fakeResource{name: "b"}, buf)
}

type countingResource struct{ released *int }

func (r countingResource) Release() { *r.released++ }

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry()

	var released int
	buf := reg.RegisterBuffer(countingResource{&released}, BufferInfo{})
	tex := reg.RegisterTexture(countingResource{&released}, TextureInfo{})
	reg.RegisterSampler(countingResource{&released})
	reg.RegisterShader(countingResource{&released})

	reg.Close()

	assert.Equal(t, 4, released)
	assert.Equal(t, 0, reg.Len())

	_, _, err := reg.Buffer(buf)
	assert.ErrorIs(t, err, ErrDanglingHandle)

	_, _, err = reg.Texture(tex)
	assert.ErrorIs(t, err, ErrDanglingHandle)
}

func TestRegistryLen(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Len())

	b := reg.RegisterBuffer(fakeResource{}, BufferInfo{})
	reg.RegisterSampler(fakeResource{})
	assert.Equal(t, 2, reg.Len())

	_, err := reg.DestroyBuffer(b)
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}
