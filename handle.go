package lumen

import (
	"fmt"
	"sync"
)

// Handle identifies a slot in a Registry arena. A handle stays valid until
// the resource it points to is destroyed. Afterwards the slot may be reused
// for a new resource, but the generation counter makes the old handle
// detectably stale instead of silently aliasing the newcomer.
//
// The zero Handle is never valid.
type Handle struct {
	index      uint32
	generation uint32
}

func (h Handle) Valid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.index, h.generation)
}

// Typed handles for the four resource kinds a Registry tracks. The distinct
// types keep a buffer handle from being passed where a texture is expected.
type (
	BufferHandle  Handle
	TextureHandle Handle
	SamplerHandle Handle
	ShaderHandle  Handle
)

func (h BufferHandle) Valid() bool  { return Handle(h).Valid() }
func (h TextureHandle) Valid() bool { return Handle(h).Valid() }
func (h SamplerHandle) Valid() bool { return Handle(h).Valid() }
func (h ShaderHandle) Valid() bool  { return Handle(h).Valid() }

func (h BufferHandle) String() string  { return "buffer " + Handle(h).String() }
func (h TextureHandle) String() string { return "texture " + Handle(h).String() }
func (h SamplerHandle) String() string { return "sampler " + Handle(h).String() }
func (h ShaderHandle) String() string  { return "shader " + Handle(h).String() }

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// arena is a generational slot map. Destroying an entry bumps the slot
// generation, so handles minted before the destroy no longer resolve even
// if the slot is handed out again.
type arena[T any] struct {
	mu    sync.RWMutex
	slots []arenaSlot[T]
	free  []uint32
}

func (a *arena[T]) insert(value T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]

		slot := &a.slots[index]
		slot.value = value
		slot.live = true

		return Handle{index: index, generation: slot.generation}
	}

	a.slots = append(a.slots, arenaSlot[T]{value: value, generation: 1, live: true})

	return Handle{index: uint32(len(a.slots) - 1), generation: 1}
}

func (a *arena[T]) get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if int(h.index) >= len(a.slots) {
		var zero T
		return zero, false
	}

	slot := &a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		var zero T
		return zero, false
	}

	return slot.value, true
}

func (a *arena[T]) remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		var zero T
		return zero, false
	}

	slot := &a.slots[h.index]
	if !slot.live || slot.generation != h.generation {
		var zero T
		return zero, false
	}

	value := slot.value

	var zero T
	slot.value = zero
	slot.live = false
	slot.generation++
	a.free = append(a.free, h.index)

	return value, true
}

// drain removes every live entry, invalidating all outstanding handles.
func (a *arena[T]) drain(release func(T)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for index := range a.slots {
		slot := &a.slots[index]
		if !slot.live {
			continue
		}

		release(slot.value)

		var zero T
		slot.value = zero
		slot.live = false
		slot.generation++
		a.free = append(a.free, uint32(index))
	}
}

func (a *arena[T]) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return len(a.slots) - len(a.free)
}
