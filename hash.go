package lumen

import "math"

// FNV-1a, written out by hand so descriptors can be hashed field by field
// without reflection or intermediate buffers.

const (
	fnvOffset = 14695981039346656037
	fnvPrime  = 1099511628211
)

type hasher struct {
	sum uint64
}

func newHasher() hasher {
	return hasher{sum: fnvOffset}
}

func (h *hasher) byte(b byte) {
	h.sum = (h.sum ^ uint64(b)) * fnvPrime
}

func (h *hasher) u32(v uint32) {
	h.byte(byte(v))
	h.byte(byte(v >> 8))
	h.byte(byte(v >> 16))
	h.byte(byte(v >> 24))
}

func (h *hasher) u64(v uint64) {
	h.u32(uint32(v))
	h.u32(uint32(v >> 32))
}

func (h *hasher) bool(v bool) {
	if v {
		h.byte(1)
	} else {
		h.byte(0)
	}
}

func (h *hasher) f32(v float32) {
	h.u32(math.Float32bits(v))
}

func (h *hasher) f64(v float64) {
	h.u64(math.Float64bits(v))
}

func (h *hasher) str(s string) {
	for i := 0; i < len(s); i++ {
		h.byte(s[i])
	}

	// length terminates the field, otherwise "ab"+"c" == "a"+"bc"
	h.u32(uint32(len(s)))
}
