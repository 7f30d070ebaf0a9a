package lumen

import (
	"errors"
	"fmt"
)

var (
	// ErrDanglingHandle indicates that a handle referenced a resource slot
	// whose generation no longer matches, i.e. the resource was destroyed
	// (and possibly replaced) after the handle was obtained.
	ErrDanglingHandle = errors.New("dangling resource handle")

	// ErrDeviceLost indicates that the underlying device is gone. Every
	// operation that touches the device fails with this error afterwards.
	ErrDeviceLost = errors.New("device lost")

	// ErrPassClosed indicates that commands were appended to a pass that
	// was already ended, or that an ended pass was submitted twice.
	ErrPassClosed = errors.New("pass is closed")
)

// LayoutConflictError reports two binding declarations that claim the same
// (group, slot) with incompatible shapes.
type LayoutConflictError struct {
	Group uint32
	Slot  uint32
	A, B  BindingDeclaration
}

func (e *LayoutConflictError) Error() string {
	return fmt.Sprintf("conflicting declarations for binding %d.%d: %v vs %v",
		e.Group, e.Slot, e.A, e.B)
}

// MissingBindingError reports a draw or dispatch that was replayed while a
// bind group or vertex buffer slot required by the current pipeline was
// never set on the pass.
type MissingBindingError struct {
	Pass       string
	Group      int // -1 if the missing slot is a vertex buffer
	VertexSlot int // -1 if the missing slot is a bind group
}

func (e *MissingBindingError) Error() string {
	if e.Group >= 0 {
		return fmt.Sprintf("pass %q: draw requires bind group %d which was never set", e.Pass, e.Group)
	}

	return fmt.Sprintf("pass %q: draw requires vertex buffer in slot %d which was never set", e.Pass, e.VertexSlot)
}

// LayoutMismatchError reports a bind group whose layout key differs from the
// one the current pipeline expects at that group index.
type LayoutMismatchError struct {
	Pass  string
	Group uint32
	Want  LayoutKey
	Got   LayoutKey
}

func (e *LayoutMismatchError) Error() string {
	return fmt.Sprintf("pass %q: bind group %d has layout %v, pipeline expects %v",
		e.Pass, e.Group, e.Got, e.Want)
}

// CompileError wraps a pipeline compilation failure with the label of the
// descriptor that failed. The same error instance is returned to every
// caller that waited on the failed compilation.
type CompileError struct {
	Label string
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile pipeline %q: %s", e.Label, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}
