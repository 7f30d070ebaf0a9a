package record

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/oliverbestmann/lumen"
)

// PassError locates one excluded pass inside a submitted frame.
type PassError struct {
	Index int
	Label string
	Err   error
}

// Token is the per-frame result. A token with failures means the frame was
// submitted without the failing passes, everything else ran.
type Token struct {
	Submission uint64
	Frame      string

	failures []PassError
}

func (t *Token) Ok() bool {
	return len(t.failures) == 0
}

func (t *Token) Failures() []PassError {
	return t.failures
}

// Err joins the pass errors, nil when every pass made it in.
func (t *Token) Err() error {
	if len(t.failures) == 0 {
		return nil
	}

	errs := make([]error, len(t.failures))
	for idx, f := range t.failures {
		errs[idx] = fmt.Errorf("pass %d (%q): %w", f.Index, f.Label, f.Err)
	}

	return errors.Join(errs...)
}

type frameItem interface {
	itemLabel() string
}

func (p *RenderPass) itemLabel() string  { return p.label }
func (p *ComputePass) itemLabel() string { return p.label }

type copyBufferToBuffer struct {
	src, dst             lumen.BufferHandle
	srcOffset, dstOffset uint64
	size                 uint64
}

func (copyBufferToBuffer) itemLabel() string { return "copy-buffer-to-buffer" }

type clearBuffer struct {
	buf          lumen.BufferHandle
	offset, size uint64
}

func (clearBuffer) itemLabel() string { return "clear-buffer" }

// Frame is an ordered sequence of passes and transfer operations, submitted
// as one unit. A frame is single use.
type Frame struct {
	label     string
	items     []frameItem
	passes    int
	submitted bool
}

func NewFrame(label string) *Frame {
	return &Frame{label: label}
}

func (f *Frame) Label() string {
	return f.label
}

// RenderPass opens a render pass targeting the given attachments. The pass
// starts out recording, call End before submitting the frame.
func (f *Frame) RenderPass(targets RenderTargets) *RenderPass {
	label := targets.Label
	if label == "" {
		label = fmt.Sprintf("render-pass-%d", f.passes)
	}

	p := &RenderPass{
		pass:    pass{label: label},
		targets: targets,
	}

	f.passes++
	f.items = append(f.items, p)

	return p
}

func (f *Frame) ComputePass(label string) *ComputePass {
	if label == "" {
		label = fmt.Sprintf("compute-pass-%d", f.passes)
	}

	p := &ComputePass{pass: pass{label: label}}

	f.passes++
	f.items = append(f.items, p)

	return p
}

func (f *Frame) CopyBufferToBuffer(src lumen.BufferHandle, srcOffset uint64, dst lumen.BufferHandle, dstOffset, size uint64) {
	f.items = append(f.items, copyBufferToBuffer{
		src:       src,
		dst:       dst,
		srcOffset: srcOffset,
		dstOffset: dstOffset,
		size:      size,
	})
}

func (f *Frame) ClearBuffer(buf lumen.BufferHandle, offset, size uint64) {
	f.items = append(f.items, clearBuffer{buf: buf, offset: offset, size: size})
}

type encodeStep func(enc lumen.CommandEncoder)

// Submit resolves every item of the frame and submits the result to the
// device in recording order. Items that fail to resolve are excluded and
// reported on the token, they never keep the rest of the frame from
// running. Only frame level failures (a lost device, a failed encoder)
// produce an error.
func (f *Frame) Submit(ctx *lumen.Context) (*Token, error) {
	if f.submitted {
		return nil, fmt.Errorf("frame %q: already submitted", f.label)
	}
	f.submitted = true

	if ctx.Lost() {
		return nil, lumen.ErrDeviceLost
	}

	token := &Token{
		Submission: ctx.NextSubmission(),
		Frame:      f.label,
	}

	var steps []encodeStep

	for idx, item := range f.items {
		var (
			step encodeStep
			err  error
		)

		switch it := item.(type) {
		case *RenderPass:
			step, err = resolveRenderPass(ctx, it)
		case *ComputePass:
			step, err = resolveComputePass(ctx, it)
		case copyBufferToBuffer:
			step, err = resolveCopy(ctx, it)
		case clearBuffer:
			step, err = resolveClear(ctx, it)
		}

		if err != nil {
			ctx.Logger().Warn("pass excluded from frame",
				slog.String("frame", f.label),
				slog.String("pass", item.itemLabel()),
				slog.Any("err", err))

			token.failures = append(token.failures, PassError{
				Index: idx,
				Label: item.itemLabel(),
				Err:   err,
			})
			continue
		}

		steps = append(steps, step)
	}

	enc, err := ctx.Device.CreateEncoder(f.label)
	if err != nil {
		if errors.Is(err, lumen.ErrDeviceLost) {
			ctx.MarkLost()
		}
		return nil, fmt.Errorf("frame %q: create encoder: %w", f.label, err)
	}

	for _, step := range steps {
		step(enc)
	}

	buf, err := enc.Finish()
	if err != nil {
		if errors.Is(err, lumen.ErrDeviceLost) {
			ctx.MarkLost()
		}
		return nil, fmt.Errorf("frame %q: finish encoder: %w", f.label, err)
	}

	if err := ctx.Device.Submit(buf); err != nil {
		if errors.Is(err, lumen.ErrDeviceLost) {
			ctx.MarkLost()
		}
		return nil, fmt.Errorf("frame %q: submit: %w", f.label, err)
	}

	return token, nil
}

func resolveCopy(ctx *lumen.Context, op copyBufferToBuffer) (encodeStep, error) {
	src, srcInfo, err := ctx.Registry.Buffer(op.src)
	if err != nil {
		return nil, err
	}

	dst, dstInfo, err := ctx.Registry.Buffer(op.dst)
	if err != nil {
		return nil, err
	}

	if srcInfo.Size > 0 && op.srcOffset+op.size > srcInfo.Size {
		return nil, fmt.Errorf("copy reads %d..%d of a %d byte buffer", op.srcOffset, op.srcOffset+op.size, srcInfo.Size)
	}
	if dstInfo.Size > 0 && op.dstOffset+op.size > dstInfo.Size {
		return nil, fmt.Errorf("copy writes %d..%d of a %d byte buffer", op.dstOffset, op.dstOffset+op.size, dstInfo.Size)
	}

	return func(enc lumen.CommandEncoder) {
		enc.CopyBufferToBuffer(src, op.srcOffset, dst, op.dstOffset, op.size)
	}, nil
}

func resolveClear(ctx *lumen.Context, op clearBuffer) (encodeStep, error) {
	buf, info, err := ctx.Registry.Buffer(op.buf)
	if err != nil {
		return nil, err
	}

	if info.Size > 0 && op.offset+op.size > info.Size {
		return nil, fmt.Errorf("clear touches %d..%d of a %d byte buffer", op.offset, op.offset+op.size, info.Size)
	}

	return func(enc lumen.CommandEncoder) {
		enc.ClearBuffer(buf, op.offset, op.size)
	}, nil
}
