package nullgpu_test

import (
	"testing"

	"github.com/oliverbestmann/lumen"
	"github.com/oliverbestmann/lumen/nullgpu"
	"github.com/stretchr/testify/assert"
)

func TestOpsOnlyVisibleAfterSubmit(t *testing.T) {
	dev := nullgpu.New(lumen.AllDynamic)

	enc, err := dev.CreateEncoder("frame")
	assert.NoError(t, err)

	enc.ClearBuffer(dev.NewBuffer("buf"), 0, 16)
	assert.Empty(t, dev.Ops())

	buf, err := enc.Finish()
	assert.NoError(t, err)
	assert.Empty(t, dev.Ops())

	assert.NoError(t, dev.Submit(buf))
	assert.Equal(t, []string{"clear-buffer buf+0 16", "submit"}, dev.Ops())
	assert.Equal(t, 1, dev.Stats().Submissions)
}

func TestEncoderFinishTwice(t *testing.T) {
	dev := nullgpu.New(lumen.AllDynamic)

	enc, err := dev.CreateEncoder("frame")
	assert.NoError(t, err)

	_, err = enc.Finish()
	assert.NoError(t, err)

	_, err = enc.Finish()
	assert.Error(t, err)
}

func TestResetClearsLogKeepsStats(t *testing.T) {
	dev := nullgpu.New(lumen.AllDynamic)

	enc, err := dev.CreateEncoder("frame")
	assert.NoError(t, err)

	buf, err := enc.Finish()
	assert.NoError(t, err)
	assert.NoError(t, dev.Submit(buf))

	dev.Reset()
	assert.Empty(t, dev.Ops())
	assert.Equal(t, 1, dev.Stats().Submissions)
}

type foreignBuffer struct{}

func (foreignBuffer) Release() {}

func TestSubmitRejectsForeignBuffer(t *testing.T) {
	dev := nullgpu.New(lumen.AllDynamic)

	err := dev.Submit(foreignBuffer{})
	assert.Error(t, err)
}
