// Package record implements deferred command recording. Passes record
// commands against resource handles and pipeline descriptors, a Frame
// replays them against the device in submission order. Nothing a command
// references has to exist before the frame is submitted, and a resolution
// failure knocks out only the pass it occurred in.
package record

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

type CommandType uint8

const (
	CommandSetRenderPipeline CommandType = iota
	CommandSetComputePipeline
	CommandBindGroup
	CommandSetVertexBuffer
	CommandSetIndexBuffer
	CommandSetDynamicState
	CommandDraw
	CommandDrawIndexed
	CommandDispatch
)

var commandTypeNames = [...]string{
	CommandSetRenderPipeline:  "SetRenderPipeline",
	CommandSetComputePipeline: "SetComputePipeline",
	CommandBindGroup:          "BindGroup",
	CommandSetVertexBuffer:    "SetVertexBuffer",
	CommandSetIndexBuffer:     "SetIndexBuffer",
	CommandSetDynamicState:    "SetDynamicState",
	CommandDraw:               "Draw",
	CommandDrawIndexed:        "DrawIndexed",
	CommandDispatch:           "Dispatch",
}

func (t CommandType) String() string {
	if int(t) < len(commandTypeNames) {
		return commandTypeNames[t]
	}

	return fmt.Sprintf("CommandType(%d)", uint8(t))
}

// Command is one recorded pass command. Commands carry handles and
// descriptors, never backend objects.
type Command interface {
	Type() CommandType
}

type SetRenderPipeline struct {
	Desc *lumen.RenderPipelineDescriptor
}

func (SetRenderPipeline) Type() CommandType { return CommandSetRenderPipeline }

type SetComputePipeline struct {
	Desc *lumen.ComputePipelineDescriptor
}

func (SetComputePipeline) Type() CommandType { return CommandSetComputePipeline }

type BindGroup struct {
	Group    uint32
	Bindings []lumen.Binding
}

func (BindGroup) Type() CommandType { return CommandBindGroup }

type SetVertexBuffer struct {
	Slot   uint32
	Buffer lumen.BufferHandle
	Offset uint64
}

func (SetVertexBuffer) Type() CommandType { return CommandSetVertexBuffer }

type SetIndexBuffer struct {
	Buffer lumen.BufferHandle
	Format wgpu.IndexFormat
	Offset uint64
}

func (SetIndexBuffer) Type() CommandType { return CommandSetIndexBuffer }

type SetDynamicState struct {
	State lumen.DynamicState
}

func (SetDynamicState) Type() CommandType { return CommandSetDynamicState }

type Draw struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (Draw) Type() CommandType { return CommandDraw }

type DrawIndexed struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	FirstInstance uint32
}

func (DrawIndexed) Type() CommandType { return CommandDrawIndexed }

type Dispatch struct {
	X, Y, Z uint32
}

func (Dispatch) Type() CommandType { return CommandDispatch }
