package podvm

import (
	"context"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// maxOutputSize bounds the bytes a single call may write back.
const maxOutputSize = 1 << 20

// execContext holds the state of a single wasm call.
type execContext struct {
	input        []byte     // input is the flatbuffers-encoded call input
	output       []byte     // output is the flatbuffers-encoded call output
	memory       api.Memory // memory is the linear memory of the instance
	gasLimit     uint64     // gasLimit is the maximum gas allowed
	gasUsed      uint64     // gasUsed tracks consumed gas
	gasExhausted bool       // gasExhausted is set when gasLimit was exceeded
}

// buildHostModule instantiates the "env" module exposing gas metering and
// input/output buffers to the called module.
func (p *Pool) buildHostModule(ctx context.Context, execCtx *execContext) (api.Module, error) {
	return p.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, cost uint32) { execCtx.charge(cost) }).
		Export("gas").
		NewFunctionBuilder().
		WithFunc(func(context.Context) uint32 { return uint32(len(execCtx.input)) }).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr uint32) { execCtx.readInput(ptr) }).
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, ptr, length uint32) { execCtx.writeOutput(ptr, length) }).
		Export("write_output").
		Instantiate(ctx)
}

// charge consumes gas and aborts the call by panicking once the limit is exceeded.
func (c *execContext) charge(cost uint32) {
	if c.gasUsed > math.MaxUint64-uint64(cost) {
		c.gasUsed = math.MaxUint64
	} else {
		c.gasUsed += uint64(cost)
	}

	if c.gasUsed > c.gasLimit {
		c.gasExhausted = true
		panic(ErrGasExhausted)
	}
}

// readInput copies the input into linear memory at ptr.
func (c *execContext) readInput(ptr uint32) {
	if c.memory == nil || len(c.input) == 0 {
		return
	}

	if !c.memory.Write(ptr, c.input) {
		panic("read_input: out of bounds")
	}
}

// writeOutput records length bytes of linear memory at ptr as the call output.
// The last write wins.
func (c *execContext) writeOutput(ptr, length uint32) {
	if c.memory == nil || length == 0 {
		return
	}

	if length > maxOutputSize {
		panic("write_output: output too large")
	}

	data, ok := c.memory.Read(ptr, length)
	if !ok {
		panic("write_output: out of bounds")
	}

	c.output = make([]byte, length)
	copy(c.output, data)
}
