package wasm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/FLClab/TiffWrapper/internal/protocol"
)

// Guest exports the reader module must provide.
const (
	exportMemory = "memory"
	exportAlloc  = "msr_alloc"
	exportFree   = "msr_free"
	exportCall   = "msr_call"
)

// moduleCaller delivers protocol requests to the guest's msr_call export.
// The request JSON is copied into guest memory obtained from msr_alloc; the
// guest returns its response location packed as ptr<<32 | len and the host
// frees it after copying. A call is a plain function call, so responses
// cannot arrive out of order and their IDs are not checked.
type moduleCaller struct {
	mem   api.Memory
	alloc api.Function
	free  api.Function
	call  api.Function

	nextID uint64
}

func newModuleCaller(mod api.Module) (*moduleCaller, error) {
	c := &moduleCaller{
		mem:   mod.Memory(),
		alloc: mod.ExportedFunction(exportAlloc),
		free:  mod.ExportedFunction(exportFree),
		call:  mod.ExportedFunction(exportCall),
	}
	var missing []string
	if c.mem == nil {
		missing = append(missing, exportMemory)
	}
	if c.alloc == nil {
		missing = append(missing, exportAlloc)
	}
	if c.free == nil {
		missing = append(missing, exportFree)
	}
	if c.call == nil {
		missing = append(missing, exportCall)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("reader module is missing exports %v", missing)
	}
	return c, nil
}

func (c *moduleCaller) Call(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Response{}, err
	}

	c.nextID++
	req.ID = c.nextID

	payload, err := json.Marshal(&req)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("marshal %s: %w", req.Op, err)
	}

	res, err := c.alloc.Call(ctx, uint64(len(payload)))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s: %w", exportAlloc, err)
	}
	inPtr := uint32(res[0])
	defer c.release(ctx, inPtr, uint32(len(payload)))

	if !c.mem.Write(inPtr, payload) {
		return protocol.Response{}, fmt.Errorf("write %s request: %d bytes at %#x out of range", req.Op, len(payload), inPtr)
	}

	res, err = c.call.Call(ctx, uint64(inPtr), uint64(len(payload)))
	if err != nil {
		return protocol.Response{}, fmt.Errorf("%s %s: %w", exportCall, req.Op, err)
	}
	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	defer c.release(ctx, outPtr, outLen)

	if outLen > protocol.MaxMessageSize {
		return protocol.Response{}, fmt.Errorf("%s response size %d exceeds maximum %d", req.Op, outLen, protocol.MaxMessageSize)
	}
	data, ok := c.mem.Read(outPtr, outLen)
	if !ok {
		return protocol.Response{}, fmt.Errorf("read %s response: %d bytes at %#x out of range", req.Op, outLen, outPtr)
	}

	// data aliases guest memory; Unmarshal copies what it keeps.
	var resp protocol.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("unmarshal %s response: %w", req.Op, err)
	}
	return resp, nil
}

func (c *moduleCaller) release(ctx context.Context, ptr, size uint32) {
	if size == 0 {
		return
	}
	// Freeing must happen even when the call's context is already done.
	c.free.Call(context.WithoutCancel(ctx), uint64(ptr), uint64(size))
}
