package bridge

import (
	"context"

	"github.com/FLClab/TiffWrapper/internal/model"
)

// Command is one bridge operation. The set is closed: Read and GetMetadata
// are the only implementations, and the worker switches over them
// exhaustively.
type Command interface {
	// Op returns the operation name recorded in logs, metrics and the journal.
	Op() string
	// Target returns the file path the command operates on.
	Target() string

	isCommand()
}

// Read loads every series of a measurement file.
type Read struct {
	Path string
}

func (Read) Op() string { return model.OpRead }
func (c Read) Target() string { return c.Path }
func (Read) isCommand() {}

// GetMetadata collects the metadata fields of every series of a file.
type GetMetadata struct {
	Path string
}

func (GetMetadata) Op() string { return model.OpGetMetadata }
func (c GetMetadata) Target() string { return c.Path }
func (GetMetadata) isCommand() {}

// Result is the success payload of one command. Exactly one of Images and
// Metadata is set, matching the command.
type Result struct {
	// ID identifies the call in logs and the journal.
	ID string
	// Seq is the command's enqueue position; the worker serves commands in
	// ascending Seq order.
	Seq uint64

	Images   model.ImageBundle
	Metadata model.MetadataBundle
}

// request is a queued command together with the caller's context and the
// slot its outcome is delivered to.
type request struct {
	id   string
	seq  uint64
	cmd  Command
	ctx  context.Context
	slot slot
}

// outcome is what the worker publishes for one request.
type outcome struct {
	result Result
	err    error
}

// slot is a single-use handoff from the worker to one caller. Its buffer
// of one means delivery never blocks, even when the caller already gave up.
type slot chan outcome

func newSlot() slot {
	return make(slot, 1)
}

func (s slot) deliver(o outcome) {
	s <- o
}
