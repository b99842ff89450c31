// Package ioreq is the I/O request pipeline (spec.md §4.5): a single
// submission path that resolves a device, validates and DMA-stages the
// transfer, and runs a completion trampoline back to the caller.
package ioreq

import (
	"github.com/aivoyager8/xsan/internal/bdev"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// Direction is the I/O direction of a Request.
type Direction int

const (
	DirectionRead Direction = iota
	DirectionWrite
)

// CompletionFunc is invoked exactly once when a Request completes or
// fails, on the reactor thread that submitted it.
type CompletionFunc func(status error)

// Request describes one block I/O operation against a named device.
type Request struct {
	DeviceName        string
	OffsetBlocks      uint64
	NumBlocks         uint64
	PhysicalBlockSize uint32
	Direction         Direction
	LengthBytes       uint64 // caller-declared transfer length, validated against NumBlocks*PhysicalBlockSize
	UserBuf           []byte // caller's buffer; for writes, the source; for reads, the destination

	// dmaBuf is the device-facing transfer buffer. If the caller's
	// UserBuf is at least the physical transfer size, it is reused
	// directly and dmaOwned stays false (its alignment is not checked);
	// otherwise a DMA-safe buffer is allocated and owned by the request
	// for the duration of the call.
	dmaBuf   []byte
	dmaOwned bool
}

// SubmitToBdev implements spec.md §4.5's submit_to_bdev: resolve,
// validate, DMA-stage, submit, and run the completion trampoline.
func SubmitToBdev(layer *bdev.Layer, req *Request, done CompletionFunc) {
	info, err := layer.InfoByName(req.DeviceName)
	if err != nil {
		done(err)
		return
	}

	physicalSize := req.NumBlocks * uint64(req.PhysicalBlockSize)
	if req.LengthBytes != physicalSize {
		done(xerrors.Newf(xerrors.KindInvalidParam,
			"request length %d does not match num_blocks*block_size %d", req.LengthBytes, physicalSize))
		return
	}

	align, err := layer.GetBufAlign(req.DeviceName)
	if err != nil {
		done(err)
		return
	}

	if uint64(len(req.UserBuf)) >= physicalSize {
		req.dmaBuf = req.UserBuf[:physicalSize]
		req.dmaOwned = false
	} else {
		req.dmaBuf = bdev.DMAAlloc(int(physicalSize), align)[:physicalSize]
		req.dmaOwned = true
		if req.Direction == DirectionWrite {
			copy(req.dmaBuf, req.UserBuf)
		}
	}

	trampoline := func(status error) {
		if status == nil && req.Direction == DirectionRead && req.dmaOwned {
			copy(req.UserBuf, req.dmaBuf)
		}
		if req.dmaOwned {
			bdev.DMAFree(req.dmaBuf)
		}
		done(status)
	}

	submit := layer.ReadBlocks
	if req.Direction == DirectionWrite {
		submit = layer.WriteBlocks
	}
	submit(req.DeviceName, req.OffsetBlocks, req.NumBlocks, req.dmaBuf, trampoline)
	_ = info // info is resolved for its error-or-not signal; fields unused on this path
}
