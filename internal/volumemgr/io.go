package volumemgr

import (
	"github.com/google/uuid"

	"github.com/aivoyager8/xsan/internal/bdev"
	"github.com/aivoyager8/xsan/internal/diskmgr"
	"github.com/aivoyager8/xsan/internal/ioreq"
	"github.com/aivoyager8/xsan/internal/replication"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/wire"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// validateRange checks spec.md §4.4's read/write preconditions: offset
// and length are multiples of the volume's logical block size, and the
// range lies within the volume.
func validateRange(vol *types.Volume, byteOffset, length uint64) error {
	bs := uint64(vol.LogicalBlockSize)
	if bs == 0 || byteOffset%bs != 0 || length%bs != 0 {
		return xerrors.New(xerrors.KindInvalidOffset, "offset and length must be multiples of the volume's logical block size")
	}
	if byteOffset+length > vol.SizeBytes {
		return xerrors.New(xerrors.KindInvalidOffset, "range exceeds volume size")
	}
	return nil
}

// Runtime bundles everything the async read/write entry points need
// beyond the volume/allocation-map records themselves.
type Runtime struct {
	Disks *diskmgr.Manager
	Bdevs *bdev.Layer
	Repl  *replication.Coordinator
	Send  replication.RemoteSendFunc

	// SendRead performs the blocking remote-read round trip (spec.md
	// §4.7): send REPLICA_READ_BLOCK_REQ, wait for the correlated
	// REPLICA_READ_BLOCK_RESP, copy its data into userBuf. Left nil by
	// runtimes that never see FTT > 0.
	SendRead replication.RemoteReadFunc
}

// localIO resolves a volume-relative byte range to physical I/O via
// map_lba. A one-block request becomes a single I/O-pipeline
// submission; a longer request is split into one submission per
// logical block (localIOMultiBlock), each mapped on its own, since one
// logical block always lies within one extent.
func (m *Manager) localIO(rt *Runtime, vol *types.Volume, am *types.AllocationMap, byteOffset, length uint64, buf []byte, dir ioreq.Direction, done func(status error)) {
	logicalBlock := byteOffset / uint64(vol.LogicalBlockSize)
	numLogicalBlocks := length / uint64(vol.LogicalBlockSize)
	if numLogicalBlocks != 1 {
		// Multi-block requests are split one logical block at a time;
		// kept simple since extents are contiguous per-disk ranges and
		// a request spanning extent boundaries needs per-extent
		// splitting that the allocator's cap (spec.md §4.3) makes rare.
		m.localIOMultiBlock(rt, vol, am, logicalBlock, numLogicalBlocks, buf, dir, done)
		return
	}

	target, err := MapLBA(rt.Disks, am, vol, logicalBlock)
	if err != nil {
		done(err)
		return
	}
	disk, err := rt.Disks.GetDisk(target.DiskID)
	if err != nil {
		done(err)
		return
	}

	ioreq.SubmitToBdev(rt.Bdevs, &ioreq.Request{
		DeviceName:        disk.BdevName,
		OffsetBlocks:      target.PhysicalBlock,
		NumBlocks:         1,
		PhysicalBlockSize: target.PhysicalBlockSize,
		Direction:         dir,
		LengthBytes:       length,
		UserBuf:           buf,
	}, done)
}

func (m *Manager) localIOMultiBlock(rt *Runtime, vol *types.Volume, am *types.AllocationMap, startBlock, numBlocks uint64, buf []byte, dir ioreq.Direction, done func(status error)) {
	bs := uint64(vol.LogicalBlockSize)
	var pending int
	var firstErr error
	resultCh := make(chan error, numBlocks)

	for i := uint64(0); i < numBlocks; i++ {
		pending++
		slice := buf[i*bs : (i+1)*bs]
		m.localIO(rt, vol, am, (startBlock+i)*bs, bs, slice, dir, func(status error) {
			resultCh <- status
		})
	}
	for i := 0; i < pending; i++ {
		if err := <-resultCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	done(firstErr)
}

// LocalWrite performs a write against this node's own local extent for
// volID, bypassing the replication coordinator entirely. This is what a
// replica uses to service an incoming REPLICA_WRITE_BLOCK_REQ: the
// sender already fanned the write out, so the receiving side must not
// fan it out again.
func (m *Manager) LocalWrite(rt *Runtime, volID uuid.UUID, byteOffset, length uint64, buf []byte, done func(status error)) {
	vol, err := m.GetVolume(volID)
	if err != nil {
		done(err)
		return
	}
	if err := validateRange(vol, byteOffset, length); err != nil {
		done(err)
		return
	}
	am, err := m.AllocationMapFor(volID)
	if err != nil {
		done(err)
		return
	}
	m.localIO(rt, vol, am, byteOffset, length, buf, ioreq.DirectionWrite, done)
}

// LocalRead is LocalWrite's read counterpart, used to service an
// incoming REPLICA_READ_BLOCK_REQ.
func (m *Manager) LocalRead(rt *Runtime, volID uuid.UUID, byteOffset, length uint64, buf []byte, done func(status error)) {
	vol, err := m.GetVolume(volID)
	if err != nil {
		done(err)
		return
	}
	if err := validateRange(vol, byteOffset, length); err != nil {
		done(err)
		return
	}
	am, err := m.AllocationMapFor(volID)
	if err != nil {
		done(err)
		return
	}
	m.localIO(rt, vol, am, byteOffset, length, buf, ioreq.DirectionRead, done)
}

// ReadVolume implements spec.md §4.4's async read: local-only when FTT
// is 0 or every remote replica is offline, otherwise a replica-read
// coordinator starting at index 0.
func (m *Manager) ReadVolume(rt *Runtime, volID uuid.UUID, byteOffset, length uint64, userBuf []byte, done func(status error)) {
	vol, err := m.GetVolume(volID)
	if err != nil {
		done(err)
		return
	}
	if err := validateRange(vol, byteOffset, length); err != nil {
		done(err)
		return
	}
	am, err := m.AllocationMapFor(volID)
	if err != nil {
		done(err)
		return
	}

	localRead := func(buf []byte, cb func(status error)) {
		m.localIO(rt, vol, am, byteOffset, length, buf, ioreq.DirectionRead, cb)
	}

	if vol.FTT == 0 || allRemoteOffline(vol.Replicas) {
		localRead(userBuf, done)
		return
	}

	remoteRead := rt.SendRead
	if remoteRead == nil {
		remoteRead = func(replica types.ReplicaLocation, volumeID [16]byte, blockLBA uint64, numBlocks uint32, buf []byte) error {
			return xerrors.New(xerrors.KindNotImplemented, "remote read transport not wired by this runtime")
		}
	}
	replication.Read(vol, byteOffset/uint64(vol.LogicalBlockSize), uint32(length/uint64(vol.LogicalBlockSize)), userBuf, localRead, remoteRead, done)
}

func allRemoteOffline(replicas []types.ReplicaLocation) bool {
	for i, r := range replicas {
		if i == 0 {
			continue
		}
		if r.State == types.ReplicaStateOnline {
			return false
		}
	}
	return true
}

// WriteVolume implements spec.md §4.4's async write: a replicated-I/O
// context fanning out the local I/O-pipeline submission and N-1
// REPLICA_WRITE_BLOCK_REQ messages.
func (m *Manager) WriteVolume(rt *Runtime, volID uuid.UUID, byteOffset, length uint64, userBuf []byte, done func(status error)) {
	vol, err := m.GetVolume(volID)
	if err != nil {
		done(err)
		return
	}
	if err := validateRange(vol, byteOffset, length); err != nil {
		done(err)
		return
	}
	am, err := m.AllocationMapFor(volID)
	if err != nil {
		done(err)
		return
	}

	blockLBA := byteOffset / uint64(vol.LogicalBlockSize)
	numBlocks := uint32(length / uint64(vol.LogicalBlockSize))

	localWrite := func(cb func(status error)) {
		m.localIO(rt, vol, am, byteOffset, length, userBuf, ioreq.DirectionWrite, cb)
	}

	send := rt.Send
	if send == nil {
		send = func(replica types.ReplicaLocation, msg wire.Message) error {
			return xerrors.New(xerrors.KindNotImplemented, "remote write transport not wired by this runtime")
		}
	}

	rt.Repl.StartWrite(vol, blockLBA, numBlocks, userBuf, localWrite, send, done)
}
