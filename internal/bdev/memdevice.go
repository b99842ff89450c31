package bdev

import (
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// MemDevice is an in-memory Device backed by a byte slice, used for
// unit tests and for the volume-manager test doubles that need a bdev
// without a real file underneath.
type MemDevice struct {
	info types.BlockDeviceInfo
	data []byte
}

// NewMemDevice creates an in-memory device with blockCount blocks of
// blockSize bytes each, zero-filled.
func NewMemDevice(name string, blockCount uint64, blockSize uint32) *MemDevice {
	return &MemDevice{
		info: types.BlockDeviceInfo{
			Name:             name,
			UUID:             NewDeviceUUID(),
			LogicalBlockSize: blockSize,
			BlockCount:       blockCount,
			ProductName:      "xsan-mem-device",
		},
		data: make([]byte, blockCount*uint64(blockSize)),
	}
}

func (m *MemDevice) Info() types.BlockDeviceInfo { return m.info }

func (m *MemDevice) BufAlign() uint32 { return 512 }

func (m *MemDevice) boundsCheck(offsetBlocks, numBlocks uint64) error {
	if offsetBlocks+numBlocks > m.info.BlockCount {
		return xerrors.Newf(xerrors.KindInvalidOffset, "range [%d,%d) exceeds device block count %d",
			offsetBlocks, offsetBlocks+numBlocks, m.info.BlockCount)
	}
	return nil
}

func (m *MemDevice) ReadBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	if err := m.boundsCheck(offsetBlocks, numBlocks); err != nil {
		done(err)
		return
	}
	bs := uint64(m.info.LogicalBlockSize)
	n := numBlocks * bs
	if uint64(len(buf)) < n {
		done(xerrors.Newf(xerrors.KindInvalidSize, "read buffer too small: have %d, need %d", len(buf), n))
		return
	}
	start := offsetBlocks * bs
	copy(buf[:n], m.data[start:start+n])
	done(nil)
}

func (m *MemDevice) WriteBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	if err := m.boundsCheck(offsetBlocks, numBlocks); err != nil {
		done(err)
		return
	}
	bs := uint64(m.info.LogicalBlockSize)
	n := numBlocks * bs
	if uint64(len(buf)) < n {
		done(xerrors.Newf(xerrors.KindInvalidSize, "write buffer too small: have %d, need %d", len(buf), n))
		return
	}
	start := offsetBlocks * bs
	copy(m.data[start:start+n], buf[:n])
	done(nil)
}

// Zero overwrites a block range with zeros directly, bypassing the
// Device interface — used by tests that simulate on-disk corruption
// (spec.md §8 S4).
func (m *MemDevice) Zero(offsetBlocks, numBlocks uint64) {
	bs := uint64(m.info.LogicalBlockSize)
	start := offsetBlocks * bs
	end := start + numBlocks*bs
	for i := start; i < end && i < uint64(len(m.data)); i++ {
		m.data[i] = 0
	}
}
