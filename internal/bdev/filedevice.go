package bdev

import (
	"os"
	"sync"

	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// FileDevice is a Device backed by a regular file, standing in for a
// real raw block device during development and integration tests.
type FileDevice struct {
	info types.BlockDeviceInfo
	mu   sync.Mutex
	f    *os.File
}

// OpenFileDevice opens (creating if necessary) path as a block device
// of blockCount blocks of blockSize bytes.
func OpenFileDevice(name, path string, blockCount uint64, blockSize uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSystem, "open file device", err)
	}
	size := int64(blockCount * uint64(blockSize))
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, xerrors.Wrap(xerrors.KindSystem, "truncate file device", err)
	}
	return &FileDevice{
		info: types.BlockDeviceInfo{
			Name:             name,
			UUID:             NewDeviceUUID(),
			LogicalBlockSize: blockSize,
			BlockCount:       blockCount,
			ProductName:      "xsan-file-device",
		},
		f: f,
	}, nil
}

func (d *FileDevice) Info() types.BlockDeviceInfo { return d.info }

func (d *FileDevice) BufAlign() uint32 { return 4096 }

func (d *FileDevice) Close() error { return d.f.Close() }

func (d *FileDevice) boundsCheck(offsetBlocks, numBlocks uint64) error {
	if offsetBlocks+numBlocks > d.info.BlockCount {
		return xerrors.Newf(xerrors.KindInvalidOffset, "range [%d,%d) exceeds device block count %d",
			offsetBlocks, offsetBlocks+numBlocks, d.info.BlockCount)
	}
	return nil
}

func (d *FileDevice) ReadBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	if err := d.boundsCheck(offsetBlocks, numBlocks); err != nil {
		done(err)
		return
	}
	bs := int64(d.info.LogicalBlockSize)
	n := int64(numBlocks) * bs
	if int64(len(buf)) < n {
		done(xerrors.Newf(xerrors.KindInvalidSize, "read buffer too small: have %d, need %d", len(buf), n))
		return
	}
	d.mu.Lock()
	_, err := d.f.ReadAt(buf[:n], int64(offsetBlocks)*bs)
	d.mu.Unlock()
	if err != nil {
		done(xerrors.Wrap(xerrors.KindSystem, "file device read", err))
		return
	}
	done(nil)
}

func (d *FileDevice) WriteBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	if err := d.boundsCheck(offsetBlocks, numBlocks); err != nil {
		done(err)
		return
	}
	bs := int64(d.info.LogicalBlockSize)
	n := int64(numBlocks) * bs
	if int64(len(buf)) < n {
		done(xerrors.Newf(xerrors.KindInvalidSize, "write buffer too small: have %d, need %d", len(buf), n))
		return
	}
	d.mu.Lock()
	_, err := d.f.WriteAt(buf[:n], int64(offsetBlocks)*bs)
	d.mu.Unlock()
	if err != nil {
		done(xerrors.Wrap(xerrors.KindSystem, "file device write", err))
		return
	}
	done(nil)
}
