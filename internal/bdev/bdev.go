// Package bdev is the block device layer (spec.md §4.2): it enumerates
// reactor-managed block devices and issues async block read/write with
// completion callbacks. Every operation here is meant to run on the
// reactor thread that owns the target device.
package bdev

import (
	"sync"

	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
	"github.com/google/uuid"
)

// CompletionFunc is the callback invoked when an async op finishes. It
// always runs on the same reactor thread as the submitter.
type CompletionFunc func(status error)

// Device is a reactor-managed block device. Callers invoke it only from
// the reactor thread that owns it, so implementations need no internal
// locking (MemDevice has none; FileDevice serializes its file access
// with a mutex).
type Device interface {
	Info() types.BlockDeviceInfo
	BufAlign() uint32

	// ReadBlocks issues an async read of numBlocks starting at
	// offsetBlocks into buf, invoking done on completion.
	ReadBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc)

	// WriteBlocks issues an async write of numBlocks starting at
	// offsetBlocks from buf, invoking done on completion.
	WriteBlocks(offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc)
}

// Layer is the singleton block device registry (spec.md §4.2).
type Layer struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewLayer constructs an empty block device layer.
func NewLayer() *Layer {
	return &Layer{devices: make(map[string]Device)}
}

// Register adds a device to the layer under its info's Name. Intended
// for use during startup discovery, not on the hot path.
func (l *Layer) Register(dev Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.devices[dev.Info().Name] = dev
}

// Unregister removes a device, e.g. when it is observed to vanish.
func (l *Layer) Unregister(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.devices, name)
}

// Enumerate returns a snapshot of currently known device infos.
func (l *Layer) Enumerate() []types.BlockDeviceInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.BlockDeviceInfo, 0, len(l.devices))
	for _, d := range l.devices {
		out = append(out, d.Info())
	}
	return out
}

// InfoByName looks up one device's info.
func (l *Layer) InfoByName(name string) (types.BlockDeviceInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.devices[name]
	if !ok {
		return types.BlockDeviceInfo{}, xerrors.Newf(xerrors.KindDeviceNotFound, "block device %q not found", name)
	}
	return d.Info(), nil
}

// GetBufAlign returns the required DMA alignment for a device.
func (l *Layer) GetBufAlign(name string) (uint32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.devices[name]
	if !ok {
		return 0, xerrors.Newf(xerrors.KindDeviceNotFound, "block device %q not found", name)
	}
	return d.BufAlign(), nil
}

func (l *Layer) device(name string) (Device, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.devices[name]
	if !ok {
		return nil, xerrors.Newf(xerrors.KindDeviceNotFound, "block device %q not found", name)
	}
	return d, nil
}

// ReadBlocks submits an async read against the named device. Any
// submission error is reported through done, never returned directly,
// matching spec.md §4.2's "submission error is reported by calling the
// user completion callback."
func (l *Layer) ReadBlocks(name string, offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	d, err := l.device(name)
	if err != nil {
		done(err)
		return
	}
	d.ReadBlocks(offsetBlocks, numBlocks, buf, done)
}

// WriteBlocks submits an async write against the named device.
func (l *Layer) WriteBlocks(name string, offsetBlocks, numBlocks uint64, buf []byte, done CompletionFunc) {
	d, err := l.device(name)
	if err != nil {
		done(err)
		return
	}
	d.WriteBlocks(offsetBlocks, numBlocks, buf, done)
}

// DMAAlloc allocates an alignment-padded buffer large enough to hold
// size bytes at the requested alignment. Real DMA hardware needs a
// pinned, physically-aligned region; this is the software stand-in the
// rest of the core programs against.
func DMAAlloc(size int, align uint32) []byte {
	if align == 0 {
		align = 1
	}
	return make([]byte, size+int(align))
}

// DMAFree is a no-op placeholder matching the enumerate/alloc/free
// symmetry of spec.md §4.2; Go's GC reclaims DMAAlloc's buffers.
func DMAFree(buf []byte) {}

// ReadSync is a test/bootstrap helper only (spec.md §4.2): it blocks
// the calling goroutine until the async read completes. It must never
// be used on the production I/O path.
func ReadSync(l *Layer, name string, offsetBlocks, numBlocks uint64, buf []byte) error {
	errc := make(chan error, 1)
	l.ReadBlocks(name, offsetBlocks, numBlocks, buf, func(status error) { errc <- status })
	return <-errc
}

// WriteSync is the write analogue of ReadSync.
func WriteSync(l *Layer, name string, offsetBlocks, numBlocks uint64, buf []byte) error {
	errc := make(chan error, 1)
	l.WriteBlocks(name, offsetBlocks, numBlocks, buf, func(status error) { errc <- status })
	return <-errc
}

// NewDeviceUUID mints a fresh block-device uuid string for devices that
// don't already carry one from the kernel/driver layer.
func NewDeviceUUID() string {
	return uuid.NewString()
}
