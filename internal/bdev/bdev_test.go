package bdev

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayerEnumerateAndInfo(t *testing.T) {
	l := NewLayer()
	dev := NewMemDevice("mem0", 256, 4096)
	l.Register(dev)

	infos := l.Enumerate()
	require.Len(t, infos, 1)
	require.Equal(t, "mem0", infos[0].Name)
	require.Equal(t, uint64(256*4096), infos[0].CapacityBytes())

	info, err := l.InfoByName("mem0")
	require.NoError(t, err)
	require.Equal(t, dev.Info(), info)

	_, err = l.InfoByName("nope")
	require.Error(t, err)
}

func TestLayerReadWriteRoundTrip(t *testing.T) {
	l := NewLayer()
	dev := NewMemDevice("mem0", 16, 512)
	l.Register(dev)

	want := bytes.Repeat([]byte{0xAB}, 512*2)
	require.NoError(t, WriteSync(l, "mem0", 0, 2, want))

	got := make([]byte, 512*2)
	require.NoError(t, ReadSync(l, "mem0", 0, 2, got))
	require.Equal(t, want, got)
}

func TestLayerOutOfRangeReportsViaCallback(t *testing.T) {
	l := NewLayer()
	l.Register(NewMemDevice("mem0", 4, 512))

	err := WriteSync(l, "mem0", 3, 2, make([]byte, 512*2))
	require.Error(t, err)
}

func TestLayerUnknownDeviceReportsViaCallback(t *testing.T) {
	l := NewLayer()
	var called bool
	l.ReadBlocks("ghost", 0, 1, make([]byte, 512), func(status error) {
		called = true
		require.Error(t, status)
	})
	require.True(t, called)
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dev, err := OpenFileDevice("f0", filepath.Join(dir, "disk0.img"), 32, 4096)
	require.NoError(t, err)
	defer dev.Close()

	l := NewLayer()
	l.Register(dev)

	want := bytes.Repeat([]byte{0x5A}, 4096*3)
	require.NoError(t, WriteSync(l, "f0", 1, 3, want))

	got := make([]byte, 4096*3)
	require.NoError(t, ReadSync(l, "f0", 1, 3, got))
	require.Equal(t, want, got)
}

func TestMemDeviceZeroSimulatesCorruption(t *testing.T) {
	dev := NewMemDevice("mem0", 4, 512)
	l := NewLayer()
	l.Register(dev)

	require.NoError(t, WriteSync(l, "mem0", 0, 1, bytes.Repeat([]byte{0x11}, 512)))
	dev.Zero(0, 1)

	got := make([]byte, 512)
	require.NoError(t, ReadSync(l, "mem0", 0, 1, got))
	require.Equal(t, make([]byte, 512), got)
}

func TestDMAAllocPadsForAlignment(t *testing.T) {
	buf := DMAAlloc(100, 64)
	if len(buf) < 100 {
		t.Fatalf("expected at least 100 bytes, got %d", len(buf))
	}
}
