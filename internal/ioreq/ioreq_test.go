package ioreq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/bdev"
)

func TestSubmitToBdevWriteThenRead(t *testing.T) {
	layer := bdev.NewLayer()
	layer.Register(bdev.NewMemDevice("dev0", 16, 512))

	data := bytes.Repeat([]byte{0x7E}, 512*2)
	writeErrc := make(chan error, 1)
	SubmitToBdev(layer, &Request{
		DeviceName:        "dev0",
		OffsetBlocks:      0,
		NumBlocks:         2,
		PhysicalBlockSize: 512,
		Direction:         DirectionWrite,
		LengthBytes:       512 * 2,
		UserBuf:           data,
	}, func(status error) { writeErrc <- status })
	require.NoError(t, <-writeErrc)

	got := make([]byte, 512*2)
	readErrc := make(chan error, 1)
	SubmitToBdev(layer, &Request{
		DeviceName:        "dev0",
		OffsetBlocks:      0,
		NumBlocks:         2,
		PhysicalBlockSize: 512,
		Direction:         DirectionRead,
		LengthBytes:       512 * 2,
		UserBuf:           got,
	}, func(status error) { readErrc <- status })
	require.NoError(t, <-readErrc)
	require.Equal(t, data, got)
}

func TestSubmitToBdevUnknownDeviceReportsViaCallback(t *testing.T) {
	layer := bdev.NewLayer()
	errc := make(chan error, 1)
	SubmitToBdev(layer, &Request{
		DeviceName:        "ghost",
		NumBlocks:         1,
		PhysicalBlockSize: 512,
		LengthBytes:       512,
		UserBuf:           make([]byte, 512),
	}, func(status error) { errc <- status })
	require.Error(t, <-errc)
}

func TestSubmitToBdevLengthMismatchIsInvalidParam(t *testing.T) {
	layer := bdev.NewLayer()
	layer.Register(bdev.NewMemDevice("dev0", 16, 512))

	errc := make(chan error, 1)
	SubmitToBdev(layer, &Request{
		DeviceName:        "dev0",
		NumBlocks:         2,
		PhysicalBlockSize: 512,
		LengthBytes:       511, // wrong on purpose
		UserBuf:           make([]byte, 1024),
	}, func(status error) { errc <- status })
	require.Error(t, <-errc)
}

func TestSubmitToBdevAllocatesDMABufferWhenUserBufTooSmall(t *testing.T) {
	layer := bdev.NewLayer()
	layer.Register(bdev.NewMemDevice("dev0", 16, 512))

	// UserBuf shorter than physical size: the request must still
	// succeed by allocating its own DMA buffer rather than writing OOB.
	errc := make(chan error, 1)
	SubmitToBdev(layer, &Request{
		DeviceName:        "dev0",
		NumBlocks:         1,
		PhysicalBlockSize: 512,
		LengthBytes:       512,
		UserBuf:           make([]byte, 10),
	}, func(status error) { errc <- status })
	require.NoError(t, <-errc)
}
