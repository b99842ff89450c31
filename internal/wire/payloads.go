package wire

import (
	"encoding/binary"

	"github.com/aivoyager8/xsan/internal/xerrors"
	"github.com/google/uuid"
)

// ReplicaWriteReq is the structured payload prefix of a
// REPLICA_WRITE_BLOCK_REQ message (spec.md §4.6); the raw data blocks
// follow immediately after it in the message payload.
type ReplicaWriteReq struct {
	VolumeID        uuid.UUID
	BlockLBAOnVol   uint64
	NumBlocks       uint32
}

const replicaWriteReqHeaderSize = 16 + 8 + 4

// EncodeReplicaWriteReq serializes the fixed header followed by data.
func EncodeReplicaWriteReq(r ReplicaWriteReq, data []byte) []byte {
	buf := make([]byte, replicaWriteReqHeaderSize+len(data))
	copy(buf[0:16], r.VolumeID[:])
	binary.BigEndian.PutUint64(buf[16:24], r.BlockLBAOnVol)
	binary.BigEndian.PutUint32(buf[24:28], r.NumBlocks)
	copy(buf[28:], data)
	return buf
}

// DecodeReplicaWriteReq splits a REPLICA_WRITE_BLOCK_REQ payload into
// its structured fields and the trailing raw data blocks.
func DecodeReplicaWriteReq(payload []byte) (ReplicaWriteReq, []byte, error) {
	var r ReplicaWriteReq
	if len(payload) < replicaWriteReqHeaderSize {
		return r, nil, xerrors.New(xerrors.KindMessageIncomplete, "replica write req payload too short")
	}
	copy(r.VolumeID[:], payload[0:16])
	r.BlockLBAOnVol = binary.BigEndian.Uint64(payload[16:24])
	r.NumBlocks = binary.BigEndian.Uint32(payload[24:28])
	return r, payload[replicaWriteReqHeaderSize:], nil
}

// ReplicaWriteResp is the payload of a REPLICA_WRITE_BLOCK_RESP message.
type ReplicaWriteResp struct {
	Status            int32
	BlockLBAOnVol     uint64
	NumBlocksProcessed uint32
}

const replicaWriteRespSize = 4 + 8 + 4

func EncodeReplicaWriteResp(r ReplicaWriteResp) []byte {
	buf := make([]byte, replicaWriteRespSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.Status))
	binary.BigEndian.PutUint64(buf[4:12], r.BlockLBAOnVol)
	binary.BigEndian.PutUint32(buf[12:16], r.NumBlocksProcessed)
	return buf
}

func DecodeReplicaWriteResp(payload []byte) (ReplicaWriteResp, error) {
	var r ReplicaWriteResp
	if len(payload) < replicaWriteRespSize {
		return r, xerrors.New(xerrors.KindMessageIncomplete, "replica write resp payload too short")
	}
	r.Status = int32(binary.BigEndian.Uint32(payload[0:4]))
	r.BlockLBAOnVol = binary.BigEndian.Uint64(payload[4:12])
	r.NumBlocksProcessed = binary.BigEndian.Uint32(payload[12:16])
	return r, nil
}

// ReplicaReadReq is the payload of a REPLICA_READ_BLOCK_REQ message.
type ReplicaReadReq struct {
	VolumeID      uuid.UUID
	BlockLBAOnVol uint64
	NumBlocks     uint32
}

const replicaReadReqSize = 16 + 8 + 4

func EncodeReplicaReadReq(r ReplicaReadReq) []byte {
	buf := make([]byte, replicaReadReqSize)
	copy(buf[0:16], r.VolumeID[:])
	binary.BigEndian.PutUint64(buf[16:24], r.BlockLBAOnVol)
	binary.BigEndian.PutUint32(buf[24:28], r.NumBlocks)
	return buf
}

func DecodeReplicaReadReq(payload []byte) (ReplicaReadReq, error) {
	var r ReplicaReadReq
	if len(payload) < replicaReadReqSize {
		return r, xerrors.New(xerrors.KindMessageIncomplete, "replica read req payload too short")
	}
	copy(r.VolumeID[:], payload[0:16])
	r.BlockLBAOnVol = binary.BigEndian.Uint64(payload[16:24])
	r.NumBlocks = binary.BigEndian.Uint32(payload[24:28])
	return r, nil
}

// ReplicaReadResp is the structured payload prefix of a
// REPLICA_READ_BLOCK_RESP message; the data blocks follow only when
// Status == 0.
type ReplicaReadResp struct {
	Status        int32
	VolumeID      uuid.UUID
	BlockLBAOnVol uint64
	NumBlocks     uint32
}

const replicaReadRespHeaderSize = 4 + 16 + 8 + 4

func EncodeReplicaReadResp(r ReplicaReadResp, data []byte) []byte {
	buf := make([]byte, replicaReadRespHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.Status))
	copy(buf[4:20], r.VolumeID[:])
	binary.BigEndian.PutUint64(buf[20:28], r.BlockLBAOnVol)
	binary.BigEndian.PutUint32(buf[28:32], r.NumBlocks)
	copy(buf[32:], data)
	return buf
}

func DecodeReplicaReadResp(payload []byte) (ReplicaReadResp, []byte, error) {
	var r ReplicaReadResp
	if len(payload) < replicaReadRespHeaderSize {
		return r, nil, xerrors.New(xerrors.KindMessageIncomplete, "replica read resp payload too short")
	}
	r.Status = int32(binary.BigEndian.Uint32(payload[0:4]))
	copy(r.VolumeID[:], payload[4:20])
	r.BlockLBAOnVol = binary.BigEndian.Uint64(payload[20:28])
	r.NumBlocks = binary.BigEndian.Uint32(payload[28:32])
	return r, payload[replicaReadRespHeaderSize:], nil
}

// Heartbeat is the payload of a HEARTBEAT / HEARTBEAT_ACK message,
// supplemented from original_source/src/include/xsan_protocol.h (the
// distilled spec lists the message types but not a payload shape).
type Heartbeat struct {
	NodeID   uuid.UUID
	SentAtNs int64
}

const heartbeatSize = 16 + 8

func EncodeHeartbeat(h Heartbeat) []byte {
	buf := make([]byte, heartbeatSize)
	copy(buf[0:16], h.NodeID[:])
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.SentAtNs))
	return buf
}

func DecodeHeartbeat(payload []byte) (Heartbeat, error) {
	var h Heartbeat
	if len(payload) < heartbeatSize {
		return h, xerrors.New(xerrors.KindMessageIncomplete, "heartbeat payload too short")
	}
	copy(h.NodeID[:], payload[0:16])
	h.SentAtNs = int64(binary.BigEndian.Uint64(payload[16:24]))
	return h, nil
}

// ErrorResp is the payload of an ERROR_RESP message: a status code plus
// a short human-readable message, supplemented from original_source's
// protocol.c (spec.md lists the type but not its payload).
type ErrorResp struct {
	Status  int32
	Message string
}

func EncodeErrorResp(e ErrorResp) []byte {
	msg := []byte(e.Message)
	buf := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Status))
	copy(buf[4:], msg)
	return buf
}

func DecodeErrorResp(payload []byte) (ErrorResp, error) {
	var e ErrorResp
	if len(payload) < 4 {
		return e, xerrors.New(xerrors.KindMessageIncomplete, "error resp payload too short")
	}
	e.Status = int32(binary.BigEndian.Uint32(payload[0:4]))
	e.Message = string(payload[4:])
	return e, nil
}
