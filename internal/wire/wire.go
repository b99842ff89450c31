// Package wire implements the XSAN node-communication wire protocol:
// a fixed 24-byte big-endian header followed by an opaque payload, per
// spec.md §4.9.
package wire

import (
	"encoding/binary"

	"github.com/aivoyager8/xsan/internal/xerrors"
)

// Magic identifies an XSAN protocol frame ("XSAN" in ASCII).
const Magic uint32 = 0x5853414E

// Version is the current wire protocol version.
const Version uint16 = 1

// HeaderSize is the fixed, on-wire size of Header in bytes.
const HeaderSize = 24

// MaxPayloadSize is the protocol-level ceiling on payload length (16 MiB).
const MaxPayloadSize = 16 * 1024 * 1024

// Message type registry (spec.md §4.9), the subset the storage core
// implements plus the heartbeat/error types supplemented from
// original_source/src/include/xsan_protocol.h.
const (
	TypeHeartbeat    uint16 = 1
	TypeHeartbeatAck uint16 = 2

	TypeReplicaWriteBlockReq  uint16 = 600
	TypeReplicaWriteBlockResp uint16 = 601
	TypeReplicaReadBlockReq   uint16 = 602
	TypeReplicaReadBlockResp  uint16 = 603

	TypeErrorResp uint16 = 500
)

// Header is the fixed 24-byte frame header.
type Header struct {
	Magic         uint32
	Type          uint16
	Version       uint16
	PayloadLength uint32
	TransactionID uint64
	Checksum      uint32
}

// NewHeader builds a header for msgType/payload with Version and
// PayloadLength filled in; Checksum is left at 0 (caller fills it via
// SetChecksum once the payload bytes are known).
func NewHeader(msgType uint16, txnID uint64, payloadLen uint32) Header {
	return Header{
		Magic:         Magic,
		Type:          msgType,
		Version:       Version,
		PayloadLength: payloadLen,
		TransactionID: txnID,
	}
}

// Serialize encodes h into a freshly allocated 24-byte big-endian buffer.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Type)
	binary.BigEndian.PutUint16(buf[6:8], h.Version)
	binary.BigEndian.PutUint32(buf[8:12], h.PayloadLength)
	binary.BigEndian.PutUint64(buf[12:20], h.TransactionID)
	binary.BigEndian.PutUint32(buf[20:24], h.Checksum)
	return buf
}

// DeserializeHeader decodes a 24-byte buffer into a Header. It validates
// the magic number and the payload-length ceiling, returning a
// protocol-family *xerrors.Error on violation.
func DeserializeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, xerrors.New(xerrors.KindMessageIncomplete, "header buffer too short")
	}
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	if h.Magic != Magic {
		return h, xerrors.Newf(xerrors.KindMagicMismatch, "bad magic 0x%08x", h.Magic)
	}
	h.Type = binary.BigEndian.Uint16(buf[4:6])
	h.Version = binary.BigEndian.Uint16(buf[6:8])
	h.PayloadLength = binary.BigEndian.Uint32(buf[8:12])
	h.TransactionID = binary.BigEndian.Uint64(buf[12:20])
	h.Checksum = binary.BigEndian.Uint32(buf[20:24])
	if h.PayloadLength > MaxPayloadSize {
		return h, xerrors.Newf(xerrors.KindPayloadTooLarge, "payload length %d exceeds max %d", h.PayloadLength, MaxPayloadSize)
	}
	return h, nil
}

// Message is a decoded (header, payload) pair.
type Message struct {
	Header  Header
	Payload []byte
}

// computeChecksum sums payload bytes over (header-with-checksum-zeroed
// || payload) as an unsigned modular byte sum — the "simple placeholder"
// algorithm spec.md §4.9 calls for, kept bit-compatible with the
// checksum-zero-disables-verification convention.
func computeChecksum(h Header, payload []byte) uint32 {
	h.Checksum = 0
	var sum uint32
	for _, b := range h.Serialize() {
		sum += uint32(b)
	}
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum
}

// SetChecksum computes and stores the checksum for (m.Header, m.Payload).
func (m *Message) SetChecksum() {
	m.Header.Checksum = computeChecksum(m.Header, m.Payload)
}

// VerifyChecksum reports whether m's checksum is valid: true if the
// header carries Checksum == 0 ("checksum disabled") or if it matches
// the computed value over the zeroed-checksum header plus payload.
func (m Message) VerifyChecksum() bool {
	if m.Header.Checksum == 0 {
		return true
	}
	return m.Header.Checksum == computeChecksum(m.Header, m.Payload)
}

// NewMessage builds a Message with a freshly computed checksum.
func NewMessage(msgType uint16, txnID uint64, payload []byte) Message {
	m := Message{
		Header:  NewHeader(msgType, txnID, uint32(len(payload))),
		Payload: payload,
	}
	m.SetChecksum()
	return m
}

// Serialize encodes the full frame (header + payload) for writing to a
// connection.
func (m Message) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize+len(m.Payload))
	buf = append(buf, m.Header.Serialize()...)
	buf = append(buf, m.Payload...)
	return buf
}
