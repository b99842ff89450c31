package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/xerrors"
)

func TestHeaderRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{"zero values", Header{Magic: Magic, Version: Version}},
		{"heartbeat", NewHeader(TypeHeartbeat, 1, 0)},
		{"replica write with payload", NewHeader(TypeReplicaWriteBlockReq, 0xDEADBEEF, 4096)},
		{"max txn id and payload", Header{Magic: Magic, Type: TypeReplicaReadBlockResp, Version: Version, PayloadLength: MaxPayloadSize, TransactionID: ^uint64(0), Checksum: 0xFFFFFFFF}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.header.Serialize()
			require.Len(t, buf, HeaderSize)

			got, err := DeserializeHeader(buf)
			require.NoError(t, err)
			require.Equal(t, tc.header, got)
		})
	}
}

func TestDeserializeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DeserializeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)
}

func TestDeserializeHeaderRejectsOversizedPayload(t *testing.T) {
	h := NewHeader(TypeHeartbeat, 1, MaxPayloadSize+1)
	_, err := DeserializeHeader(h.Serialize())
	require.Error(t, err)
	require.Equal(t, xerrors.KindPayloadTooLarge, xerrors.KindOf(err))
}

func TestDeserializeHeaderRejectsMagicMismatch(t *testing.T) {
	buf := NewHeader(TypeHeartbeat, 1, 0).Serialize()
	buf[0] ^= 0xFF // corrupt the magic's leading byte

	_, err := DeserializeHeader(buf)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.KindMagicMismatch))
	require.Equal(t, xerrors.KindMagicMismatch, xerrors.KindOf(err))
}

func TestVerifyChecksumZeroDisablesVerification(t *testing.T) {
	m := Message{
		Header:  NewHeader(TypeHeartbeat, 1, 3),
		Payload: []byte("abc"),
	}
	require.Equal(t, uint32(0), m.Header.Checksum)
	require.True(t, m.VerifyChecksum())
}

func TestVerifyChecksumValidComputedValue(t *testing.T) {
	m := NewMessage(TypeHeartbeat, 1, []byte("abc"))
	require.NotZero(t, m.Header.Checksum)
	require.True(t, m.VerifyChecksum())
}

func TestVerifyChecksumRejectsCorruptedPayload(t *testing.T) {
	m := NewMessage(TypeReplicaWriteBlockReq, 7, []byte("original payload"))
	m.Payload = []byte("tampered payload")
	require.False(t, m.VerifyChecksum())
}

func TestVerifyChecksumRejectsWrongNonzeroChecksum(t *testing.T) {
	m := NewMessage(TypeHeartbeat, 1, []byte("abc"))
	m.Header.Checksum++
	require.False(t, m.VerifyChecksum())
}

func TestMessageSerializeThenDeserializeRoundTrip(t *testing.T) {
	m := NewMessage(TypeReplicaReadBlockReq, 99, []byte("payload bytes"))
	frame := m.Serialize()
	require.Len(t, frame, HeaderSize+len(m.Payload))

	gotHeader, err := DeserializeHeader(frame[:HeaderSize])
	require.NoError(t, err)
	require.Equal(t, m.Header, gotHeader)

	gotPayload := frame[HeaderSize:]
	require.Equal(t, m.Payload, gotPayload)

	got := Message{Header: gotHeader, Payload: gotPayload}
	require.True(t, got.VerifyChecksum())
}
