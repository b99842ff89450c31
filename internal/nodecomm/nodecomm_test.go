package nodecomm

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/wire"
)

func TestListenConnectRoundTrip(t *testing.T) {
	server := NewLayer()
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()

	received := make(chan wire.Message, 1)
	server.SetGenericHandler(func(conn *Connection, msg wire.Message) {
		received <- msg
	})

	client := NewLayer()
	defer client.Close()

	host, portStr, err := splitHostPort(addr)
	require.NoError(t, err)

	conn, err := client.Connect(host, portStr)
	require.NoError(t, err)

	msg := wire.NewMessage(wire.TypeHeartbeat, 42, []byte("payload"))
	require.NoError(t, conn.Send(msg))

	select {
	case got := <-received:
		require.Equal(t, wire.TypeHeartbeat, got.Header.Type)
		require.Equal(t, uint64(42), got.Header.TransactionID)
		require.Equal(t, []byte("payload"), got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRegisterMessageHandlerTakesPriorityOverFallback(t *testing.T) {
	server := NewLayer()
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()

	specific := make(chan wire.Message, 1)
	server.RegisterMessageHandler(wire.TypeReplicaWriteBlockReq, func(conn *Connection, msg wire.Message) {
		specific <- msg
	})
	server.SetGenericHandler(func(conn *Connection, msg wire.Message) {
		t.Fatal("fallback should not be called when a specific handler is registered")
	})

	client := NewLayer()
	defer client.Close()
	host, portStr, err := splitHostPort(addr)
	require.NoError(t, err)
	conn, err := client.Connect(host, portStr)
	require.NoError(t, err)

	require.NoError(t, conn.Send(wire.NewMessage(wire.TypeReplicaWriteBlockReq, 1, []byte("x"))))

	select {
	case <-specific:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for specific handler")
	}
}

func TestSendRejectsConcurrentOutstandingSend(t *testing.T) {
	server := NewLayer()
	require.NoError(t, server.Listen("127.0.0.1:0"))
	addr := server.listener.Addr().String()
	defer server.Close()
	server.SetGenericHandler(func(conn *Connection, msg wire.Message) {})

	client := NewLayer()
	defer client.Close()
	host, portStr, err := splitHostPort(addr)
	require.NoError(t, err)
	conn, err := client.Connect(host, portStr)
	require.NoError(t, err)

	conn.sendMu.Lock()
	conn.sending = true
	conn.sendMu.Unlock()

	err = conn.Send(wire.NewMessage(wire.TypeHeartbeat, 1, nil))
	require.Error(t, err)
}

func splitHostPort(addr string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}
