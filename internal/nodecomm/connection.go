package nodecomm

import (
	"net"
	"sync"

	"github.com/aivoyager8/xsan/internal/wire"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// Connection is the per-socket connection context of spec.md §3/§4.8:
// allocated the moment a socket is first associated with this module,
// freed on disconnect.
type Connection struct {
	raw      net.Conn
	peerAddr string

	sendMu  sync.Mutex
	sending bool
}

func newConnection(c net.Conn) *Connection {
	return &Connection{raw: c, peerAddr: c.RemoteAddr().String()}
}

// PeerAddr returns the string representation of the peer's address.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// Close closes the underlying socket.
func (c *Connection) Close() error { return c.raw.Close() }

// Send implements spec.md §4.8's send_msg: serialize the header,
// checksum, and issue a single write of [header, payload]. Only one
// outstanding send is allowed per connection; a concurrent second call
// returns resource-busy (KindVolumeBusy) instead of interleaving
// writes on the socket.
func (c *Connection) Send(msg wire.Message) error {
	c.sendMu.Lock()
	if c.sending {
		c.sendMu.Unlock()
		return xerrors.New(xerrors.KindVolumeBusy, "connection already has an outstanding send")
	}
	c.sending = true
	c.sendMu.Unlock()

	defer func() {
		c.sendMu.Lock()
		c.sending = false
		c.sendMu.Unlock()
	}()

	msg.Header.PayloadLength = uint32(len(msg.Payload))
	m := wire.Message{Header: msg.Header, Payload: msg.Payload}
	m.SetChecksum()

	frame := m.Serialize()
	if _, err := c.raw.Write(frame); err != nil {
		return xerrors.Wrap(xerrors.KindConnectionLost, "send message", err)
	}
	return nil
}
