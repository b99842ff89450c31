// Package nodecomm is the node communication layer (spec.md §4.8):
// connection lifecycle, length-prefixed framed message reassembly, and
// per-message-type handler dispatch, grounded on
// original_source/src/network/xsan_node_comm.c's connect/send/receive
// shape and reinterpreted as goroutine-per-connection Go rather than a
// poller callback, since the reactor's socket-group poll loop is the
// one piece of the substrate idiomatic Go has a direct, better-known
// equivalent for (net.Conn read loops).
package nodecomm

import (
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/wire"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// maxReceiveBuffer is the protocol-max receive buffer ceiling (spec.md
// §4.8 step 1): header size plus one max payload, with slack for a
// second in-flight header.
const maxReceiveBuffer = wire.HeaderSize*2 + wire.MaxPayloadSize

// MessageHandler processes one fully reassembled message. It takes
// ownership of msg.
type MessageHandler func(conn *Connection, msg wire.Message)

// GenericHandler is the fallback for message types with no specific
// registration.
type GenericHandler func(conn *Connection, msg wire.Message)

// Layer is the node communication singleton. One Layer owns a
// listener (optional) and the set of active connections.
type Layer struct {
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[uint16]MessageHandler
	fallback GenericHandler
	conns    map[*Connection]struct{}

	listener net.Listener
}

// NewLayer constructs a Layer with no listener yet.
func NewLayer() *Layer {
	return &Layer{
		logger:   log.WithComponent("nodecomm"),
		handlers: make(map[uint16]MessageHandler),
		conns:    make(map[*Connection]struct{}),
	}
}

// SetGenericHandler installs the fallback handler used when no
// type-specific handler is registered (spec.md §4.8 step 5).
func (l *Layer) SetGenericHandler(fn GenericHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fallback = fn
}

// RegisterMessageHandler installs a handler for a specific message
// type, overwriting any prior registration (spec.md §4.8).
func (l *Layer) RegisterMessageHandler(msgType uint16, fn MessageHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[msgType] = fn
}

// Listen starts accepting inbound connections on addr ("ip:port"). It
// spawns one goroutine for the accept loop and one per accepted
// connection's receive loop.
func (l *Layer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrap(xerrors.KindAddressInUse, "listen on "+addr, err)
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	go l.acceptLoop(ln)
	return nil
}

// ListenAddr returns the host and port the layer is currently
// listening on. Useful for tests that bind to port 0.
func (l *Layer) ListenAddr() (string, uint16, error) {
	l.mu.Lock()
	ln := l.listener
	l.mu.Unlock()
	if ln == nil {
		return "", 0, xerrors.New(xerrors.KindInvalidParam, "layer is not listening")
	}
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}

func (l *Layer) acceptLoop(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		conn := l.adopt(c)
		go l.receiveLoop(conn)
	}
}

// Close shuts down the listener and every active connection.
func (l *Layer) Close() error {
	l.mu.Lock()
	ln := l.listener
	conns := make([]*Connection, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return nil
}

// Connect dials a remote node and registers the resulting connection,
// matching spec.md §4.8's outbound connect plus immediate connection
// context allocation.
func (l *Layer) Connect(ip string, port uint16) (*Connection, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(int(port)))
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindConnectionRefused, "connect to "+addr, err)
	}
	conn := l.adopt(c)
	go l.receiveLoop(conn)
	return conn, nil
}

func (l *Layer) adopt(c net.Conn) *Connection {
	conn := newConnection(c)
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()
	return conn
}

func (l *Layer) drop(conn *Connection) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
	conn.Close()
}

// receiveLoop implements spec.md §4.8's receive loop as a blocking
// read-and-reassemble goroutine instead of a poller tick, since Go's
// net.Conn already blocks the calling goroutine rather than the whole
// process.
func (l *Layer) receiveLoop(conn *Connection) {
	defer l.drop(conn)

	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 64*1024)

	for {
		n, err := conn.raw.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > maxReceiveBuffer {
				l.logger.Warn().Str("peer", conn.PeerAddr()).Msg("receive buffer ceiling exceeded, closing connection")
				return
			}

			for {
				msg, rest, ok, perr := tryParseMessage(buf)
				if perr != nil {
					l.logger.Warn().Err(perr).Str("peer", conn.PeerAddr()).Msg("framing error, closing connection")
					return
				}
				if !ok {
					break
				}
				buf = rest
				l.dispatch(conn, msg)
			}
		}
		if err != nil {
			return
		}
	}
}

// tryParseMessage attempts to parse one message off the front of buf,
// per spec.md §4.8 steps 3-4. It returns ok=false when more bytes are
// needed, and leaves buf untouched in that case.
func tryParseMessage(buf []byte) (msg wire.Message, rest []byte, ok bool, err error) {
	if len(buf) < wire.HeaderSize {
		return wire.Message{}, buf, false, nil
	}
	header, err := wire.DeserializeHeader(buf[:wire.HeaderSize])
	if err != nil {
		return wire.Message{}, buf, false, err
	}
	total := wire.HeaderSize + int(header.PayloadLength)
	if len(buf) < total {
		return wire.Message{}, buf, false, nil
	}
	payload := append([]byte(nil), buf[wire.HeaderSize:total]...)
	return wire.Message{Header: header, Payload: payload}, buf[total:], true, nil
}

func (l *Layer) dispatch(conn *Connection, msg wire.Message) {
	l.mu.Lock()
	handler, ok := l.handlers[msg.Header.Type]
	fallback := l.fallback
	l.mu.Unlock()

	if ok {
		handler(conn, msg)
		return
	}
	if fallback != nil {
		fallback(conn, msg)
	}
}
