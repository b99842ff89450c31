package main

import (
	"net"
	"strconv"
	"sync"

	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/types"
)

// connPool caches one outbound nodecomm.Connection per replica
// address, dialing lazily and redialing after a send fails. This is
// the Go-idiomatic stand-in for the original's per-node persistent
// socket table (original_source/src/network/xsan_node_comm.c keeps
// one fd per known peer).
type connPool struct {
	comm *nodecomm.Layer

	mu    sync.Mutex
	conns map[string]*nodecomm.Connection
}

func newConnPool(comm *nodecomm.Layer) *connPool {
	return &connPool{comm: comm, conns: make(map[string]*nodecomm.Connection)}
}

func replicaKey(r types.ReplicaLocation) string {
	return net.JoinHostPort(r.IP, strconv.Itoa(int(r.Port)))
}

func (p *connPool) get(r types.ReplicaLocation) (*nodecomm.Connection, error) {
	key := replicaKey(r)

	p.mu.Lock()
	conn, ok := p.conns[key]
	p.mu.Unlock()
	if ok {
		return conn, nil
	}

	conn, err := p.comm.Connect(r.IP, r.Port)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[key] = conn
	p.mu.Unlock()
	return conn, nil
}

func (p *connPool) drop(r types.ReplicaLocation) {
	p.mu.Lock()
	delete(p.conns, replicaKey(r))
	p.mu.Unlock()
}
