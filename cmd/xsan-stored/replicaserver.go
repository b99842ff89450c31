package main

import (
	"sync"

	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/replication"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/volumemgr"
	"github.com/aivoyager8/xsan/internal/wire"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// readResult bundles a decoded REPLICA_READ_BLOCK_RESP with its
// trailing data blocks for delivery across the wait channel.
type readResult struct {
	resp wire.ReplicaReadResp
	data []byte
}

// replicaServer answers incoming REPLICA_WRITE_BLOCK_REQ and
// REPLICA_READ_BLOCK_REQ messages from a peer acting as this volume's
// primary (spec.md §4.6/§4.7's receiving side), and correlates this
// node's own outbound REPLICA_READ_BLOCK_REQ calls to their responses
// the way replication.Coordinator already does for writes.
type replicaServer struct {
	vols *volumemgr.Manager
	rt   *volumemgr.Runtime
	pool *connPool
	repl *replication.Coordinator

	mu        sync.Mutex
	readWaits map[uint64]chan readResult
}

func newReplicaServer(comm *nodecomm.Layer, vols *volumemgr.Manager, rt *volumemgr.Runtime, pool *connPool, repl *replication.Coordinator) *replicaServer {
	s := &replicaServer{
		vols:      vols,
		rt:        rt,
		pool:      pool,
		repl:      repl,
		readWaits: make(map[uint64]chan readResult),
	}
	comm.RegisterMessageHandler(wire.TypeReplicaWriteBlockReq, s.handleWriteReq)
	comm.RegisterMessageHandler(wire.TypeReplicaReadBlockReq, s.handleReadReq)
	comm.RegisterMessageHandler(wire.TypeReplicaReadBlockResp, s.handleReadResp)
	return s
}

// handleWriteReq services an inbound write fan-out from the volume's
// primary: write the replica's own copy locally and report back.
func (s *replicaServer) handleWriteReq(conn *nodecomm.Connection, msg wire.Message) {
	logger := log.WithComponent("replicaserver")
	req, data, err := wire.DecodeReplicaWriteReq(msg.Payload)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed replica write request")
		return
	}

	vol, err := s.vols.GetVolume(req.VolumeID)
	if err != nil {
		s.replyWriteStatus(conn, msg.Header.TransactionID, req, 1)
		return
	}
	byteOffset := req.BlockLBAOnVol * uint64(vol.LogicalBlockSize)

	s.vols.LocalWrite(s.rt, req.VolumeID, byteOffset, uint64(len(data)), data, func(status error) {
		st := int32(0)
		if status != nil {
			st = 1
			logger.Error().Err(status).Str("volume_id", req.VolumeID.String()).Msg("local write for replica request failed")
		}
		s.replyWriteStatus(conn, msg.Header.TransactionID, req, st)
	})
}

func (s *replicaServer) replyWriteStatus(conn *nodecomm.Connection, txnID uint64, req wire.ReplicaWriteReq, status int32) {
	resp := wire.ReplicaWriteResp{Status: status, BlockLBAOnVol: req.BlockLBAOnVol, NumBlocksProcessed: req.NumBlocks}
	msg := wire.NewMessage(wire.TypeReplicaWriteBlockResp, txnID, wire.EncodeReplicaWriteResp(resp))
	if err := conn.Send(msg); err != nil {
		log.WithComponent("replicaserver").Warn().Err(err).Msg("failed to send replica write response")
	}
}

// handleReadReq services an inbound read request from a peer that
// failed over to this replica (spec.md §4.7).
func (s *replicaServer) handleReadReq(conn *nodecomm.Connection, msg wire.Message) {
	logger := log.WithComponent("replicaserver")
	req, err := wire.DecodeReplicaReadReq(msg.Payload)
	if err != nil {
		logger.Warn().Err(err).Msg("malformed replica read request")
		return
	}

	vol, err := s.vols.GetVolume(req.VolumeID)
	if err != nil {
		s.sendReadError(conn, msg.Header.TransactionID, req)
		return
	}
	length := uint64(req.NumBlocks) * uint64(vol.LogicalBlockSize)
	byteOffset := req.BlockLBAOnVol * uint64(vol.LogicalBlockSize)
	buf := make([]byte, length)

	s.vols.LocalRead(s.rt, req.VolumeID, byteOffset, length, buf, func(status error) {
		if status != nil {
			logger.Error().Err(status).Str("volume_id", req.VolumeID.String()).Msg("local read for replica request failed")
			s.sendReadError(conn, msg.Header.TransactionID, req)
			return
		}
		resp := wire.ReplicaReadResp{VolumeID: req.VolumeID, BlockLBAOnVol: req.BlockLBAOnVol, NumBlocks: req.NumBlocks}
		respMsg := wire.NewMessage(wire.TypeReplicaReadBlockResp, msg.Header.TransactionID, wire.EncodeReplicaReadResp(resp, buf))
		if err := conn.Send(respMsg); err != nil {
			logger.Warn().Err(err).Msg("failed to send replica read response")
		}
	})
}

func (s *replicaServer) sendReadError(conn *nodecomm.Connection, txnID uint64, req wire.ReplicaReadReq) {
	resp := wire.ReplicaReadResp{Status: 1, VolumeID: req.VolumeID, BlockLBAOnVol: req.BlockLBAOnVol, NumBlocks: req.NumBlocks}
	msg := wire.NewMessage(wire.TypeReplicaReadBlockResp, txnID, wire.EncodeReplicaReadResp(resp, nil))
	if err := conn.Send(msg); err != nil {
		log.WithComponent("replicaserver").Warn().Err(err).Msg("failed to send replica read error response")
	}
}

// handleReadResp delivers an inbound REPLICA_READ_BLOCK_RESP to the
// goroutine blocked in sendRead on its transaction id.
func (s *replicaServer) handleReadResp(conn *nodecomm.Connection, msg wire.Message) {
	resp, data, err := wire.DecodeReplicaReadResp(msg.Payload)
	if err != nil {
		return
	}

	s.mu.Lock()
	ch, ok := s.readWaits[msg.Header.TransactionID]
	if ok {
		delete(s.readWaits, msg.Header.TransactionID)
	}
	s.mu.Unlock()
	if ok {
		ch <- readResult{resp: resp, data: data}
	}
}

// sendRead implements replication.RemoteReadFunc (spec.md §4.7): send
// a REPLICA_READ_BLOCK_REQ and block the calling goroutine until the
// correlated response arrives. A failed send returns at once; after a
// successful send there is no timeout, and a connection that drops
// before the response arrives leaves the caller waiting.
func (s *replicaServer) sendRead(replica types.ReplicaLocation, volumeID [16]byte, blockLBA uint64, numBlocks uint32, userBuf []byte) error {
	conn, err := s.pool.get(replica)
	if err != nil {
		return err
	}

	txnID := s.repl.NextTransactionID()
	wait := make(chan readResult, 1)
	s.mu.Lock()
	s.readWaits[txnID] = wait
	s.mu.Unlock()

	payload := wire.EncodeReplicaReadReq(wire.ReplicaReadReq{VolumeID: volumeID, BlockLBAOnVol: blockLBA, NumBlocks: numBlocks})
	msg := wire.NewMessage(wire.TypeReplicaReadBlockReq, txnID, payload)
	if err := conn.Send(msg); err != nil {
		s.mu.Lock()
		delete(s.readWaits, txnID)
		s.mu.Unlock()
		s.pool.drop(replica)
		return err
	}

	result := <-wait
	if result.resp.Status != 0 {
		return xerrors.Newf(xerrors.KindReplicaNotFound, "replica %s reported read status %d", replica.IP, result.resp.Status)
	}
	if len(result.data) != len(userBuf) {
		return xerrors.New(xerrors.KindMessageIncomplete, "replica read response data length mismatch")
	}
	copy(userBuf, result.data)
	return nil
}
