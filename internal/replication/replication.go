// Package replication implements the N-way synchronous replication
// coordinators for writes (spec.md §4.6) and reads (spec.md §4.7):
// fan-out with an all-replicas-must-succeed quorum rule for writes,
// and sequential index-ordered failover for reads. Correlation of
// remote replies to in-flight contexts is by wire transaction id.
package replication

import (
	"sync"
	"sync/atomic"

	"github.com/aivoyager8/xsan/internal/log"
	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/wire"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// WriteCompletionFunc is the user callback for a replicated write. It
// fires exactly once (spec.md §4.6).
type WriteCompletionFunc func(status error)

// LocalWriteFunc submits the local I/O-pipeline write and reports its
// outcome; callers wire this to ioreq.SubmitToBdev via volumemgr.
type LocalWriteFunc func(done func(status error))

// RemoteSendFunc sends a REPLICA_WRITE_BLOCK_REQ to a replica and
// returns immediately; the eventual response is delivered later via
// Coordinator.HandleResponse through the Layer's registered handler.
type RemoteSendFunc func(replica types.ReplicaLocation, msg wire.Message) error

// WriteContext is the shared context for one replicated write
// (spec.md §4.6): fan-out bookkeeping plus the single-fire callback.
type WriteContext struct {
	TransactionID uint64

	totalTargeted int32
	outstanding   int32
	successes     int32
	failures      int32

	once sync.Once
	done WriteCompletionFunc
}

// txnRegistry correlates in-flight transaction ids to their
// WriteContext, per spec.md §4.6's "primary's receive handler looks up
// the shared context by transaction id (via a per-node-comm map)."
type txnRegistry struct {
	mu    sync.Mutex
	txns  map[uint64]*WriteContext
	nextID uint64
}

// Coordinator drives replicated writes and reads for one node.
type Coordinator struct {
	comm *nodecomm.Layer
	reg  txnRegistry
}

// NewCoordinator wires a Coordinator to the node comm layer and
// registers its response handlers.
func NewCoordinator(comm *nodecomm.Layer) *Coordinator {
	c := &Coordinator{comm: comm}
	c.reg.txns = make(map[uint64]*WriteContext)
	comm.RegisterMessageHandler(wire.TypeReplicaWriteBlockResp, c.handleWriteResp)
	return c
}

// NextTransactionID mints a monotonic per-node transaction id.
func (c *Coordinator) NextTransactionID() uint64 {
	return atomic.AddUint64(&c.reg.nextID, 1)
}

// StartWrite constructs a WriteContext, submits the local write, and
// fans out REPLICA_WRITE_BLOCK_REQ to every remote replica (spec.md
// §4.6). done fires exactly once.
func (c *Coordinator) StartWrite(
	vol *types.Volume,
	blockLBA uint64,
	numBlocks uint32,
	data []byte,
	localWrite LocalWriteFunc,
	send RemoteSendFunc,
	done WriteCompletionFunc,
) {
	total := int32(len(vol.Replicas))
	if total == 0 {
		total = 1 // at minimum the local replica
	}

	ctx := &WriteContext{
		TransactionID: c.NextTransactionID(),
		totalTargeted: total,
		outstanding:   total,
		done:          done,
	}

	if total > 1 {
		c.reg.mu.Lock()
		c.reg.txns[ctx.TransactionID] = ctx
		c.reg.mu.Unlock()
	}

	localWrite(func(status error) {
		ctx.reportSubResult(status)
	})

	for i := 1; i < len(vol.Replicas); i++ {
		replica := vol.Replicas[i]
		payload := wire.EncodeReplicaWriteReq(wire.ReplicaWriteReq{
			VolumeID:      vol.ID,
			BlockLBAOnVol: blockLBA,
			NumBlocks:     numBlocks,
		}, data)
		msg := wire.NewMessage(wire.TypeReplicaWriteBlockReq, ctx.TransactionID, payload)
		if err := send(replica, msg); err != nil {
			// spec.md §4.6: "If the outbound connect or send fails
			// before a response can arrive, that replica's
			// sub-operation is counted as failed immediately."
			ctx.reportSubResult(err)
		}
	}
}

// reportSubResult is the shared completion hook used by both the
// local write callback and the remote response handler (spec.md
// §4.6's "local completion hook").
func (ctx *WriteContext) reportSubResult(status error) {
	if status == nil {
		atomic.AddInt32(&ctx.successes, 1)
	} else {
		atomic.AddInt32(&ctx.failures, 1)
	}

	if atomic.AddInt32(&ctx.outstanding, -1) != 0 {
		return
	}

	ctx.once.Do(func() {
		var finalErr error
		if atomic.LoadInt32(&ctx.successes) != ctx.totalTargeted {
			finalErr = xerrors.Newf(xerrors.KindSyncFailed,
				"replicated write failed: %d/%d replicas succeeded", ctx.successes, ctx.totalTargeted)
			metrics.ReplicaWritesTotal.WithLabelValues("failure").Inc()
		} else {
			metrics.ReplicaWritesTotal.WithLabelValues("success").Inc()
		}
		ctx.done(finalErr)
	})
}

// handleWriteResp is registered on the node comm layer and correlates
// an incoming REPLICA_WRITE_BLOCK_RESP back to its WriteContext by
// transaction id.
func (c *Coordinator) handleWriteResp(conn *nodecomm.Connection, msg wire.Message) {
	resp, err := wire.DecodeReplicaWriteResp(msg.Payload)

	c.reg.mu.Lock()
	ctx, ok := c.reg.txns[msg.Header.TransactionID]
	if ok {
		delete(c.reg.txns, msg.Header.TransactionID)
	}
	c.reg.mu.Unlock()

	if !ok {
		log.WithComponent("replication").Warn().
			Uint64("txn_id", msg.Header.TransactionID).
			Msg("received replica write response for unknown transaction")
		return
	}

	if err != nil {
		ctx.reportSubResult(err)
		return
	}
	if resp.Status != 0 {
		ctx.reportSubResult(xerrors.Newf(xerrors.KindSyncFailed, "replica reported status %d", resp.Status))
		return
	}
	ctx.reportSubResult(nil)
}
