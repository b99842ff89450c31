package replication

import (
	"github.com/aivoyager8/xsan/internal/metrics"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/xerrors"
)

// ReadCompletionFunc is the user callback for a replicated read. It
// fires exactly once, with the data already copied into the caller's
// buffer on success (spec.md §4.7).
type ReadCompletionFunc func(status error)

// LocalReadFunc submits a local read via the I/O pipeline into userBuf.
type LocalReadFunc func(userBuf []byte, done func(status error))

// RemoteReadFunc sends a REPLICA_READ_BLOCK_REQ to a replica and
// blocks the calling goroutine until the response arrives (or the
// attempt fails), copying data into userBuf on success. This
// differs from the write path's fire-and-forget send because read
// failover needs each attempt's outcome before trying the next index.
type RemoteReadFunc func(replica types.ReplicaLocation, volumeID [16]byte, blockLBA uint64, numBlocks uint32, userBuf []byte) error

// Read drives spec.md §4.7's sequential index-ordered failover: try
// replica 0 (always local), then 1, 2, ... until one succeeds or every
// replica has been tried.
func Read(
	vol *types.Volume,
	blockLBA uint64,
	numBlocks uint32,
	userBuf []byte,
	localRead LocalReadFunc,
	remoteRead RemoteReadFunc,
	done ReadCompletionFunc,
) {
	replicas := vol.Replicas
	if len(replicas) == 0 {
		localRead(userBuf, done)
		return
	}

	var lastErr error
	for i := 0; i < len(replicas); i++ {
		if i > 0 {
			metrics.ReplicaReadFailoversTotal.Inc()
		}
		if replicas[i].State != types.ReplicaStateOnline {
			lastErr = xerrors.Newf(xerrors.KindReplicaNotFound, "replica %d is not online", i)
			continue
		}

		var attemptErr error
		if i == 0 {
			errc := make(chan error, 1)
			localRead(userBuf, func(status error) { errc <- status })
			attemptErr = <-errc
		} else {
			attemptErr = remoteRead(replicas[i], vol.ID, blockLBA, numBlocks, userBuf)
		}

		if attemptErr == nil {
			done(nil)
			return
		}
		lastErr = attemptErr
	}

	done(lastErr)
}
