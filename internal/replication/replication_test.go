package replication

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/types"
	"github.com/aivoyager8/xsan/internal/wire"
)

func newLinkedCoordinators(t *testing.T) (primaryComm, replicaComm *nodecomm.Layer, primary, replica *Coordinator) {
	t.Helper()

	replicaComm = nodecomm.NewLayer()
	require.NoError(t, replicaComm.Listen("127.0.0.1:0"))
	t.Cleanup(func() { replicaComm.Close() })

	primaryComm = nodecomm.NewLayer()
	t.Cleanup(func() { primaryComm.Close() })

	primary = NewCoordinator(primaryComm)
	replica = NewCoordinator(replicaComm)
	return
}

func TestStartWriteAllReplicasSucceed(t *testing.T) {
	primaryComm, replicaComm, primary, _ := newLinkedCoordinators(t)
	host, port, err := replicaComm.ListenAddr()
	require.NoError(t, err)

	replicaComm.RegisterMessageHandler(wire.TypeReplicaWriteBlockReq, func(conn *nodecomm.Connection, msg wire.Message) {
		req, _, err := wire.DecodeReplicaWriteReq(msg.Payload)
		require.NoError(t, err)
		resp := wire.EncodeReplicaWriteResp(wire.ReplicaWriteResp{
			Status:             0,
			BlockLBAOnVol:      req.BlockLBAOnVol,
			NumBlocksProcessed: req.NumBlocks,
		})
		require.NoError(t, conn.Send(wire.NewMessage(wire.TypeReplicaWriteBlockResp, msg.Header.TransactionID, resp)))
	})

	conn, err := primaryComm.Connect(host, port)
	require.NoError(t, err)

	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{NodeID: uuid.New(), State: types.ReplicaStateOnline},
			{NodeID: uuid.New(), IP: host, Port: port, State: types.ReplicaStateOnline},
		},
	}

	done := make(chan error, 1)
	primary.StartWrite(vol, 0, 1, []byte("data"),
		func(cb func(status error)) { cb(nil) },
		func(replica types.ReplicaLocation, msg wire.Message) error {
			return conn.Send(msg)
		},
		func(status error) { done <- status },
	)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}
}

func TestStartWriteOneReplicaFailsYieldsError(t *testing.T) {
	_, _, primary, _ := newLinkedCoordinators(t)

	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{NodeID: uuid.New(), State: types.ReplicaStateOnline},
			{NodeID: uuid.New(), State: types.ReplicaStateOffline},
		},
	}

	done := make(chan error, 1)
	primary.StartWrite(vol, 0, 1, []byte("data"),
		func(cb func(status error)) { cb(nil) },
		func(replica types.ReplicaLocation, msg wire.Message) error {
			return require.AnError
		},
		func(status error) { done <- status },
	)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}
}

func TestStartWriteLocalFailureYieldsError(t *testing.T) {
	_, _, primary, _ := newLinkedCoordinators(t)

	vol := &types.Volume{ID: uuid.New()}

	done := make(chan error, 1)
	primary.StartWrite(vol, 0, 1, []byte("data"),
		func(cb func(status error)) { cb(require.AnError) },
		func(replica types.ReplicaLocation, msg wire.Message) error { return nil },
		func(status error) { done <- status },
	)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}
}
