package replication

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/types"
)

func TestReadNoReplicasGoesLocal(t *testing.T) {
	vol := &types.Volume{ID: uuid.New()}
	buf := make([]byte, 4)

	var gotErr error
	Read(vol, 0, 1, buf,
		func(userBuf []byte, done func(status error)) { done(nil) },
		func(types.ReplicaLocation, [16]byte, uint64, uint32, []byte) error { t.Fatal("remote should not be called"); return nil },
		func(status error) { gotErr = status },
	)
	require.NoError(t, gotErr)
}

func TestReadFailsOverToNextReplicaOnLocalFailure(t *testing.T) {
	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{State: types.ReplicaStateOnline},
			{State: types.ReplicaStateOnline},
		},
	}

	var remoteCalled bool
	var gotErr error
	Read(vol, 0, 1, make([]byte, 4),
		func(userBuf []byte, done func(status error)) { done(require.AnError) },
		func(types.ReplicaLocation, [16]byte, uint64, uint32, []byte) error {
			remoteCalled = true
			return nil
		},
		func(status error) { gotErr = status },
	)
	require.True(t, remoteCalled)
	require.NoError(t, gotErr)
}

func TestReadSkipsOfflineReplica(t *testing.T) {
	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{Port: 0, State: types.ReplicaStateOnline},
			{Port: 1, State: types.ReplicaStateOffline},
			{Port: 2, State: types.ReplicaStateOnline},
		},
	}

	// Each replica's Port doubles as its index so the attempts can be
	// told apart: the local read is index 0, remote reads record theirs.
	var triedIndexes []int
	var gotErr error
	Read(vol, 0, 1, make([]byte, 4),
		func(userBuf []byte, done func(status error)) {
			triedIndexes = append(triedIndexes, 0)
			done(require.AnError)
		},
		func(replica types.ReplicaLocation, _ [16]byte, _ uint64, _ uint32, _ []byte) error {
			triedIndexes = append(triedIndexes, int(replica.Port))
			return nil
		},
		func(status error) { gotErr = status },
	)
	require.NoError(t, gotErr)
	require.Equal(t, []int{0, 2}, triedIndexes)
}

func TestReadSkipsOfflineReplicaAtIndexZero(t *testing.T) {
	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{State: types.ReplicaStateOffline},
			{State: types.ReplicaStateOnline},
		},
	}

	var localCalled, remoteCalled bool
	var gotErr error
	Read(vol, 0, 1, make([]byte, 4),
		func(userBuf []byte, done func(status error)) {
			localCalled = true
			done(nil)
		},
		func(types.ReplicaLocation, [16]byte, uint64, uint32, []byte) error {
			remoteCalled = true
			return nil
		},
		func(status error) { gotErr = status },
	)
	require.NoError(t, gotErr)
	require.False(t, localCalled, "replica 0 is offline and must not be read from")
	require.True(t, remoteCalled, "read must fail over to replica 1")
}

func TestReadAllReplicasFailReturnsLastError(t *testing.T) {
	vol := &types.Volume{
		ID: uuid.New(),
		Replicas: []types.ReplicaLocation{
			{State: types.ReplicaStateOnline},
			{State: types.ReplicaStateOnline},
		},
	}

	var gotErr error
	Read(vol, 0, 1, make([]byte, 4),
		func(userBuf []byte, done func(status error)) { done(require.AnError) },
		func(types.ReplicaLocation, [16]byte, uint64, uint32, []byte) error { return require.AnError },
		func(status error) { gotErr = status },
	)
	require.Error(t, gotErr)
}
