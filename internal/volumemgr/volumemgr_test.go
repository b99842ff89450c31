package volumemgr

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aivoyager8/xsan/internal/bdev"
	"github.com/aivoyager8/xsan/internal/diskmgr"
	"github.com/aivoyager8/xsan/internal/metastore"
	"github.com/aivoyager8/xsan/internal/nodecomm"
	"github.com/aivoyager8/xsan/internal/replication"
	"github.com/aivoyager8/xsan/internal/types"
)

type testEnv struct {
	store *metastore.Store
	bdevs *bdev.Layer
	disks *diskmgr.Manager
	vols  *Manager
	group *types.DiskGroup
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := metastore.Open(filepath.Join(t.TempDir(), "xsan.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	layer := bdev.NewLayer()
	layer.Register(bdev.NewMemDevice("disk0", 4096, 4096))

	disks := diskmgr.New(store, layer)
	require.NoError(t, disks.Load())

	group, err := disks.CreateGroup(diskmgr.CreateGroupInput{
		Name:        "g1",
		Type:        types.DiskGroupTypePassthrough,
		MemberNames: []string{"disk0"},
	})
	require.NoError(t, err)

	vols := New(store, disks)
	require.NoError(t, vols.Load())

	return &testEnv{store: store, bdevs: layer, disks: disks, vols: vols, group: group}
}

func TestCreateVolumeAllocatesAndPersists(t *testing.T) {
	env := newTestEnv(t)

	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name:             "v1",
		SizeBytes:        16 * 1024 * 1024,
		GroupID:          env.group.ID,
		LogicalBlockSize: 4096,
		FTT:              0,
	})
	require.NoError(t, err)
	require.Equal(t, types.VolumeStateOnline, vol.State)
	require.Equal(t, uint32(1), vol.ReplicaCount)

	updatedGroup, err := env.disks.GetGroup(env.group.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(16*1024*1024), updatedGroup.AllocatedBytes)

	listed := env.vols.ListVolumes()
	require.Len(t, listed, 1)
	require.Equal(t, "v1", listed[0].Name)
}

func TestCreateVolumeDuplicateNameFails(t *testing.T) {
	env := newTestEnv(t)
	in := CreateVolumeInput{Name: "v1", SizeBytes: 4096, GroupID: env.group.ID, LogicalBlockSize: 4096}
	_, err := env.vols.CreateVolume(in)
	require.NoError(t, err)
	_, err = env.vols.CreateVolume(in)
	require.Error(t, err)
}

func TestCreateVolumeRejectsNonPowerOfTwoBlockSize(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 4096, GroupID: env.group.ID, LogicalBlockSize: 3000,
	})
	require.Error(t, err)
}

func TestDeleteVolumeFreesExtentsAndRemoves(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 16 * 1024 * 1024, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	require.NoError(t, env.vols.DeleteVolume(vol.ID))

	require.Empty(t, env.vols.ListVolumes())
	updatedGroup, err := env.disks.GetGroup(env.group.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(0), updatedGroup.AllocatedBytes)
}

func TestMapLBAResolvesPhysicalBlock(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 16 * 1024 * 1024, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	am, err := env.vols.AllocationMapFor(vol.ID)
	require.NoError(t, err)

	pb, err := MapLBA(env.disks, am, vol, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), pb.PhysicalBlock)
	require.Equal(t, uint32(4096), pb.PhysicalBlockSize)
}

func TestMapLBAOutOfRangeFails(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 16 * 1024 * 1024, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	am, err := env.vols.AllocationMapFor(vol.ID)
	require.NoError(t, err)

	_, err = MapLBA(env.disks, am, vol, vol.BlockCount()+1000)
	require.Error(t, err)
}

func TestReadWriteVolumeLocalOnlyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 16 * 1024 * 1024, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	rt := &Runtime{Disks: env.disks, Bdevs: env.bdevs, Repl: replication.NewCoordinator(nodecomm.NewLayer())}

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i % 251)
	}

	writeErrc := make(chan error, 1)
	env.vols.WriteVolume(rt, vol.ID, 0, 4096, want, func(status error) { writeErrc <- status })
	require.NoError(t, <-writeErrc)

	got := make([]byte, 4096)
	readErrc := make(chan error, 1)
	env.vols.ReadVolume(rt, vol.ID, 0, 4096, got, func(status error) { readErrc <- status })
	require.NoError(t, <-readErrc)
	require.Equal(t, want, got)
}

func TestReadVolumeValidatesRange(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 4096, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	rt := &Runtime{Disks: env.disks, Bdevs: env.bdevs}
	errc := make(chan error, 1)
	env.vols.ReadVolume(rt, vol.ID, 100, 4096, make([]byte, 4096), func(status error) { errc <- status })
	require.Error(t, <-errc)
}

func TestLocalWriteThenLocalReadRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	vol, err := env.vols.CreateVolume(CreateVolumeInput{
		Name: "v1", SizeBytes: 16 * 1024 * 1024, GroupID: env.group.ID, LogicalBlockSize: 4096,
	})
	require.NoError(t, err)

	rt := &Runtime{Disks: env.disks, Bdevs: env.bdevs}

	want := make([]byte, 4096)
	for i := range want {
		want[i] = byte(i % 137)
	}

	writeErrc := make(chan error, 1)
	env.vols.LocalWrite(rt, vol.ID, 0, 4096, want, func(status error) { writeErrc <- status })
	require.NoError(t, <-writeErrc)

	got := make([]byte, 4096)
	readErrc := make(chan error, 1)
	env.vols.LocalRead(rt, vol.ID, 0, 4096, got, func(status error) { readErrc <- status })
	require.NoError(t, <-readErrc)
	require.Equal(t, want, got)
}

func TestGetVolumeNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.vols.GetVolume(uuid.New())
	require.Error(t, err)
}
